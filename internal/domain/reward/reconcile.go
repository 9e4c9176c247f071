package reward

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/smartrx/smartrx/internal/platform/apierror"
	"github.com/smartrx/smartrx/internal/platform/db"
	"github.com/smartrx/smartrx/pkg/pagination"
)

// Reconciler derives balances and history by merging the transaction log and
// the conversion log at read time. Nothing it returns is stored.
type Reconciler struct {
	transactions TransactionRepository
	conversions  ConversionRepository
	badges       BadgeRepository
}

func NewReconciler(transactions TransactionRepository, conversions ConversionRepository, badges BadgeRepository) *Reconciler {
	return &Reconciler{transactions: transactions, conversions: conversions, badges: badges}
}

// Ledger is the fully merged, unpaginated view of a user's reward activity.
type Ledger struct {
	All      []LineItem
	Earned   []LineItem
	Consumed []LineItem
	View     BalanceView
}

func validateFilter(f Filter) error {
	if f.UserID <= 0 {
		return apierror.BadRequest("user id must be greater than zero")
	}
	if f.PatientID != nil && *f.PatientID <= 0 {
		return apierror.BadRequest("patient id must be greater than zero")
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return apierror.BadRequest("from must not be after to")
	}
	return nil
}

func (r *Reconciler) Ledger(ctx context.Context, f Filter) (*Ledger, error) {
	if err := validateFilter(f); err != nil {
		return nil, err
	}

	all, err := r.transactions.List(ctx, f, ClassAll)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	earned, err := r.transactions.List(ctx, f, ClassEarned)
	if err != nil {
		return nil, fmt.Errorf("list earned transactions: %w", err)
	}
	consumed, err := r.transactions.List(ctx, f, ClassConsumed)
	if err != nil {
		return nil, fmt.Errorf("list consumed transactions: %w", err)
	}
	conversions, err := r.conversions.ListByUser(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list conversions: %w", err)
	}

	l := &Ledger{
		All:      make([]LineItem, 0, len(all)+2*len(conversions)),
		Earned:   make([]LineItem, 0, len(earned)+len(conversions)),
		Consumed: make([]LineItem, 0, len(consumed)+len(conversions)),
	}

	for _, lt := range all {
		kind := KindEarned
		if lt.Consumed() {
			kind = KindConsumed
		}
		l.All = append(l.All, transactionItem(lt, kind))
	}
	for _, lt := range earned {
		l.Earned = append(l.Earned, transactionItem(lt, KindEarned))
	}
	for _, lt := range consumed {
		l.Consumed = append(l.Consumed, transactionItem(lt, KindConsumed))
	}
	for _, c := range conversions {
		in, out := conversionItems(c)
		if in != nil {
			l.All = append(l.All, *in)
			l.Earned = append(l.Earned, *in)
		}
		if out != nil {
			l.All = append(l.All, *out)
			l.Consumed = append(l.Consumed, *out)
		}
	}

	l.View = summarize(f, earned, consumed, conversions)
	l.View.TransactionCount = len(all)

	badge, err := r.latestBadge(ctx, all)
	if err != nil {
		return nil, err
	}
	l.View.Badge = badge

	return l, nil
}

func (r *Reconciler) Summary(ctx context.Context, f Filter) (*BalanceView, error) {
	l, err := r.Ledger(ctx, f)
	if err != nil {
		return nil, err
	}
	return &l.View, nil
}

func (r *Reconciler) History(ctx context.Context, q HistoryQuery) (*HistoryPage, error) {
	l, err := r.Ledger(ctx, q.Filter)
	if err != nil {
		return nil, err
	}

	var items []LineItem
	switch q.Scope {
	case ScopeAll, "":
		q.Scope = ScopeAll
		items = l.All
	case ScopeEarned:
		items = l.Earned
	case ScopeConsumed:
		items = l.Consumed
	default:
		return nil, apierror.BadRequest("invalid scope %q: must be all, earned or consumed", q.Scope)
	}

	if q.Sort.Key == "" {
		q.Sort = DefaultSort
	}
	q.Sort.Apply(items)

	if q.Page.PageSize == 0 {
		q.Page = pagination.New(q.Page.Page, 0)
	}
	return &HistoryPage{Response: pagination.Slice(items, q.Page), Scope: q.Scope}, nil
}

// latestBadge returns the badge on the newest transaction that carries one.
// A badge that has since been deleted yields nil.
func (r *Reconciler) latestBadge(ctx context.Context, txs []*LedgerTransaction) (*Badge, error) {
	var latest *LedgerTransaction
	for _, lt := range txs {
		if lt.BadgeID == nil {
			continue
		}
		if latest == nil || lt.CreatedAt.After(latest.CreatedAt) ||
			(lt.CreatedAt.Equal(latest.CreatedAt) && lt.ID > latest.ID) {
			latest = lt
		}
	}
	if latest == nil {
		return nil, nil
	}

	b, err := r.badges.GetByID(ctx, *latest.BadgeID)
	if db.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get badge %d: %w", *latest.BadgeID, err)
	}
	return b, nil
}

func transactionItem(lt *LedgerTransaction, kind Kind) LineItem {
	ruleID := lt.RewardRuleID
	item := LineItem{
		Source:          SourceTransaction,
		SourceID:        lt.ID,
		Kind:            kind,
		UserID:          lt.UserID,
		PatientID:       lt.PatientID,
		PrescriptionID:  lt.PrescriptionID,
		SmartRxMasterID: lt.SmartRxMasterID,
		RuleID:          &ruleID,
		BadgeID:         lt.BadgeID,
		RewardType:      lt.RewardType,
		Remarks:         lt.Remarks,
		CreatedAt:       lt.CreatedAt,
	}
	if lt.Rule != nil {
		item.ActivityName = lt.Rule.ActivityName
		item.Title = lt.Rule.Title
	}

	// Consumed amounts are shown as positive spend.
	amount := lt.AmountChanged
	if kind == KindConsumed {
		amount = amount.Neg()
	}
	item.Points = amount
	setPoolAmount(&item, lt.RewardType, kind, amount)
	return item
}

func setPoolAmount(item *LineItem, pool PointType, kind Kind, amount decimal.Decimal) {
	switch {
	case pool == PointNoncashable && kind == KindEarned:
		item.EarnedNoncashable = amount
	case pool == PointNoncashable:
		item.ConsumedNoncashable = amount
	case pool == PointCashable && kind == KindEarned:
		item.EarnedCashable = amount
	case pool == PointCashable:
		item.ConsumedCashable = amount
	case pool == PointMoney && kind == KindEarned:
		item.EarnedMoney = amount
	case pool == PointMoney:
		item.ConsumedMoney = amount
	}
}

// conversionItems projects a conversion into its synthetic rows: an earned
// row on the destination side and a consumed row on the source side. Money is
// never a side of its own; movements into or out of it are recorded on the
// point-side row instead.
func conversionItems(c *Conversion) (in, out *LineItem) {
	from, to, rate := c.FromType, c.ToType, c.Rate
	base := LineItem{
		Source:    SourceConversion,
		SourceID:  c.ID,
		UserID:    c.UserID,
		Title:     fmt.Sprintf("Converted %s to %s", from, to),
		FromType:  &from,
		ToType:    &to,
		Rate:      &rate,
		CreatedAt: c.CreatedAt,
	}

	if to == PointNoncashable || to == PointCashable {
		item := base
		item.Kind = KindEarned
		item.RewardType = to
		item.Points = c.ConvertedPoints
		setPoolAmount(&item, to, KindEarned, c.ConvertedPoints)
		if from == PointMoney {
			item.EncashedMoney = c.Amount
		}
		in = &item
	}
	if from == PointNoncashable || from == PointCashable {
		item := base
		item.Kind = KindConsumed
		item.RewardType = from
		item.Points = c.Amount
		setPoolAmount(&item, from, KindConsumed, c.Amount)
		if to == PointMoney {
			item.ConvertedCashableToMoney = c.ConvertedPoints
		}
		out = &item
	}
	return in, out
}

// summarize totals the unpaginated logs. For every pool
// net = earned - consumed + converted_in - converted_out.
func summarize(f Filter, earned, consumed []*LedgerTransaction, conversions []*Conversion) BalanceView {
	v := BalanceView{UserID: f.UserID, PatientID: f.PatientID, ConversionCount: len(conversions)}

	for _, lt := range earned {
		p := v.Pool(lt.RewardType)
		p.Earned = p.Earned.Add(lt.AmountChanged)
	}
	for _, lt := range consumed {
		p := v.Pool(lt.RewardType)
		p.Consumed = p.Consumed.Sub(lt.AmountChanged)
	}
	for _, c := range conversions {
		out := v.Pool(c.FromType)
		out.ConvertedOut = out.ConvertedOut.Add(c.Amount)
		in := v.Pool(c.ToType)
		in.ConvertedIn = in.ConvertedIn.Add(c.ConvertedPoints)

		v.TotalConverted = v.TotalConverted.Add(c.Amount)
		if c.ToType == PointMoney {
			v.ConvertedCashableToMoney = v.ConvertedCashableToMoney.Add(c.ConvertedPoints)
		}
		if c.FromType == PointMoney {
			v.EncashedMoney = v.EncashedMoney.Add(c.Amount)
		}
	}

	for _, pt := range pointTypes {
		p := v.Pool(pt)
		p.Net = p.Earned.Sub(p.Consumed).Add(p.ConvertedIn).Sub(p.ConvertedOut)
	}
	return v
}
