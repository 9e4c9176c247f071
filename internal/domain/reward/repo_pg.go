package reward

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smartrx/smartrx/internal/platform/db"
)

// -- Transactions --

type transactionRepoPG struct{ pool *pgxpool.Pool }

func NewTransactionRepoPG(pool *pgxpool.Pool) TransactionRepository {
	return &transactionRepoPG{pool: pool}
}

const txCols = `t.id, t.user_id, t.badge_id, t.reward_rule_id, t.reward_type, t.prescription_id,
	t.smart_rx_master_id, t.patient_id, t.is_deduction, t.amount_changed, t.noncashable_balance,
	t.cashable_balance, t.money_balance, t.remarks, t.created_at, t.created_by, t.modified_at, t.modified_by`

func txScanTargets(t *Transaction) []any {
	return []any{&t.ID, &t.UserID, &t.BadgeID, &t.RewardRuleID, &t.RewardType, &t.PrescriptionID,
		&t.SmartRxMasterID, &t.PatientID, &t.IsDeduction, &t.AmountChanged, &t.NoncashableBalance,
		&t.CashableBalance, &t.MoneyBalance, &t.Remarks, &t.CreatedAt, &t.CreatedBy, &t.ModifiedAt, &t.ModifiedBy}
}

func (r *transactionRepoPG) Create(ctx context.Context, t *Transaction) error {
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO reward_transaction (user_id, badge_id, reward_rule_id, reward_type, prescription_id,
			smart_rx_master_id, patient_id, is_deduction, amount_changed, noncashable_balance,
			cashable_balance, money_balance, remarks, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING id, created_at`,
		t.UserID, t.BadgeID, t.RewardRuleID, t.RewardType, t.PrescriptionID,
		t.SmartRxMasterID, t.PatientID, t.IsDeduction, t.AmountChanged, t.NoncashableBalance,
		t.CashableBalance, t.MoneyBalance, t.Remarks, t.CreatedBy,
	).Scan(&t.ID, &t.CreatedAt)
}

func (r *transactionRepoPG) GetByID(ctx context.Context, id int64) (*Transaction, error) {
	var t Transaction
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+txCols+` FROM reward_transaction t WHERE t.id = $1`, id,
	).Scan(txScanTargets(&t)...)
	if err != nil {
		return nil, db.NotFoundIfNoRows(err)
	}
	return &t, nil
}

func (r *transactionRepoPG) Update(ctx context.Context, t *Transaction) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE reward_transaction SET user_id=$2, badge_id=$3, reward_rule_id=$4, reward_type=$5,
			prescription_id=$6, smart_rx_master_id=$7, patient_id=$8, is_deduction=$9,
			amount_changed=$10, noncashable_balance=$11, cashable_balance=$12, money_balance=$13,
			remarks=$14, modified_by=$15, modified_at=NOW()
		WHERE id = $1
		RETURNING created_at, created_by, modified_at`,
		t.ID, t.UserID, t.BadgeID, t.RewardRuleID, t.RewardType,
		t.PrescriptionID, t.SmartRxMasterID, t.PatientID, t.IsDeduction,
		t.AmountChanged, t.NoncashableBalance, t.CashableBalance, t.MoneyBalance,
		t.Remarks, t.ModifiedBy,
	).Scan(&t.CreatedAt, &t.CreatedBy, &t.ModifiedAt)
	return db.NotFoundIfNoRows(err)
}

func (r *transactionRepoPG) Delete(ctx context.Context, id int64) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM reward_transaction WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

// classPredicate classifies against the rule as it is now, not as it was
// when the transaction was written.
func classPredicate(class Class) string {
	switch class {
	case ClassEarned:
		return ` AND (rr.id IS NULL OR NOT rr.is_deductible)`
	case ClassConsumed:
		return ` AND (rr.id IS NOT NULL AND rr.is_deductible)`
	}
	return ""
}

// whereFilter renders the shared user/patient/date conditions. alias prefixes
// the column names; withPatient is false for the conversion log.
func whereFilter(f Filter, alias string, withPatient bool) (string, []any) {
	var b strings.Builder
	args := []any{f.UserID}
	fmt.Fprintf(&b, "WHERE %suser_id = $1", alias)
	if withPatient && f.PatientID != nil {
		args = append(args, *f.PatientID)
		fmt.Fprintf(&b, " AND %spatient_id = $%d", alias, len(args))
	}
	if f.From != nil {
		args = append(args, *f.From)
		fmt.Fprintf(&b, " AND %screated_at >= $%d", alias, len(args))
	}
	if f.To != nil {
		args = append(args, *f.To)
		fmt.Fprintf(&b, " AND %screated_at <= $%d", alias, len(args))
	}
	return b.String(), args
}

func (r *transactionRepoPG) List(ctx context.Context, f Filter, class Class) ([]*LedgerTransaction, error) {
	where, args := whereFilter(f, "t.", true)
	query := `SELECT ` + txCols + `, rr.activity_name, rr.title, rr.is_deductible
		FROM reward_transaction t
		LEFT JOIN reward_rule rr ON rr.id = t.reward_rule_id
		` + where + classPredicate(class) + `
		ORDER BY t.created_at DESC, t.id DESC`

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*LedgerTransaction
	for rows.Next() {
		var lt LedgerTransaction
		var activity, title *string
		var deductible *bool
		targets := append(txScanTargets(&lt.Transaction), &activity, &title, &deductible)
		if err := rows.Scan(targets...); err != nil {
			return nil, err
		}
		if activity != nil {
			lt.Rule = &RuleRef{ActivityName: *activity, Title: deref(title), IsDeductible: deref(deductible)}
		}
		items = append(items, &lt)
	}
	return items, rows.Err()
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

// -- Conversions --

type conversionRepoPG struct{ pool *pgxpool.Pool }

func NewConversionRepoPG(pool *pgxpool.Pool) ConversionRepository {
	return &conversionRepoPG{pool: pool}
}

const conversionCols = `id, user_id, from_type, to_type, amount, converted_points, rate, created_at, created_by`

func (r *conversionRepoPG) scanConversion(row pgx.Row) (*Conversion, error) {
	var c Conversion
	err := row.Scan(&c.ID, &c.UserID, &c.FromType, &c.ToType, &c.Amount, &c.ConvertedPoints,
		&c.Rate, &c.CreatedAt, &c.CreatedBy)
	return &c, err
}

func (r *conversionRepoPG) Create(ctx context.Context, c *Conversion) error {
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO reward_point_conversion (user_id, from_type, to_type, amount, converted_points, rate, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id, created_at`,
		c.UserID, c.FromType, c.ToType, c.Amount, c.ConvertedPoints, c.Rate, c.CreatedBy,
	).Scan(&c.ID, &c.CreatedAt)
}

func (r *conversionRepoPG) ListByUser(ctx context.Context, f Filter) ([]*Conversion, error) {
	where, args := whereFilter(f, "", false)
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+conversionCols+` FROM reward_point_conversion `+where+` ORDER BY created_at DESC, id DESC`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Conversion
	for rows.Next() {
		c, err := r.scanConversion(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (r *conversionRepoPG) LockUser(ctx context.Context, userID int64) error {
	// Advisory locks taken outside a transaction would be released immediately.
	if db.TxFromContext(ctx) == nil {
		return fmt.Errorf("lock reward user %d: no transaction in context", userID)
	}
	_, err := db.Conn(ctx, r.pool).Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`, fmt.Sprintf("reward_user:%d", userID))
	return err
}

// -- Rules --

type ruleRepoPG struct{ pool *pgxpool.Pool }

func NewRuleRepoPG(pool *pgxpool.Pool) RuleRepository {
	return &ruleRepoPG{pool: pool}
}

const ruleCols = `id, activity_name, title, description, points, reward_type, is_deductible,
	is_active, created_at, modified_at`

func (r *ruleRepoPG) scanRule(row pgx.Row) (*Rule, error) {
	var rr Rule
	err := row.Scan(&rr.ID, &rr.ActivityName, &rr.Title, &rr.Description, &rr.Points, &rr.RewardType,
		&rr.IsDeductible, &rr.IsActive, &rr.CreatedAt, &rr.ModifiedAt)
	if err != nil {
		return nil, db.NotFoundIfNoRows(err)
	}
	return &rr, nil
}

func (r *ruleRepoPG) Create(ctx context.Context, rr *Rule) error {
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO reward_rule (activity_name, title, description, points, reward_type, is_deductible, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id, created_at`,
		rr.ActivityName, rr.Title, rr.Description, rr.Points, rr.RewardType, rr.IsDeductible, rr.IsActive,
	).Scan(&rr.ID, &rr.CreatedAt)
}

func (r *ruleRepoPG) GetByID(ctx context.Context, id int64) (*Rule, error) {
	return r.scanRule(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+ruleCols+` FROM reward_rule WHERE id = $1`, id))
}

func (r *ruleRepoPG) GetByActivityName(ctx context.Context, activityName string) (*Rule, error) {
	return r.scanRule(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+ruleCols+` FROM reward_rule WHERE activity_name = $1`, activityName))
}

func (r *ruleRepoPG) Update(ctx context.Context, rr *Rule) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE reward_rule SET activity_name=$2, title=$3, description=$4, points=$5, reward_type=$6,
			is_deductible=$7, is_active=$8, modified_at=NOW()
		WHERE id = $1
		RETURNING created_at, modified_at`,
		rr.ID, rr.ActivityName, rr.Title, rr.Description, rr.Points, rr.RewardType,
		rr.IsDeductible, rr.IsActive,
	).Scan(&rr.CreatedAt, &rr.ModifiedAt)
	return db.NotFoundIfNoRows(err)
}

func (r *ruleRepoPG) Delete(ctx context.Context, id int64) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM reward_rule WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *ruleRepoPG) List(ctx context.Context, activeOnly bool) ([]*Rule, error) {
	query := `SELECT ` + ruleCols + ` FROM reward_rule`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY activity_name`

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Rule
	for rows.Next() {
		rr, err := r.scanRule(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rr)
	}
	return items, rows.Err()
}

// -- Badges --

type badgeRepoPG struct{ pool *pgxpool.Pool }

func NewBadgeRepoPG(pool *pgxpool.Pool) BadgeRepository {
	return &badgeRepoPG{pool: pool}
}

const badgeCols = `id, name, description, hierarchy, required_points, created_at`

func (r *badgeRepoPG) scanBadge(row pgx.Row) (*Badge, error) {
	var b Badge
	err := row.Scan(&b.ID, &b.Name, &b.Description, &b.Hierarchy, &b.RequiredPoints, &b.CreatedAt)
	if err != nil {
		return nil, db.NotFoundIfNoRows(err)
	}
	return &b, nil
}

func (r *badgeRepoPG) Create(ctx context.Context, b *Badge) error {
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO badge (name, description, hierarchy, required_points)
		VALUES ($1,$2,$3,$4)
		RETURNING id, created_at`,
		b.Name, b.Description, b.Hierarchy, b.RequiredPoints,
	).Scan(&b.ID, &b.CreatedAt)
}

func (r *badgeRepoPG) GetByID(ctx context.Context, id int64) (*Badge, error) {
	return r.scanBadge(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+badgeCols+` FROM badge WHERE id = $1`, id))
}

func (r *badgeRepoPG) Update(ctx context.Context, b *Badge) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE badge SET name=$2, description=$3, hierarchy=$4, required_points=$5
		WHERE id = $1
		RETURNING created_at`,
		b.ID, b.Name, b.Description, b.Hierarchy, b.RequiredPoints,
	).Scan(&b.CreatedAt)
	return db.NotFoundIfNoRows(err)
}

func (r *badgeRepoPG) Delete(ctx context.Context, id int64) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM badge WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *badgeRepoPG) List(ctx context.Context) ([]*Badge, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+badgeCols+` FROM badge ORDER BY hierarchy`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Badge
	for rows.Next() {
		b, err := r.scanBadge(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return items, rows.Err()
}
