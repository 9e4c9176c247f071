package reward

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/smartrx/smartrx/internal/platform/apierror"
	"github.com/smartrx/smartrx/internal/platform/db"
)

type Service struct {
	transactions TransactionRepository
	conversions  ConversionRepository
	rules        RuleRepository
	badges       BadgeRepository
	reconciler   *Reconciler
	rates        RateProvider
	tx           db.TxRunner
	badgeEval    BadgeEvaluator
	notifier     Notifier
	logger       zerolog.Logger
}

type Option func(*Service)

// WithBadgeEvaluator attaches a badge to awarded transactions when the
// evaluator returns one.
func WithBadgeEvaluator(e BadgeEvaluator) Option {
	return func(s *Service) { s.badgeEval = e }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func NewService(
	transactions TransactionRepository,
	conversions ConversionRepository,
	rules RuleRepository,
	badges BadgeRepository,
	rates RateProvider,
	tx db.TxRunner,
	logger zerolog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		transactions: transactions,
		conversions:  conversions,
		rules:        rules,
		badges:       badges,
		reconciler:   NewReconciler(transactions, conversions, badges),
		rates:        rates,
		tx:           tx,
		logger:       logger.With().Str("component", "reward").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Reconciler() *Reconciler {
	return s.reconciler
}

type TransactionInput struct {
	UserID             int64           `json:"user_id"`
	BadgeID            *int64          `json:"badge_id,omitempty"`
	RewardRuleID       int64           `json:"reward_rule_id"`
	RewardType         PointType       `json:"reward_type"`
	AmountChanged      decimal.Decimal `json:"amount_changed"`
	NoncashableBalance decimal.Decimal `json:"noncashable_balance"`
	CashableBalance    decimal.Decimal `json:"cashable_balance"`
	MoneyBalance       decimal.Decimal `json:"money_balance"`
	Remarks            *string         `json:"remarks,omitempty"`
	PrescriptionID     *int64          `json:"prescription_id,omitempty"`
	SmartRxMasterID    *int64          `json:"smart_rx_master_id,omitempty"`
	PatientID          *int64          `json:"patient_id,omitempty"`
	CreatedBy          int64           `json:"-"`
}

// validateInput runs the field checks followed by the rule and badge lookups.
// The first failure wins.
func (s *Service) validateInput(ctx context.Context, in *TransactionInput) (*Rule, error) {
	if in.UserID <= 0 {
		return nil, apierror.BadRequest("user id must be greater than zero")
	}
	if in.RewardRuleID <= 0 {
		return nil, apierror.BadRequest("reward rule id must be greater than zero")
	}
	if !in.RewardType.Valid() {
		return nil, apierror.BadRequest("invalid reward type %q", in.RewardType)
	}
	if in.AmountChanged.IsZero() {
		return nil, apierror.BadRequest("amount changed must not be zero")
	}
	if in.NoncashableBalance.IsNegative() || in.CashableBalance.IsNegative() || in.MoneyBalance.IsNegative() {
		return nil, apierror.BadRequest("resulting balances must not be negative")
	}

	rule, err := s.rules.GetByID(ctx, in.RewardRuleID)
	if db.IsNotFound(err) {
		return nil, apierror.NotFound("reward rule %d not found", in.RewardRuleID)
	}
	if err != nil {
		return nil, fmt.Errorf("get reward rule %d: %w", in.RewardRuleID, err)
	}
	// deductible rules spend points, all others earn them
	if rule.IsDeductible && in.AmountChanged.IsPositive() {
		return nil, apierror.BadRequest("rule %s is deductible: amount changed must be negative", rule.ActivityName)
	}
	if !rule.IsDeductible && in.AmountChanged.IsNegative() {
		return nil, apierror.BadRequest("rule %s earns points: amount changed must be positive", rule.ActivityName)
	}

	if in.BadgeID != nil {
		_, err := s.badges.GetByID(ctx, *in.BadgeID)
		if db.IsNotFound(err) {
			return nil, apierror.NotFound("badge %d not found", *in.BadgeID)
		}
		if err != nil {
			return nil, fmt.Errorf("get badge %d: %w", *in.BadgeID, err)
		}
	}
	return rule, nil
}

func (in *TransactionInput) apply(t *Transaction, rule *Rule) {
	t.UserID = in.UserID
	t.BadgeID = in.BadgeID
	t.RewardRuleID = in.RewardRuleID
	t.RewardType = in.RewardType
	t.PrescriptionID = in.PrescriptionID
	t.SmartRxMasterID = in.SmartRxMasterID
	t.PatientID = in.PatientID
	t.IsDeduction = rule.IsDeductible
	t.AmountChanged = in.AmountChanged
	t.NoncashableBalance = in.NoncashableBalance
	t.CashableBalance = in.CashableBalance
	t.MoneyBalance = in.MoneyBalance
	t.Remarks = in.Remarks
}

// CreateTransaction appends one validated entry to the reward log. Identical
// calls create identical rows; callers own exactly-once behavior.
func (s *Service) CreateTransaction(ctx context.Context, in TransactionInput) (*Transaction, error) {
	rule, err := s.validateInput(ctx, &in)
	if err != nil {
		return nil, err
	}

	t := &Transaction{CreatedBy: in.CreatedBy}
	in.apply(t, rule)
	if err := s.transactions.Create(ctx, t); err != nil {
		if db.IsForeignKeyViolation(err) {
			return nil, apierror.NotFound("referenced record not found: %s", db.ConstraintName(err))
		}
		return nil, fmt.Errorf("create reward transaction: %w", err)
	}

	s.logger.Info().
		Int64("transaction_id", t.ID).
		Int64("user_id", t.UserID).
		Int64("rule_id", t.RewardRuleID).
		Str("reward_type", string(t.RewardType)).
		Str("amount", t.AmountChanged.String()).
		Msg("reward transaction created")
	return t, nil
}

// UpdateTransaction is the explicit correction command for an existing entry.
func (s *Service) UpdateTransaction(ctx context.Context, id int64, in TransactionInput, modifiedBy int64) (*Transaction, error) {
	if id <= 0 {
		return nil, apierror.BadRequest("transaction id must be greater than zero")
	}
	rule, err := s.validateInput(ctx, &in)
	if err != nil {
		return nil, err
	}

	t, err := s.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	in.apply(t, rule)
	t.ModifiedBy = &modifiedBy

	if err := s.transactions.Update(ctx, t); err != nil {
		if db.IsNotFound(err) {
			return nil, apierror.NotFound("reward transaction %d not found", id)
		}
		return nil, fmt.Errorf("update reward transaction %d: %w", id, err)
	}

	s.logger.Info().
		Int64("transaction_id", id).
		Int64("modified_by", modifiedBy).
		Str("amount", t.AmountChanged.String()).
		Msg("reward transaction corrected")
	return t, nil
}

func (s *Service) GetTransaction(ctx context.Context, id int64) (*Transaction, error) {
	if id <= 0 {
		return nil, apierror.BadRequest("transaction id must be greater than zero")
	}
	t, err := s.transactions.GetByID(ctx, id)
	if db.IsNotFound(err) {
		return nil, apierror.NotFound("reward transaction %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get reward transaction %d: %w", id, err)
	}
	return t, nil
}

func (s *Service) DeleteTransaction(ctx context.Context, id int64) error {
	if id <= 0 {
		return apierror.BadRequest("transaction id must be greater than zero")
	}
	err := s.transactions.Delete(ctx, id)
	if db.IsNotFound(err) {
		return apierror.NotFound("reward transaction %d not found", id)
	}
	if err != nil {
		return fmt.Errorf("delete reward transaction %d: %w", id, err)
	}
	s.logger.Warn().Int64("transaction_id", id).Msg("reward transaction deleted")
	return nil
}
