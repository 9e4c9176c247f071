package reward

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/smartrx/smartrx/internal/platform/apierror"
	"github.com/smartrx/smartrx/internal/platform/db"
)

// BadgeEvaluator decides whether a user has reached a badge. It is optional;
// without one, awarded transactions carry no badge.
type BadgeEvaluator interface {
	EvaluateBadgeEligibility(ctx context.Context, userID int64) (*Badge, error)
}

type ActivityAward struct {
	UserID          int64
	ActivityName    string
	PatientID       *int64
	PrescriptionID  *int64
	SmartRxMasterID *int64
	CreatedBy       int64
	Remarks         *string
}

type AwardResult struct {
	WasUpdated    bool            `json:"was_updated"`
	Title         string          `json:"title,omitempty"`
	Points        decimal.Decimal `json:"points"`
	RewardType    PointType       `json:"reward_type,omitempty"`
	Message       string          `json:"message"`
	TransactionID int64           `json:"transaction_id,omitempty"`
}

// AwardActivity records the reward configured for an activity code. An
// unknown or inactive code is not an error: the result has WasUpdated=false.
func (s *Service) AwardActivity(ctx context.Context, a ActivityAward) (*AwardResult, error) {
	if a.UserID <= 0 {
		return nil, apierror.BadRequest("user id must be greater than zero")
	}
	code := strings.ToUpper(strings.TrimSpace(a.ActivityName))

	rule, err := s.rules.GetByActivityName(ctx, code)
	if db.IsNotFound(err) || (err == nil && !rule.IsActive) {
		s.logger.Debug().Str("activity", code).Int64("user_id", a.UserID).Msg("no reward configured")
		return &AwardResult{Message: fmt.Sprintf("no reward configured for %s", code)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reward rule %s: %w", code, err)
	}

	delta := rule.SignedPoints()

	view, err := s.reconciler.Summary(ctx, Filter{UserID: a.UserID})
	if err != nil {
		return nil, fmt.Errorf("reconcile balances for user %d: %w", a.UserID, err)
	}
	nc, c, m := snapshot(view, rule.RewardType, delta)

	createdBy := a.CreatedBy
	if createdBy == 0 {
		createdBy = a.UserID
	}
	in := TransactionInput{
		UserID:             a.UserID,
		RewardRuleID:       rule.ID,
		RewardType:         rule.RewardType,
		AmountChanged:      delta,
		NoncashableBalance: nc,
		CashableBalance:    c,
		MoneyBalance:       m,
		Remarks:            a.Remarks,
		PrescriptionID:     a.PrescriptionID,
		SmartRxMasterID:    a.SmartRxMasterID,
		PatientID:          a.PatientID,
		CreatedBy:          createdBy,
	}

	if s.badgeEval != nil {
		badge, err := s.badgeEval.EvaluateBadgeEligibility(ctx, a.UserID)
		if err != nil {
			s.logger.Warn().Err(err).Int64("user_id", a.UserID).Msg("badge evaluation failed")
		} else if badge != nil {
			in.BadgeID = &badge.ID
		}
	}

	t, err := s.CreateTransaction(ctx, in)
	if err != nil {
		return nil, err
	}

	result := &AwardResult{
		WasUpdated:    true,
		Title:         rule.Title,
		Points:        delta,
		RewardType:    rule.RewardType,
		TransactionID: t.ID,
		Message:       awardMessage(rule, delta),
	}

	if s.notifier != nil {
		if err := s.notifier.NotifyAward(ctx, a.UserID, result); err != nil {
			s.logger.Warn().Err(err).Int64("user_id", a.UserID).Msg("reward notification failed")
		}
	}
	return result, nil
}

// snapshot adds delta to the reconciled net of pool and floors every pool at
// zero. The values are a display convenience only.
func snapshot(view *BalanceView, pool PointType, delta decimal.Decimal) (nc, c, m decimal.Decimal) {
	nc, c, m = view.Noncashable.Net, view.Cashable.Net, view.Money.Net
	switch pool {
	case PointNoncashable:
		nc = nc.Add(delta)
	case PointCashable:
		c = c.Add(delta)
	case PointMoney:
		m = m.Add(delta)
	}
	zero := decimal.Zero
	return decimal.Max(nc, zero), decimal.Max(c, zero), decimal.Max(m, zero)
}

func awardMessage(rule *Rule, delta decimal.Decimal) string {
	if delta.IsNegative() {
		return fmt.Sprintf("%s %s points deducted for %s", delta.Neg(), rule.RewardType, rule.Title)
	}
	return fmt.Sprintf("You earned %s %s points for %s", delta, rule.RewardType, rule.Title)
}
