package reward

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/smartrx/smartrx/internal/platform/apierror"
	"github.com/smartrx/smartrx/internal/platform/db"
)

// -- Reward rules --

func (s *Service) notifyRule(ctx context.Context, change RuleChange) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyRuleChange(ctx, change); err != nil {
		s.logger.Warn().Err(err).Int64("rule_id", change.RuleID).Str("action", change.Action).Msg("rule change notification failed")
	}
}

type RuleInput struct {
	ActivityName string          `json:"activity_name" validate:"required,max=64"`
	Title        string          `json:"title" validate:"required,max=200"`
	Description  *string         `json:"description,omitempty"`
	Points       decimal.Decimal `json:"points"`
	RewardType   PointType       `json:"reward_type" validate:"required"`
	IsDeductible bool            `json:"is_deductible"`
	IsActive     *bool           `json:"is_active,omitempty"`
}

func (in *RuleInput) validate() error {
	if strings.TrimSpace(in.ActivityName) == "" {
		return apierror.BadRequest("activity name is required")
	}
	if strings.TrimSpace(in.Title) == "" {
		return apierror.BadRequest("title is required")
	}
	if !in.RewardType.Valid() {
		return apierror.BadRequest("invalid reward type %q", in.RewardType)
	}
	if !in.Points.IsPositive() {
		return apierror.BadRequest("points must be greater than zero")
	}
	if !in.Points.Equal(in.Points.Truncate(maxAmountScale)) {
		return apierror.BadRequest("points must have at most %d decimal places", maxAmountScale)
	}
	return nil
}

func (in *RuleInput) apply(r *Rule) {
	r.ActivityName = strings.ToUpper(strings.TrimSpace(in.ActivityName))
	r.Title = strings.TrimSpace(in.Title)
	r.Description = in.Description
	r.Points = in.Points
	r.RewardType = in.RewardType
	r.IsDeductible = in.IsDeductible
	r.IsActive = in.IsActive == nil || *in.IsActive
}

func (s *Service) CreateRule(ctx context.Context, in RuleInput) (*Rule, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	r := &Rule{}
	in.apply(r)
	if err := s.rules.Create(ctx, r); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, apierror.Conflict("reward rule for %s already exists", r.ActivityName)
		}
		return nil, fmt.Errorf("create reward rule: %w", err)
	}
	s.logger.Info().Int64("rule_id", r.ID).Str("activity", r.ActivityName).Msg("reward rule created")
	s.notifyRule(ctx, RuleChange{Action: RuleCreated, RuleID: r.ID, Rule: r})
	return r, nil
}

func (s *Service) GetRule(ctx context.Context, id int64) (*Rule, error) {
	r, err := s.rules.GetByID(ctx, id)
	if db.IsNotFound(err) {
		return nil, apierror.NotFound("reward rule %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get reward rule %d: %w", id, err)
	}
	return r, nil
}

func (s *Service) GetRuleByActivityName(ctx context.Context, name string) (*Rule, error) {
	code := strings.ToUpper(strings.TrimSpace(name))
	r, err := s.rules.GetByActivityName(ctx, code)
	if db.IsNotFound(err) {
		return nil, apierror.NotFound("reward rule for %s not found", code)
	}
	if err != nil {
		return nil, fmt.Errorf("get reward rule %s: %w", code, err)
	}
	return r, nil
}

func (s *Service) ListRules(ctx context.Context, activeOnly bool) ([]*Rule, error) {
	rules, err := s.rules.List(ctx, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list reward rules: %w", err)
	}
	return rules, nil
}

// UpdateRule edits a rule in place. Existing transactions pick up the new
// polarity and title on their next read.
func (s *Service) UpdateRule(ctx context.Context, id int64, in RuleInput) (*Rule, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	r, err := s.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	in.apply(r)
	if err := s.rules.Update(ctx, r); err != nil {
		switch {
		case db.IsNotFound(err):
			return nil, apierror.NotFound("reward rule %d not found", id)
		case db.IsUniqueViolation(err):
			return nil, apierror.Conflict("reward rule for %s already exists", r.ActivityName)
		}
		return nil, fmt.Errorf("update reward rule %d: %w", id, err)
	}
	s.logger.Info().Int64("rule_id", id).Bool("is_deductible", r.IsDeductible).Msg("reward rule updated")
	s.notifyRule(ctx, RuleChange{Action: RuleUpdated, RuleID: id, Rule: r})
	return r, nil
}

func (s *Service) DeleteRule(ctx context.Context, id int64) error {
	err := s.rules.Delete(ctx, id)
	switch {
	case err == nil:
		s.logger.Info().Int64("rule_id", id).Msg("reward rule deleted")
		s.notifyRule(ctx, RuleChange{Action: RuleDeleted, RuleID: id})
		return nil
	case db.IsNotFound(err):
		return apierror.NotFound("reward rule %d not found", id)
	case db.IsForeignKeyViolation(err):
		return apierror.Conflict("reward rule %d is referenced by transactions; deactivate it instead", id)
	}
	return fmt.Errorf("delete reward rule %d: %w", id, err)
}

// -- Badges --

type BadgeInput struct {
	Name           string          `json:"name" validate:"required,max=100"`
	Description    *string         `json:"description,omitempty"`
	Hierarchy      int             `json:"hierarchy" validate:"gte=1"`
	RequiredPoints decimal.Decimal `json:"required_points"`
}

func (in *BadgeInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return apierror.BadRequest("badge name is required")
	}
	if in.Hierarchy < 1 {
		return apierror.BadRequest("hierarchy must be at least 1")
	}
	if in.RequiredPoints.IsNegative() {
		return apierror.BadRequest("required points must not be negative")
	}
	return nil
}

func (in *BadgeInput) apply(b *Badge) {
	b.Name = strings.TrimSpace(in.Name)
	b.Description = in.Description
	b.Hierarchy = in.Hierarchy
	b.RequiredPoints = in.RequiredPoints
}

func (s *Service) CreateBadge(ctx context.Context, in BadgeInput) (*Badge, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	b := &Badge{}
	in.apply(b)
	if err := s.badges.Create(ctx, b); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, apierror.Conflict("badge name or hierarchy already in use: %s", db.ConstraintName(err))
		}
		return nil, fmt.Errorf("create badge: %w", err)
	}
	return b, nil
}

func (s *Service) GetBadge(ctx context.Context, id int64) (*Badge, error) {
	b, err := s.badges.GetByID(ctx, id)
	if db.IsNotFound(err) {
		return nil, apierror.NotFound("badge %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get badge %d: %w", id, err)
	}
	return b, nil
}

func (s *Service) ListBadges(ctx context.Context) ([]*Badge, error) {
	badges, err := s.badges.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list badges: %w", err)
	}
	return badges, nil
}

func (s *Service) UpdateBadge(ctx context.Context, id int64, in BadgeInput) (*Badge, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	b, err := s.GetBadge(ctx, id)
	if err != nil {
		return nil, err
	}
	in.apply(b)
	if err := s.badges.Update(ctx, b); err != nil {
		switch {
		case db.IsNotFound(err):
			return nil, apierror.NotFound("badge %d not found", id)
		case db.IsUniqueViolation(err):
			return nil, apierror.Conflict("badge name or hierarchy already in use: %s", db.ConstraintName(err))
		}
		return nil, fmt.Errorf("update badge %d: %w", id, err)
	}
	return b, nil
}

// DeleteBadge removes a badge. Transactions that carried it keep the dangling
// id and the summary reports no badge for them.
func (s *Service) DeleteBadge(ctx context.Context, id int64) error {
	err := s.badges.Delete(ctx, id)
	if db.IsNotFound(err) {
		return apierror.NotFound("badge %d not found", id)
	}
	if err != nil {
		return fmt.Errorf("delete badge %d: %w", id, err)
	}
	return nil
}

// ThresholdEvaluator awards the highest badge whose required points the user's
// lifetime earned points (all pools) have reached.
type ThresholdEvaluator struct {
	badges     BadgeRepository
	reconciler *Reconciler
}

func NewThresholdEvaluator(badges BadgeRepository, reconciler *Reconciler) *ThresholdEvaluator {
	return &ThresholdEvaluator{badges: badges, reconciler: reconciler}
}

func (e *ThresholdEvaluator) EvaluateBadgeEligibility(ctx context.Context, userID int64) (*Badge, error) {
	view, err := e.reconciler.Summary(ctx, Filter{UserID: userID})
	if err != nil {
		return nil, err
	}
	earned := view.Noncashable.Earned.Add(view.Cashable.Earned).Add(view.Money.Earned)

	badges, err := e.badges.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list badges: %w", err)
	}
	var best *Badge
	for _, b := range badges {
		if earned.LessThan(b.RequiredPoints) {
			continue
		}
		if best == nil || b.Hierarchy > best.Hierarchy {
			best = b
		}
	}
	return best, nil
}
