package reward

import (
	"context"
	"time"
)

// Filter scopes ledger reads. From and To bound created_at inclusively.
type Filter struct {
	UserID    int64
	PatientID *int64
	From      *time.Time
	To        *time.Time
}

// Class selects which transactions a ledger query returns.
type Class int

const (
	ClassAll Class = iota
	ClassEarned
	ClassConsumed
)

type TransactionRepository interface {
	Create(ctx context.Context, t *Transaction) error
	GetByID(ctx context.Context, id int64) (*Transaction, error)
	Update(ctx context.Context, t *Transaction) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, f Filter, class Class) ([]*LedgerTransaction, error)
}

type ConversionRepository interface {
	Create(ctx context.Context, c *Conversion) error
	// ListByUser ignores f.PatientID; conversions belong to users, not patients.
	ListByUser(ctx context.Context, f Filter) ([]*Conversion, error)
	// LockUser serializes balance-checked writes for one user until the
	// surrounding transaction ends.
	LockUser(ctx context.Context, userID int64) error
}

type RuleRepository interface {
	Create(ctx context.Context, r *Rule) error
	GetByID(ctx context.Context, id int64) (*Rule, error)
	GetByActivityName(ctx context.Context, activityName string) (*Rule, error)
	Update(ctx context.Context, r *Rule) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, activeOnly bool) ([]*Rule, error)
}

type BadgeRepository interface {
	Create(ctx context.Context, b *Badge) error
	GetByID(ctx context.Context, id int64) (*Badge, error)
	Update(ctx context.Context, b *Badge) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context) ([]*Badge, error)
}
