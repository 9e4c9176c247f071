package reward

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/smartrx/smartrx/pkg/pagination"
)

type Kind string

const (
	KindEarned   Kind = "earned"
	KindConsumed Kind = "consumed"
)

type Source string

const (
	SourceTransaction Source = "transaction"
	SourceConversion  Source = "conversion"
)

// LineItem is one row of reward history: a transaction, or one side of a
// conversion.
type LineItem struct {
	Source          Source    `json:"source"`
	SourceID        int64     `json:"source_id"`
	Kind            Kind      `json:"kind"`
	UserID          int64     `json:"user_id"`
	PatientID       *int64    `json:"patient_id,omitempty"`
	PrescriptionID  *int64    `json:"prescription_id,omitempty"`
	SmartRxMasterID *int64    `json:"smart_rx_master_id,omitempty"`
	RuleID          *int64    `json:"rule_id,omitempty"`
	ActivityName    string    `json:"activity_name,omitempty"`
	Title           string    `json:"title"`
	BadgeID         *int64    `json:"badge_id,omitempty"`
	RewardType      PointType `json:"reward_type"`
	// Points is the magnitude moved in RewardType's pool, as shown in lists.
	Points decimal.Decimal `json:"points"`

	EarnedNoncashable        decimal.Decimal `json:"earned_noncashable"`
	ConsumedNoncashable      decimal.Decimal `json:"consumed_noncashable"`
	EarnedCashable           decimal.Decimal `json:"earned_cashable"`
	ConsumedCashable         decimal.Decimal `json:"consumed_cashable"`
	EarnedMoney              decimal.Decimal `json:"earned_money"`
	ConsumedMoney            decimal.Decimal `json:"consumed_money"`
	ConvertedCashableToMoney decimal.Decimal `json:"converted_cashable_to_money"`
	EncashedMoney            decimal.Decimal `json:"encashed_money"`

	FromType  *PointType       `json:"from_type,omitempty"`
	ToType    *PointType       `json:"to_type,omitempty"`
	Rate      *decimal.Decimal `json:"rate,omitempty"`
	Remarks   *string          `json:"remarks,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// Key identifies a line item across the all/earned/consumed lists.
type Key struct {
	Source   Source
	SourceID int64
	Kind     Kind
}

func (li *LineItem) Key() Key {
	return Key{Source: li.Source, SourceID: li.SourceID, Kind: li.Kind}
}

type PoolBalance struct {
	Earned       decimal.Decimal `json:"earned"`
	Consumed     decimal.Decimal `json:"consumed"`
	ConvertedIn  decimal.Decimal `json:"converted_in"`
	ConvertedOut decimal.Decimal `json:"converted_out"`
	Net          decimal.Decimal `json:"net"`
}

// BalanceView is the reconciled summary of both logs for one user.
type BalanceView struct {
	UserID                   int64           `json:"user_id"`
	PatientID                *int64          `json:"patient_id,omitempty"`
	Noncashable              PoolBalance     `json:"noncashable"`
	Cashable                 PoolBalance     `json:"cashable"`
	Money                    PoolBalance     `json:"money"`
	TotalConverted           decimal.Decimal `json:"total_converted"`
	ConvertedCashableToMoney decimal.Decimal `json:"converted_cashable_to_money"`
	EncashedMoney            decimal.Decimal `json:"encashed_money"`
	TransactionCount         int             `json:"transaction_count"`
	ConversionCount          int             `json:"conversion_count"`
	Badge                    *Badge          `json:"badge,omitempty"`
}

// Pool returns a pointer to the named pool's balance.
func (v *BalanceView) Pool(p PointType) *PoolBalance {
	switch p {
	case PointCashable:
		return &v.Cashable
	case PointMoney:
		return &v.Money
	default:
		return &v.Noncashable
	}
}

// Scope selects which history list to return.
type Scope string

const (
	ScopeAll      Scope = "all"
	ScopeEarned   Scope = "earned"
	ScopeConsumed Scope = "consumed"
)

type HistoryQuery struct {
	Filter
	Scope Scope
	Sort  SortSpec
	Page  pagination.Params
}

type HistoryPage struct {
	pagination.Response[LineItem]
	Scope Scope `json:"scope"`
}
