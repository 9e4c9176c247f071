package reward

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/smartrx/smartrx/internal/platform/apierror"
)

// PointType names one of the three balance pools.
type PointType string

const (
	PointNoncashable PointType = "Noncashable"
	PointCashable    PointType = "Cashable"
	PointMoney       PointType = "Money"
)

var pointTypes = []PointType{PointNoncashable, PointCashable, PointMoney}

func (p PointType) Valid() bool {
	switch p {
	case PointNoncashable, PointCashable, PointMoney:
		return true
	}
	return false
}

// ParsePointType accepts the canonical names case-insensitively.
func ParsePointType(s string) (PointType, error) {
	for _, p := range pointTypes {
		if strings.EqualFold(s, string(p)) {
			return p, nil
		}
	}
	return "", apierror.BadRequest("invalid reward type %q: must be one of Noncashable, Cashable, Money", s)
}

// Activity codes awarded by the business commands.
const (
	ActivityEditPatientProfile   = "EDIT_PATIENT_PROFILE"
	ActivityAddVital             = "ADD_VITAL"
	ActivityUploadPrescription   = "UPLOAD_PRESCRIPTION"
	ActivityDownloadPrescription = "DOWNLOAD_PRESCRIPTION"
	ActivityDeletePrescription   = "DELETE_PRESCRIPTION"
	ActivityTagPrescription      = "TAG_PRESCRIPTION"
)

// Transaction is one entry in the append-only reward log. The three balance
// columns are a display snapshot taken at write time; balances shown to users
// are always recomputed by the Reconciler.
type Transaction struct {
	ID                 int64           `db:"id" json:"id"`
	UserID             int64           `db:"user_id" json:"user_id"`
	BadgeID            *int64          `db:"badge_id" json:"badge_id,omitempty"`
	RewardRuleID       int64           `db:"reward_rule_id" json:"reward_rule_id"`
	RewardType         PointType       `db:"reward_type" json:"reward_type"`
	PrescriptionID     *int64          `db:"prescription_id" json:"prescription_id,omitempty"`
	SmartRxMasterID    *int64          `db:"smart_rx_master_id" json:"smart_rx_master_id,omitempty"`
	PatientID          *int64          `db:"patient_id" json:"patient_id,omitempty"`
	IsDeduction        bool            `db:"is_deduction" json:"is_deduction"`
	AmountChanged      decimal.Decimal `db:"amount_changed" json:"amount_changed"`
	NoncashableBalance decimal.Decimal `db:"noncashable_balance" json:"noncashable_balance"`
	CashableBalance    decimal.Decimal `db:"cashable_balance" json:"cashable_balance"`
	MoneyBalance       decimal.Decimal `db:"money_balance" json:"money_balance"`
	Remarks            *string         `db:"remarks" json:"remarks,omitempty"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	CreatedBy          int64           `db:"created_by" json:"created_by"`
	ModifiedAt         *time.Time      `db:"modified_at" json:"modified_at,omitempty"`
	ModifiedBy         *int64          `db:"modified_by" json:"modified_by,omitempty"`
}

// RuleRef is the part of a reward rule joined onto a transaction at read time.
type RuleRef struct {
	ActivityName string `json:"activity_name"`
	Title        string `json:"title"`
	IsDeductible bool   `json:"is_deductible"`
}

// LedgerTransaction is a transaction with its rule as it stands now. Rule is
// nil when the referenced rule no longer exists.
type LedgerTransaction struct {
	Transaction
	Rule *RuleRef
}

// Consumed reports whether the entry spends points. Only an existing,
// deductible rule makes an entry consumed; a missing rule counts as earned.
func (lt *LedgerTransaction) Consumed() bool {
	return lt.Rule != nil && lt.Rule.IsDeductible
}

// Conversion is one entry in the append-only pool-conversion log.
type Conversion struct {
	ID              int64           `db:"id" json:"id"`
	UserID          int64           `db:"user_id" json:"user_id"`
	FromType        PointType       `db:"from_type" json:"from_type"`
	ToType          PointType       `db:"to_type" json:"to_type"`
	Amount          decimal.Decimal `db:"amount" json:"amount"`
	ConvertedPoints decimal.Decimal `db:"converted_points" json:"converted_points"`
	Rate            decimal.Decimal `db:"rate" json:"rate"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	CreatedBy       int64           `db:"created_by" json:"created_by"`
}

// Rule maps an activity code to a point value and polarity.
type Rule struct {
	ID           int64           `db:"id" json:"id"`
	ActivityName string          `db:"activity_name" json:"activity_name"`
	Title        string          `db:"title" json:"title"`
	Description  *string         `db:"description" json:"description,omitempty"`
	Points       decimal.Decimal `db:"points" json:"points"`
	RewardType   PointType       `db:"reward_type" json:"reward_type"`
	IsDeductible bool            `db:"is_deductible" json:"is_deductible"`
	IsActive     bool            `db:"is_active" json:"is_active"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	ModifiedAt   *time.Time      `db:"modified_at" json:"modified_at,omitempty"`
}

// SignedPoints is the amount a transaction for this rule records.
func (r *Rule) SignedPoints() decimal.Decimal {
	if r.IsDeductible {
		return r.Points.Neg()
	}
	return r.Points
}

type Badge struct {
	ID             int64           `db:"id" json:"id"`
	Name           string          `db:"name" json:"name"`
	Description    *string         `db:"description" json:"description,omitempty"`
	Hierarchy      int             `db:"hierarchy" json:"hierarchy"`
	RequiredPoints decimal.Decimal `db:"required_points" json:"required_points"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}
