package patient

import (
	"time"

	"github.com/shopspring/decimal"
)

// Patient maps to the patient table. A user may manage several patients
// (themselves and family members).
type Patient struct {
	ID                    int64            `db:"id" json:"id"`
	UserID                int64            `db:"user_id" json:"user_id"`
	FirstName             string           `db:"first_name" json:"first_name"`
	LastName              string           `db:"last_name" json:"last_name"`
	Relationship          *string          `db:"relationship" json:"relationship,omitempty"`
	BirthDate             *time.Time       `db:"birth_date" json:"birth_date,omitempty"`
	Gender                *string          `db:"gender" json:"gender,omitempty"`
	BloodGroup            *string          `db:"blood_group" json:"blood_group,omitempty"`
	HeightCm              *decimal.Decimal `db:"height_cm" json:"height_cm,omitempty"`
	WeightKg              *decimal.Decimal `db:"weight_kg" json:"weight_kg,omitempty"`
	Phone                 *string          `db:"phone" json:"phone,omitempty"`
	Email                 *string          `db:"email" json:"email,omitempty"`
	AddressLine1          *string          `db:"address_line1" json:"address_line1,omitempty"`
	AddressLine2          *string          `db:"address_line2" json:"address_line2,omitempty"`
	City                  *string          `db:"city" json:"city,omitempty"`
	State                 *string          `db:"state" json:"state,omitempty"`
	PostalCode            *string          `db:"postal_code" json:"postal_code,omitempty"`
	Country               *string          `db:"country" json:"country,omitempty"`
	Allergies             *string          `db:"allergies" json:"allergies,omitempty"`
	ChronicConditions     *string          `db:"chronic_conditions" json:"chronic_conditions,omitempty"`
	EmergencyContactName  *string          `db:"emergency_contact_name" json:"emergency_contact_name,omitempty"`
	EmergencyContactPhone *string          `db:"emergency_contact_phone" json:"emergency_contact_phone,omitempty"`
	CreatedAt             time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time        `db:"updated_at" json:"updated_at"`
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	FirstName             *string          `json:"first_name,omitempty" validate:"omitempty,min=1,max=100"`
	LastName              *string          `json:"last_name,omitempty" validate:"omitempty,max=100"`
	Relationship          *string          `json:"relationship,omitempty" validate:"omitempty,max=32"`
	BirthDate             *time.Time       `json:"birth_date,omitempty"`
	Gender                *string          `json:"gender,omitempty" validate:"omitempty,oneof=male female other unknown"`
	BloodGroup            *string          `json:"blood_group,omitempty" validate:"omitempty,oneof=A+ A- B+ B- AB+ AB- O+ O-"`
	HeightCm              *decimal.Decimal `json:"height_cm,omitempty"`
	WeightKg              *decimal.Decimal `json:"weight_kg,omitempty"`
	Phone                 *string          `json:"phone,omitempty" validate:"omitempty,max=32"`
	Email                 *string          `json:"email,omitempty" validate:"omitempty,email"`
	AddressLine1          *string          `json:"address_line1,omitempty"`
	AddressLine2          *string          `json:"address_line2,omitempty"`
	City                  *string          `json:"city,omitempty"`
	State                 *string          `json:"state,omitempty"`
	PostalCode            *string          `json:"postal_code,omitempty" validate:"omitempty,max=16"`
	Country               *string          `json:"country,omitempty"`
	Allergies             *string          `json:"allergies,omitempty"`
	ChronicConditions     *string          `json:"chronic_conditions,omitempty"`
	EmergencyContactName  *string          `json:"emergency_contact_name,omitempty"`
	EmergencyContactPhone *string          `json:"emergency_contact_phone,omitempty" validate:"omitempty,max=32"`
}

// coalesce overwrites *dst with *src when src is present.
func coalesce[T any](dst *T, src *T) bool {
	if src == nil {
		return false
	}
	*dst = *src
	return true
}

// coalesceOptional is coalesce for optional (pointer) destination fields.
func coalesceOptional[T any](dst **T, src *T) bool {
	if src == nil {
		return false
	}
	v := *src
	*dst = &v
	return true
}

// Apply merges the patch into p and reports whether any field was present.
func (patch *Patch) Apply(p *Patient) bool {
	changed := false
	for _, ok := range []bool{
		coalesce(&p.FirstName, patch.FirstName),
		coalesce(&p.LastName, patch.LastName),
		coalesceOptional(&p.Relationship, patch.Relationship),
		coalesceOptional(&p.BirthDate, patch.BirthDate),
		coalesceOptional(&p.Gender, patch.Gender),
		coalesceOptional(&p.BloodGroup, patch.BloodGroup),
		coalesceOptional(&p.HeightCm, patch.HeightCm),
		coalesceOptional(&p.WeightKg, patch.WeightKg),
		coalesceOptional(&p.Phone, patch.Phone),
		coalesceOptional(&p.Email, patch.Email),
		coalesceOptional(&p.AddressLine1, patch.AddressLine1),
		coalesceOptional(&p.AddressLine2, patch.AddressLine2),
		coalesceOptional(&p.City, patch.City),
		coalesceOptional(&p.State, patch.State),
		coalesceOptional(&p.PostalCode, patch.PostalCode),
		coalesceOptional(&p.Country, patch.Country),
		coalesceOptional(&p.Allergies, patch.Allergies),
		coalesceOptional(&p.ChronicConditions, patch.ChronicConditions),
		coalesceOptional(&p.EmergencyContactName, patch.EmergencyContactName),
		coalesceOptional(&p.EmergencyContactPhone, patch.EmergencyContactPhone),
	} {
		changed = changed || ok
	}
	return changed
}

// Vital is one vital-sign reading for a patient.
type Vital struct {
	ID         int64           `db:"id" json:"id"`
	PatientID  int64           `db:"patient_id" json:"patient_id"`
	Name       string          `db:"name" json:"name"`
	Value      decimal.Decimal `db:"value" json:"value"`
	Unit       string          `db:"unit" json:"unit"`
	MeasuredAt time.Time       `db:"measured_at" json:"measured_at"`
	CreatedBy  int64           `db:"created_by" json:"created_by"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}
