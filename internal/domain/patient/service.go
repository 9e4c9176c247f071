package patient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/smartrx/smartrx/internal/domain/reward"
	"github.com/smartrx/smartrx/internal/platform/apierror"
	"github.com/smartrx/smartrx/internal/platform/auth"
	"github.com/smartrx/smartrx/internal/platform/db"
	"github.com/smartrx/smartrx/pkg/pagination"
)

// RewardAwarder records activity rewards. Satisfied by *reward.Service.
type RewardAwarder interface {
	AwardActivity(ctx context.Context, a reward.ActivityAward) (*reward.AwardResult, error)
}

type Service struct {
	patients PatientRepository
	vitals   VitalRepository
	rewards  RewardAwarder
	logger   zerolog.Logger
}

func NewService(patients PatientRepository, vitals VitalRepository, rewards RewardAwarder, logger zerolog.Logger) *Service {
	return &Service{
		patients: patients,
		vitals:   vitals,
		rewards:  rewards,
		logger:   logger.With().Str("component", "patient").Logger(),
	}
}

// award records the activity reward after a business command succeeded.
// Points go to the patient's owner; the caller is recorded as creator.
// Failures are logged; rewards never fail the command.
func (s *Service) award(ctx context.Context, activity string, p *Patient) *reward.AwardResult {
	if s.rewards == nil {
		return nil
	}
	patientID := p.ID
	res, err := s.rewards.AwardActivity(ctx, reward.ActivityAward{
		UserID:       p.UserID,
		ActivityName: activity,
		PatientID:    &patientID,
		CreatedBy:    auth.UserIDFromContext(ctx),
	})
	if err != nil {
		s.logger.Error().Err(err).Str("activity", activity).Int64("user_id", p.UserID).Msg("reward award failed")
		return nil
	}
	return res
}

// Get returns a patient the caller may access. Other users' patients are
// reported as missing.
func (s *Service) Get(ctx context.Context, id int64) (*Patient, error) {
	p, err := s.patients.GetByID(ctx, id)
	if db.IsNotFound(err) {
		return nil, apierror.NotFound("patient %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get patient %d: %w", id, err)
	}
	if p.UserID != auth.UserIDFromContext(ctx) && !auth.IsAdmin(ctx) {
		return nil, apierror.NotFound("patient %d not found", id)
	}
	return p, nil
}

type CreateInput struct {
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
	Patch
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*Patient, error) {
	if strings.TrimSpace(in.FirstName) == "" {
		return nil, apierror.BadRequest("first name is required")
	}
	p := &Patient{UserID: auth.UserIDFromContext(ctx)}
	in.Patch.Apply(p)
	p.FirstName = strings.TrimSpace(in.FirstName)
	p.LastName = strings.TrimSpace(in.LastName)
	if err := validatePatient(p); err != nil {
		return nil, err
	}

	if err := s.patients.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create patient: %w", err)
	}
	s.logger.Info().Int64("patient_id", p.ID).Int64("user_id", p.UserID).Msg("patient created")
	return p, nil
}

func (s *Service) List(ctx context.Context, pg pagination.Params) (pagination.Response[*Patient], error) {
	items, total, err := s.patients.ListByUser(ctx, auth.UserIDFromContext(ctx), pg.Limit(), pg.Offset())
	if err != nil {
		return pagination.Response[*Patient]{}, fmt.Errorf("list patients: %w", err)
	}
	return pagination.NewResponse(items, total, pg), nil
}

// Update applies a merge-patch and awards EDIT_PATIENT_PROFILE when the patch
// carried at least one field.
func (s *Service) Update(ctx context.Context, id int64, patch Patch) (*Patient, *reward.AwardResult, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !patch.Apply(p) {
		return nil, nil, apierror.BadRequest("no fields to update")
	}
	p.FirstName = strings.TrimSpace(p.FirstName)
	if err := validatePatient(p); err != nil {
		return nil, nil, err
	}

	if err := s.patients.Update(ctx, p); err != nil {
		if db.IsNotFound(err) {
			return nil, nil, apierror.NotFound("patient %d not found", id)
		}
		return nil, nil, fmt.Errorf("update patient %d: %w", id, err)
	}
	s.logger.Info().Int64("patient_id", id).Msg("patient profile updated")

	return p, s.award(ctx, reward.ActivityEditPatientProfile, p), nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.patients.Delete(ctx, id); err != nil {
		if db.IsNotFound(err) {
			return apierror.NotFound("patient %d not found", id)
		}
		return fmt.Errorf("delete patient %d: %w", id, err)
	}
	s.logger.Info().Int64("patient_id", id).Msg("patient deleted")
	return nil
}

func validatePatient(p *Patient) error {
	if p.FirstName == "" {
		return apierror.BadRequest("first name must not be empty")
	}
	if p.BirthDate != nil && p.BirthDate.After(time.Now()) {
		return apierror.BadRequest("birth date must not be in the future")
	}
	if p.HeightCm != nil && !p.HeightCm.IsPositive() {
		return apierror.BadRequest("height must be greater than zero")
	}
	if p.WeightKg != nil && !p.WeightKg.IsPositive() {
		return apierror.BadRequest("weight must be greater than zero")
	}
	return nil
}

// -- Vitals --

type VitalInput struct {
	Name       string          `json:"name" validate:"required,max=64"`
	Value      decimal.Decimal `json:"value"`
	Unit       string          `json:"unit" validate:"required,max=16"`
	MeasuredAt *time.Time      `json:"measured_at,omitempty"`
}

func (s *Service) AddVital(ctx context.Context, patientID int64, in VitalInput) (*Vital, *reward.AwardResult, error) {
	if strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.Unit) == "" {
		return nil, nil, apierror.BadRequest("vital name and unit are required")
	}
	if in.Value.IsNegative() {
		return nil, nil, apierror.BadRequest("vital value must not be negative")
	}
	p, err := s.Get(ctx, patientID)
	if err != nil {
		return nil, nil, err
	}

	measured := time.Now().UTC()
	if in.MeasuredAt != nil {
		if in.MeasuredAt.After(measured.Add(time.Minute)) {
			return nil, nil, apierror.BadRequest("measured_at must not be in the future")
		}
		measured = *in.MeasuredAt
	}

	v := &Vital{
		PatientID:  patientID,
		Name:       strings.TrimSpace(in.Name),
		Value:      in.Value,
		Unit:       strings.TrimSpace(in.Unit),
		MeasuredAt: measured,
		CreatedBy:  auth.UserIDFromContext(ctx),
	}
	if err := s.vitals.Create(ctx, v); err != nil {
		return nil, nil, fmt.Errorf("create vital: %w", err)
	}
	return v, s.award(ctx, reward.ActivityAddVital, p), nil
}

func (s *Service) ListVitals(ctx context.Context, patientID int64, pg pagination.Params) (pagination.Response[*Vital], error) {
	if _, err := s.Get(ctx, patientID); err != nil {
		return pagination.Response[*Vital]{}, err
	}
	items, total, err := s.vitals.ListByPatient(ctx, patientID, pg.Limit(), pg.Offset())
	if err != nil {
		return pagination.Response[*Vital]{}, fmt.Errorf("list vitals: %w", err)
	}
	return pagination.NewResponse(items, total, pg), nil
}
