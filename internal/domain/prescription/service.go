package prescription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/smartrx/smartrx/internal/domain/patient"
	"github.com/smartrx/smartrx/internal/domain/reward"
	"github.com/smartrx/smartrx/internal/platform/apierror"
	"github.com/smartrx/smartrx/internal/platform/auth"
	"github.com/smartrx/smartrx/internal/platform/blobstore"
	"github.com/smartrx/smartrx/internal/platform/db"
	"github.com/smartrx/smartrx/pkg/pagination"
)

// PatientLookup resolves a patient the caller may access. Satisfied by
// *patient.Service.
type PatientLookup interface {
	Get(ctx context.Context, id int64) (*patient.Patient, error)
}

// RewardAwarder records activity rewards. Satisfied by *reward.Service.
type RewardAwarder interface {
	AwardActivity(ctx context.Context, a reward.ActivityAward) (*reward.AwardResult, error)
}

type Service struct {
	repo     Repository
	blobs    blobstore.Store
	patients PatientLookup
	rewards  RewardAwarder
	logger   zerolog.Logger
}

func NewService(repo Repository, blobs blobstore.Store, patients PatientLookup, rewards RewardAwarder, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		blobs:    blobs,
		patients: patients,
		rewards:  rewards,
		logger:   logger.With().Str("component", "prescription").Logger(),
	}
}

// award credits the prescription's owner, which differs from the caller when
// an admin acts on someone else's record.
func (s *Service) award(ctx context.Context, activity string, p *Prescription) *reward.AwardResult {
	if s.rewards == nil {
		return nil
	}
	prescriptionID := p.ID
	res, err := s.rewards.AwardActivity(ctx, reward.ActivityAward{
		UserID:          p.UserID,
		ActivityName:    activity,
		PatientID:       p.PatientID,
		PrescriptionID:  &prescriptionID,
		SmartRxMasterID: p.SmartRxMasterID,
		CreatedBy:       auth.UserIDFromContext(ctx),
	})
	if err != nil {
		s.logger.Error().Err(err).Str("activity", activity).Int64("prescription_id", p.ID).Msg("reward award failed")
		return nil
	}
	return res
}

type UploadInput struct {
	FileName        string
	Content         io.Reader
	PatientID       *int64
	SmartRxMasterID *int64
	Title           *string
	DoctorName      *string
	PrescribedOn    *time.Time
	Notes           *string
}

func blobError(err error) error {
	switch {
	case errors.Is(err, blobstore.ErrFileTooLarge):
		return apierror.New(http.StatusRequestEntityTooLarge, "%s", err.Error())
	case errors.Is(err, blobstore.ErrInvalidContentType):
		return apierror.New(http.StatusUnsupportedMediaType, "%s", err.Error())
	case errors.Is(err, blobstore.ErrEmptyFile), errors.Is(err, blobstore.ErrMissingFileName):
		return apierror.BadRequest("%s", err.Error())
	}
	return fmt.Errorf("store prescription file: %w", err)
}

// Upload stores the file and its metadata and awards UPLOAD_PRESCRIPTION.
func (s *Service) Upload(ctx context.Context, in UploadInput) (*Prescription, *reward.AwardResult, error) {
	if in.PatientID != nil {
		if _, err := s.patients.Get(ctx, *in.PatientID); err != nil {
			return nil, nil, err
		}
	}

	obj, err := s.blobs.Put(ctx, in.FileName, in.Content)
	if err != nil {
		return nil, nil, blobError(err)
	}

	p := &Prescription{
		UserID:          auth.UserIDFromContext(ctx),
		PatientID:       in.PatientID,
		SmartRxMasterID: in.SmartRxMasterID,
		Title:           in.Title,
		DoctorName:      in.DoctorName,
		PrescribedOn:    in.PrescribedOn,
		Notes:           in.Notes,
		BlobKey:         obj.Key,
		FileName:        obj.FileName,
		ContentType:     obj.ContentType,
		SizeBytes:       obj.Size,
		SHA256:          obj.SHA256,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		if derr := s.blobs.Delete(ctx, obj.Key); derr != nil {
			s.logger.Warn().Err(derr).Str("blob_key", obj.Key).Msg("orphaned blob after failed insert")
		}
		return nil, nil, fmt.Errorf("create prescription: %w", err)
	}

	s.logger.Info().
		Int64("prescription_id", p.ID).
		Int64("user_id", p.UserID).
		Int64("size_bytes", p.SizeBytes).
		Str("content_type", p.ContentType).
		Msg("prescription uploaded")
	return p, s.award(ctx, reward.ActivityUploadPrescription, p), nil
}

// Get returns a prescription owned by the caller. Other users' prescriptions
// are reported as missing.
func (s *Service) Get(ctx context.Context, id int64) (*Prescription, error) {
	p, err := s.repo.GetByID(ctx, id)
	if db.IsNotFound(err) {
		return nil, apierror.NotFound("prescription %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get prescription %d: %w", id, err)
	}
	if p.UserID != auth.UserIDFromContext(ctx) && !auth.IsAdmin(ctx) {
		return nil, apierror.NotFound("prescription %d not found", id)
	}
	return p, nil
}

func (s *Service) List(ctx context.Context, patientID *int64, pg pagination.Params) (pagination.Response[*Prescription], error) {
	f := ListFilter{UserID: auth.UserIDFromContext(ctx), PatientID: patientID}
	items, total, err := s.repo.List(ctx, f, pg.Limit(), pg.Offset())
	if err != nil {
		return pagination.Response[*Prescription]{}, fmt.Errorf("list prescriptions: %w", err)
	}
	return pagination.NewResponse(items, total, pg), nil
}

// Download opens the file and awards DOWNLOAD_PRESCRIPTION once for this call.
// The caller closes the returned reader.
func (s *Service) Download(ctx context.Context, id int64) (*Prescription, io.ReadCloser, *reward.AwardResult, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	rc, err := s.blobs.Open(ctx, p.BlobKey)
	if errors.Is(err, blobstore.ErrBlobNotFound) {
		s.logger.Error().Int64("prescription_id", id).Str("blob_key", p.BlobKey).Msg("prescription file missing")
		return nil, nil, nil, apierror.NotFound("prescription %d file not found", id)
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open prescription file: %w", err)
	}
	return p, rc, s.award(ctx, reward.ActivityDownloadPrescription, p), nil
}

// TagPatient links the prescription to one of the caller's patients.
func (s *Service) TagPatient(ctx context.Context, id, patientID int64) (*Prescription, *reward.AwardResult, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.patients.Get(ctx, patientID); err != nil {
		return nil, nil, err
	}
	if err := s.repo.SetPatient(ctx, id, patientID); err != nil {
		if db.IsNotFound(err) {
			return nil, nil, apierror.NotFound("prescription %d not found", id)
		}
		return nil, nil, fmt.Errorf("tag prescription %d: %w", id, err)
	}
	p.PatientID = &patientID
	return p, s.award(ctx, reward.ActivityTagPrescription, p), nil
}

// Delete removes the record, then its file, and awards DELETE_PRESCRIPTION.
func (s *Service) Delete(ctx context.Context, id int64) (*reward.AwardResult, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if db.IsNotFound(err) {
			return nil, apierror.NotFound("prescription %d not found", id)
		}
		return nil, fmt.Errorf("delete prescription %d: %w", id, err)
	}
	if err := s.blobs.Delete(ctx, p.BlobKey); err != nil && !errors.Is(err, blobstore.ErrBlobNotFound) {
		s.logger.Warn().Err(err).Str("blob_key", p.BlobKey).Msg("failed to delete prescription file")
	}
	s.logger.Info().Int64("prescription_id", id).Msg("prescription deleted")
	return s.award(ctx, reward.ActivityDeletePrescription, p), nil
}
