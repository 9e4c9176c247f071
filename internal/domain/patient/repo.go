package patient

import "context"

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id int64) (*Patient, error)
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*Patient, int, error)
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, id int64) error
}

type VitalRepository interface {
	Create(ctx context.Context, v *Vital) error
	ListByPatient(ctx context.Context, patientID int64, limit, offset int) ([]*Vital, int, error)
}
