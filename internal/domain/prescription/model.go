package prescription

import "time"

// Prescription maps to the prescription table. The file itself lives in the
// blob store under BlobKey.
type Prescription struct {
	ID              int64      `db:"id" json:"id"`
	UserID          int64      `db:"user_id" json:"user_id"`
	PatientID       *int64     `db:"patient_id" json:"patient_id,omitempty"`
	SmartRxMasterID *int64     `db:"smart_rx_master_id" json:"smart_rx_master_id,omitempty"`
	Title           *string    `db:"title" json:"title,omitempty"`
	DoctorName      *string    `db:"doctor_name" json:"doctor_name,omitempty"`
	PrescribedOn    *time.Time `db:"prescribed_on" json:"prescribed_on,omitempty"`
	Notes           *string    `db:"notes" json:"notes,omitempty"`
	BlobKey         string     `db:"blob_key" json:"-"`
	FileName        string     `db:"file_name" json:"file_name"`
	ContentType     string     `db:"content_type" json:"content_type"`
	SizeBytes       int64      `db:"size_bytes" json:"size_bytes"`
	SHA256          string     `db:"sha256" json:"sha256"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

type ListFilter struct {
	UserID    int64
	PatientID *int64
}
