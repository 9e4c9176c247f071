package prescription

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smartrx/smartrx/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const cols = `id, user_id, patient_id, smart_rx_master_id, title, doctor_name, prescribed_on, notes,
	blob_key, file_name, content_type, size_bytes, sha256, created_at, updated_at`

func scan(row pgx.Row) (*Prescription, error) {
	var p Prescription
	err := row.Scan(&p.ID, &p.UserID, &p.PatientID, &p.SmartRxMasterID, &p.Title, &p.DoctorName,
		&p.PrescribedOn, &p.Notes, &p.BlobKey, &p.FileName, &p.ContentType, &p.SizeBytes, &p.SHA256,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, db.NotFoundIfNoRows(err)
	}
	return &p, nil
}

func (r *repoPG) Create(ctx context.Context, p *Prescription) error {
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO prescription (user_id, patient_id, smart_rx_master_id, title, doctor_name,
			prescribed_on, notes, blob_key, file_name, content_type, size_bytes, sha256)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id, created_at, updated_at`,
		p.UserID, p.PatientID, p.SmartRxMasterID, p.Title, p.DoctorName,
		p.PrescribedOn, p.Notes, p.BlobKey, p.FileName, p.ContentType, p.SizeBytes, p.SHA256,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id int64) (*Prescription, error) {
	return scan(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+cols+` FROM prescription WHERE id = $1`, id))
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Prescription, int, error) {
	conn := db.Conn(ctx, r.pool)
	where := ` WHERE user_id = $1`
	args := []any{f.UserID}
	if f.PatientID != nil {
		where += ` AND patient_id = $2`
		args = append(args, *f.PatientID)
	}

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM prescription`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM prescription%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		cols, where, len(args)+1, len(args)+2)
	rows, err := conn.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Prescription
	for rows.Next() {
		p, err := scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *repoPG) SetPatient(ctx context.Context, id, patientID int64) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE prescription SET patient_id = $2, updated_at = now() WHERE id = $1`, id, patientID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id int64) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM prescription WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}
