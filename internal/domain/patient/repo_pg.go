package patient

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smartrx/smartrx/internal/platform/db"
)

// -- Patient Repository --

type patientRepoPG struct {
	pool *pgxpool.Pool
}

func NewPatientRepo(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

const patientCols = `id, user_id, first_name, last_name, relationship, birth_date, gender, blood_group,
	height_cm, weight_kg, phone, email, address_line1, address_line2, city, state, postal_code, country,
	allergies, chronic_conditions, emergency_contact_name, emergency_contact_phone, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.UserID, &p.FirstName, &p.LastName, &p.Relationship, &p.BirthDate,
		&p.Gender, &p.BloodGroup, &p.HeightCm, &p.WeightKg, &p.Phone, &p.Email,
		&p.AddressLine1, &p.AddressLine2, &p.City, &p.State, &p.PostalCode, &p.Country,
		&p.Allergies, &p.ChronicConditions, &p.EmergencyContactName, &p.EmergencyContactPhone,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, db.NotFoundIfNoRows(err)
	}
	return &p, nil
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patient (
			user_id, first_name, last_name, relationship, birth_date, gender, blood_group,
			height_cm, weight_kg, phone, email, address_line1, address_line2, city, state, postal_code, country,
			allergies, chronic_conditions, emergency_contact_name, emergency_contact_phone
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,
			$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,
			$18,$19,$20,$21
		)
		RETURNING id, created_at, updated_at`,
		p.UserID, p.FirstName, p.LastName, p.Relationship, p.BirthDate, p.Gender, p.BloodGroup,
		p.HeightCm, p.WeightKg, p.Phone, p.Email, p.AddressLine1, p.AddressLine2, p.City, p.State, p.PostalCode, p.Country,
		p.Allergies, p.ChronicConditions, p.EmergencyContactName, p.EmergencyContactPhone,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

func (r *patientRepoPG) GetByID(ctx context.Context, id int64) (*Patient, error) {
	return scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
}

func (r *patientRepoPG) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*Patient, int, error) {
	conn := db.Conn(ctx, r.pool)

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM patient WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := conn.Query(ctx, `SELECT `+patientCols+` FROM patient WHERE user_id = $1
		ORDER BY id LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE patient SET
			first_name=$2, last_name=$3, relationship=$4, birth_date=$5, gender=$6, blood_group=$7,
			height_cm=$8, weight_kg=$9, phone=$10, email=$11, address_line1=$12, address_line2=$13,
			city=$14, state=$15, postal_code=$16, country=$17, allergies=$18, chronic_conditions=$19,
			emergency_contact_name=$20, emergency_contact_phone=$21, updated_at=now()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.FirstName, p.LastName, p.Relationship, p.BirthDate, p.Gender, p.BloodGroup,
		p.HeightCm, p.WeightKg, p.Phone, p.Email, p.AddressLine1, p.AddressLine2,
		p.City, p.State, p.PostalCode, p.Country, p.Allergies, p.ChronicConditions,
		p.EmergencyContactName, p.EmergencyContactPhone,
	).Scan(&p.UpdatedAt)
	return db.NotFoundIfNoRows(err)
}

func (r *patientRepoPG) Delete(ctx context.Context, id int64) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM patient WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

// -- Vital Repository --

type vitalRepoPG struct {
	pool *pgxpool.Pool
}

func NewVitalRepo(pool *pgxpool.Pool) VitalRepository {
	return &vitalRepoPG{pool: pool}
}

func (r *vitalRepoPG) Create(ctx context.Context, v *Vital) error {
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patient_vital (patient_id, name, value, unit, measured_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		v.PatientID, v.Name, v.Value, v.Unit, v.MeasuredAt, v.CreatedBy,
	).Scan(&v.ID, &v.CreatedAt)
}

func (r *vitalRepoPG) ListByPatient(ctx context.Context, patientID int64, limit, offset int) ([]*Vital, int, error) {
	conn := db.Conn(ctx, r.pool)

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM patient_vital WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := conn.Query(ctx, `
		SELECT id, patient_id, name, value, unit, measured_at, created_by, created_at
		FROM patient_vital WHERE patient_id = $1
		ORDER BY measured_at DESC, id DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Vital
	for rows.Next() {
		var v Vital
		if err := rows.Scan(&v.ID, &v.PatientID, &v.Name, &v.Value, &v.Unit, &v.MeasuredAt,
			&v.CreatedBy, &v.CreatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, &v)
	}
	return items, total, rows.Err()
}
