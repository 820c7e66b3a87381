package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

var _ PatientRepository = (*PostgresStore)(nil)

// Patient mirrors the patients table.
type Patient struct {
	ID          string     `json:"id"`
	ProfileID   *string    `json:"profileId,omitempty"`
	FirstName   string     `json:"firstName"`
	LastName    string     `json:"lastName"`
	Email       *string    `json:"email,omitempty"`
	Phone       *string    `json:"phone,omitempty"`
	DateOfBirth *time.Time `json:"dateOfBirth,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// PatientRepository reads patient records.
type PatientRepository interface {
	// GetPatient returns ErrNotFound (wrapped) for unknown ids.
	GetPatient(ctx context.Context, id string) (*Patient, error)

	// ListPatients returns one page, newest first, and the total number of patients.
	ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int64, error)
}

const patientColumns = `id, profile_id, first_name, last_name, email, phone, date_of_birth, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID,
		&p.ProfileID,
		&p.FirstName,
		&p.LastName,
		&p.Email,
		&p.Phone,
		&p.DateOfBirth,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) GetPatient(ctx context.Context, id string) (*Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients WHERE id = $1`

	p, err := scanPatient(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("patient %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query patient: %w", err)
	}
	return p, nil
}

// ListPatients runs a count query and a page query rather than a window function.
func (s *PostgresStore) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int64, error) {
	var total int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM patients`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count patients: %w", err)
	}
	if total == 0 {
		return []*Patient{}, 0, nil
	}

	query := `
		SELECT ` + patientColumns + `
		FROM patients
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2
	`
	rows, err := s.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list patients: %w", err)
	}
	defer rows.Close()

	patients := make([]*Patient, 0, limit)
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan patient row: %w", err)
		}
		patients = append(patients, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows iteration error: %w", err)
	}

	return patients, total, nil
}
