package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns the Postgres-backed identity repository. Uniqueness of
// patient identifiers and of the pseudonym-per-identity relation is enforced
// by table constraints, which is what makes concurrent first sightings safe.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) GetByPatientID(ctx context.Context, patientID string) (*PatientIdentity, error) {
	var pi PatientIdentity
	var sex *string
	err := r.pool.QueryRow(ctx, `
		SELECT i.id, i.last_name, i.first_name, i.administrative_sex, i.date_of_birth, i.created_at
		FROM patient_identity i
		JOIN patient_identifier pid ON pid.identity_id = i.id
		WHERE pid.identifier = $1`, patientID).
		Scan(&pi.ID, &pi.LastName, &pi.FirstName, &sex, &pi.DateOfBirth, &pi.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("identity: lookup %q: %w", patientID, err)
	}
	if sex != nil {
		s := AdministrativeSex(*sex)
		pi.Sex = &s
	}
	rows, err := r.pool.Query(ctx, `
		SELECT identifier FROM patient_identifier
		WHERE identity_id = $1 ORDER BY position`, pi.ID)
	if err != nil {
		return nil, fmt.Errorf("identity: load identifiers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		pi.PatientIDs = append(pi.PatientIDs, id)
	}
	return &pi, rows.Err()
}

func (r *repoPG) CreateIdentity(ctx context.Context, pi *PatientIdentity) error {
	if pi.ID == uuid.Nil {
		pi.ID = uuid.New()
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("identity: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO patient_identity (id, last_name, first_name, administrative_sex, date_of_birth)
		VALUES ($1,$2,$3,$4,$5)`,
		pi.ID, pi.LastName, pi.FirstName, sexString(pi.Sex), pi.DateOfBirth)
	if err != nil {
		return fmt.Errorf("identity: insert: %w", err)
	}
	for pos, id := range pi.PatientIDs {
		_, err = tx.Exec(ctx, `
			INSERT INTO patient_identifier (identifier, identity_id, position)
			VALUES ($1,$2,$3)`, id, pi.ID, pos)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %q", ErrDuplicateIdentifier, id)
		}
		if err != nil {
			return fmt.Errorf("identity: insert identifier %q: %w", id, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("identity: commit: %w", err)
	}
	pi.CreatedAt = time.Now()
	return nil
}

func (r *repoPG) GetPseudonym(ctx context.Context, identityID uuid.UUID) (*PatientPseudonym, error) {
	pp, err := r.scanPseudonym(ctx, identityID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return pp, err
}

func (r *repoPG) CreatePseudonym(ctx context.Context, pp *PatientPseudonym) (*PatientPseudonym, error) {
	if pp.ID == uuid.Nil {
		pp.ID = uuid.New()
	}
	// DO NOTHING on the identity_id constraint keeps the first writer's
	// record; the follow-up select returns the winner for everyone.
	_, err := r.pool.Exec(ctx, `
		INSERT INTO patient_pseudonym (id, identity_id, last_name, first_name, date_of_birth, offset_seconds)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (identity_id) DO NOTHING`,
		pp.ID, pp.IdentityID, pp.LastName, pp.FirstName, pp.DateOfBirth, int64(pp.Offset/time.Second))
	if err != nil {
		return nil, fmt.Errorf("identity: insert pseudonym: %w", err)
	}
	return r.scanPseudonym(ctx, pp.IdentityID)
}

func (r *repoPG) scanPseudonym(ctx context.Context, identityID uuid.UUID) (*PatientPseudonym, error) {
	var pp PatientPseudonym
	var offsetSeconds int64
	err := r.pool.QueryRow(ctx, `
		SELECT id, identity_id, last_name, first_name, date_of_birth, offset_seconds, created_at
		FROM patient_pseudonym WHERE identity_id = $1`, identityID).
		Scan(&pp.ID, &pp.IdentityID, &pp.LastName, &pp.FirstName, &pp.DateOfBirth, &offsetSeconds, &pp.CreatedAt)
	if err != nil {
		return nil, err
	}
	pp.Offset = time.Duration(offsetSeconds) * time.Second
	return &pp, nil
}

func sexString(s *AdministrativeSex) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
