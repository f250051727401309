package pseudoid

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns the Postgres-backed substitution store. The primary key
// on (terser_path, original_value) and the unique index on (terser_path,
// replaced_value) carry the concurrency contract.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) Get(ctx context.Context, terser, original string) (*Mapping, error) {
	var m Mapping
	err := r.pool.QueryRow(ctx, `
		SELECT terser_path, original_value, replaced_value, created_at
		FROM identifier_pseudonym
		WHERE terser_path = $1 AND original_value = $2`, terser, original).
		Scan(&m.Terser, &m.OriginalValue, &m.ReplacedValue, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pseudoid: lookup: %w", err)
	}
	return &m, nil
}

func (r *repoPG) SubstituteExists(ctx context.Context, terser, replaced string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM identifier_pseudonym
			WHERE terser_path = $1 AND replaced_value = $2)`, terser, replaced).
		Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("pseudoid: substitute check: %w", err)
	}
	return exists, nil
}

func (r *repoPG) Create(ctx context.Context, m *Mapping) (*Mapping, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO identifier_pseudonym (terser_path, original_value, replaced_value)
		VALUES ($1,$2,$3)
		ON CONFLICT (terser_path, original_value) DO NOTHING`,
		m.Terser, m.OriginalValue, m.ReplacedValue)
	if isUniqueViolation(err) {
		// The (path, original) conflict is absorbed above, so a unique
		// violation here is the substitute index: resample.
		return nil, ErrSubstituteTaken
	}
	if err != nil {
		return nil, fmt.Errorf("pseudoid: insert: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return m, nil
	}
	winner, err := r.Get(ctx, m.Terser, m.OriginalValue)
	if err != nil {
		return nil, err
	}
	if winner == nil {
		return nil, fmt.Errorf("pseudoid: mapping for (%s, %s) vanished after conflict", m.Terser, m.OriginalValue)
	}
	return winner, nil
}

func (r *repoPG) GetControlID(ctx context.Context, controlID string) (*ControlIDMapping, error) {
	var m ControlIDMapping
	err := r.pool.QueryRow(ctx, `
		SELECT control_id, pseudo_id, created_at
		FROM message_control_id WHERE control_id = $1`, controlID).
		Scan(&m.ControlID, &m.PseudoID, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pseudoid: control-id lookup: %w", err)
	}
	return &m, nil
}

func (r *repoPG) CreateControlID(ctx context.Context, m *ControlIDMapping) (*ControlIDMapping, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO message_control_id (control_id, pseudo_id)
		VALUES ($1,$2)
		ON CONFLICT (control_id) DO NOTHING`, m.ControlID, m.PseudoID)
	if err != nil {
		return nil, fmt.Errorf("pseudoid: insert control id: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return m, nil
	}
	winner, err := r.GetControlID(ctx, m.ControlID)
	if err != nil {
		return nil, err
	}
	if winner == nil {
		return nil, fmt.Errorf("pseudoid: control-id mapping for %q vanished after conflict", m.ControlID)
	}
	return winner, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
