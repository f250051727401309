package msgindex

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) Insert(ctx context.Context, m *IndexedMessage) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO hl7_message (id, control_id, pseudo_control_id, msg_type, trigger_event, structure,
			patient_id, case_id, filename)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (control_id) DO NOTHING`,
		m.ID, m.ControlID, m.PseudoControlID, m.MsgType, m.Trigger, m.Structure,
		m.PatientID, m.CaseID, m.Filename)
	if err != nil {
		return fmt.Errorf("msgindex: insert: %w", err)
	}
	return nil
}

func (r *repoPG) Search(ctx context.Context, f Filter, limit int) ([]*IndexedMessage, error) {
	where := []string{"TRUE"}
	var args []interface{}
	add := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		where = append(where, col+" = $"+strconv.Itoa(len(args)))
	}
	add("patient_id", f.PatientID)
	add("case_id", f.CaseID)
	add("msg_type", f.MsgType)
	add("trigger_event", f.Trigger)
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, `
		SELECT id, control_id, pseudo_control_id, msg_type, trigger_event, structure,
			patient_id, case_id, filename, created_at
		FROM hl7_message
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY created_at DESC
		LIMIT $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("msgindex: search: %w", err)
	}
	defer rows.Close()

	var items []*IndexedMessage
	for rows.Next() {
		var m IndexedMessage
		if err := rows.Scan(&m.ID, &m.ControlID, &m.PseudoControlID, &m.MsgType, &m.Trigger, &m.Structure,
			&m.PatientID, &m.CaseID, &m.Filename, &m.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &m)
	}
	return items, rows.Err()
}
