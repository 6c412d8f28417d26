package rules

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresMedium implements Medium as one row of the rule_slots table.
// The payload column is JSONB so the snapshot stays queryable from SQL.
type PostgresMedium struct {
	db   *sql.DB
	slot string
}

// NewPostgresMedium creates a PostgreSQL-backed slot with the given name
func NewPostgresMedium(db *sql.DB, slot string) *PostgresMedium {
	return &PostgresMedium{
		db:   db,
		slot: slot,
	}
}

// Read returns the payload stored under the slot name
func (s *PostgresMedium) Read(ctx context.Context) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT payload
		FROM rule_slots
		WHERE name = $1
	`, s.slot).Scan(&payload)

	if err == sql.ErrNoRows {
		return nil, ErrSlotEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read slot %s: %w", s.slot, err)
	}

	return payload, nil
}

// Write upserts the payload under the slot name
func (s *PostgresMedium) Write(ctx context.Context, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rule_slots (name, payload, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name)
		DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at
	`, s.slot, data)

	if err != nil {
		return fmt.Errorf("failed to write slot %s: %w", s.slot, err)
	}

	return nil
}
