package audit

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// PostgresSink appends entries to the auth_logs table.
type PostgresSink struct {
	db *sqlx.DB
}

func NewPostgresSink(db *sqlx.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

func (s *PostgresSink) Write(ctx context.Context, rec Record) error {
	const q = `INSERT INTO auth_logs (id, user_id, action, provider, ip, user_agent, created_at)
		VALUES (:id, :user_id, :action, :provider, :ip, :user_agent, :created_at)`
	_, err := s.db.NamedExecContext(ctx, q, rec)
	return err
}

// Recent returns the latest records for an identity, newest first.
func (s *PostgresSink) Recent(ctx context.Context, userID string, limit int) ([]Record, error) {
	const q = `SELECT id, user_id, action, provider, ip, user_agent, created_at
		FROM auth_logs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
	var out []Record
	if err := s.db.SelectContext(ctx, &out, q, userID, limit); err != nil {
		return nil, err
	}
	return out, nil
}
