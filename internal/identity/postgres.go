package identity

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const columns = `id, first_name, last_name, email, username, password_hash, role,
	providers, external_subject, subject_provider, avatar_url, failed_login_attempts,
	lock_until, created_at, updated_at`

// PostgresStore implements Store on the users table.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) get(ctx context.Context, q string, args ...any) (*Identity, error) {
	var row Identity
	if err := s.db.GetContext(ctx, &row, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (*Identity, error) {
	return s.get(ctx, `SELECT `+columns+` FROM users WHERE id = $1`, id)
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*Identity, error) {
	return s.get(ctx, `SELECT `+columns+` FROM users WHERE LOWER(email) = LOWER($1)`, email)
}

func (s *PostgresStore) FindByUsername(ctx context.Context, username string) (*Identity, error) {
	return s.get(ctx, `SELECT `+columns+` FROM users WHERE LOWER(username) = LOWER($1)`, username)
}

func (s *PostgresStore) FindBySubject(ctx context.Context, provider, subject string) (*Identity, error) {
	return s.get(ctx, `SELECT `+columns+` FROM users
		WHERE subject_provider = $1 AND external_subject = $2`, provider, subject)
}

func (s *PostgresStore) UsernameTaken(ctx context.Context, username string) (bool, error) {
	var taken bool
	err := s.db.GetContext(ctx, &taken,
		`SELECT EXISTS (SELECT 1 FROM users WHERE LOWER(username) = LOWER($1))`, username)
	return taken, err
}

func (s *PostgresStore) Create(ctx context.Context, ident *Identity) error {
	if ident.Role == "" {
		ident.Role = RoleEmployee
	}

	const q = `INSERT INTO users (first_name, last_name, email, username, password_hash, role,
			providers, external_subject, subject_provider, avatar_url)
		VALUES (:first_name, :last_name, :email, :username, :password_hash, :role,
			:providers, :external_subject, :subject_provider, :avatar_url)
		RETURNING id, created_at, updated_at`

	rows, err := s.db.NamedQueryContext(ctx, q, ident)
	if err != nil {
		return translate(err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return translate(err)
		}
		return errors.New("identity: insert returned no row")
	}
	return rows.Scan(&ident.ID, &ident.CreatedAt, &ident.UpdatedAt)
}

func (s *PostgresStore) LinkProvider(ctx context.Context, id uuid.UUID, link LinkUpdate) (*Identity, error) {
	// right-hand side sees the pre-update subject, so both columns are set
	// together or not at all
	const q = `UPDATE users SET
			providers = CASE WHEN $2::text = ANY(providers) THEN providers
				ELSE array_append(providers, $2::text) END,
			subject_provider = CASE WHEN external_subject IS NULL AND $3 <> '' THEN $2
				ELSE subject_provider END,
			external_subject = COALESCE(external_subject, NULLIF($3, '')),
			avatar_url = CASE WHEN avatar_url = '' THEN $4 ELSE avatar_url END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + columns

	ident, err := s.get(ctx, q, id, link.Provider, link.Subject, link.AvatarURL)
	if err != nil {
		return nil, translate(err)
	}
	return ident, nil
}

func (s *PostgresStore) SetPassword(ctx context.Context, id uuid.UUID, hash string) error {
	const q = `UPDATE users SET
			password_hash = $2,
			providers = CASE WHEN 'local' = ANY(providers) THEN providers
				ELSE array_append(providers, 'local') END,
			failed_login_attempts = 0,
			lock_until = NULL,
			updated_at = NOW()
		WHERE id = $1`

	res, err := s.db.ExecContext(ctx, q, id, hash)
	if err != nil {
		return err
	}
	return requireOne(res)
}

func (s *PostgresStore) RecordLoginFailure(ctx context.Context, id uuid.UUID, threshold int, lockUntil time.Time) (*Identity, error) {
	// right-hand side sees the pre-update counter
	const q = `UPDATE users SET
			failed_login_attempts = failed_login_attempts + 1,
			lock_until = CASE WHEN failed_login_attempts + 1 >= $2 AND lock_until IS NULL
				THEN $3 ELSE lock_until END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + columns

	return s.get(ctx, q, id, threshold, lockUntil)
}

func (s *PostgresStore) ResetLoginFailures(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE users SET failed_login_attempts = 0, lock_until = NULL, updated_at = NOW()
		WHERE id = $1 AND (failed_login_attempts > 0 OR lock_until IS NOT NULL)`
	_, err := s.db.ExecContext(ctx, q, id)
	return err
}

func (s *PostgresStore) UnlockIfExpired(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	const q = `UPDATE users SET failed_login_attempts = 0, lock_until = NULL, updated_at = NOW()
		WHERE id = $1 AND lock_until IS NOT NULL AND lock_until <= $2
		RETURNING 1`

	var one int
	if err := s.db.GetContext(ctx, &one, q, id, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func requireOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// translate maps a unique violation to ErrConflict.
func translate(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrConflict
	}
	return err
}
