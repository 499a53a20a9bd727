// Package pgstore is the PostgreSQL credential store. It persists user
// records and recovery codes; all other engine state lives in Redis.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"authgate"
)

const uniqueViolation = "23505"

// Store implements authgate.CredentialStore on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// New returns a Store using pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const userColumns = `id, email, password_hash, status, role, email_verified_at,
	mfa_enabled, COALESCE(mfa_secret, ''), mfa_last_counter, created_at`

func scanUser(row pgx.Row) (*authgate.UserRecord, error) {
	var u authgate.UserRecord
	var status string
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &status, &u.Role,
		&u.EmailVerifiedAt, &u.MFAEnabled, &u.MFASecret, &u.MFALastCounter, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, authgate.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.Status = authgate.AccountStatus(status)
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, in authgate.CreateUserInput) (*authgate.UserRecord, error) {
	id := uuid.NewString()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, email, password_hash, status, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+userColumns,
		id, in.Email, in.PasswordHash, string(authgate.StatusPendingVerification), in.Role)

	user, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, authgate.ErrEmailAlreadyRegistered
		}
		return nil, err
	}
	return user, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*authgate.UserRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*authgate.UserRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (s *Store) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`, userID, hash)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authgate.ErrUserNotFound
	}
	return nil
}

func (s *Store) MarkEmailVerified(ctx context.Context, userID string) error {
	// Idempotent: a second call matches zero rows and that is fine, as
	// long as the user exists.
	tag, err := s.pool.Exec(ctx, `
		UPDATE users
		SET email_verified_at = now(), status = $2, updated_at = now()
		WHERE id = $1 AND email_verified_at IS NULL`,
		userID, string(authgate.StatusActive))
	if err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.ensureExists(ctx, userID)
	}
	return nil
}

func (s *Store) SetStatus(ctx context.Context, userID string, status authgate.AccountStatus) error {
	var tag pgconn.CommandTag
	var err error
	if status == authgate.StatusDeleted {
		// The row survives for referential integrity; the email is
		// anonymized so it can be registered again.
		tag, err = s.pool.Exec(ctx, `
			UPDATE users
			SET status = $2, email = 'deleted+' || id, updated_at = now()
			WHERE id = $1`,
			userID, string(status))
	} else {
		tag, err = s.pool.Exec(ctx,
			`UPDATE users SET status = $2, updated_at = now() WHERE id = $1`,
			userID, string(status))
	}
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authgate.ErrUserNotFound
	}
	return nil
}

func (s *Store) EnableMFA(ctx context.Context, userID, secret string, recoveryHashes []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE users
		SET mfa_enabled = true, mfa_secret = $2, mfa_last_counter = -1, updated_at = now()
		WHERE id = $1 AND mfa_enabled = false`,
		userID, secret)
	if err != nil {
		return fmt.Errorf("enable mfa: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if err := s.ensureExists(ctx, userID); err != nil {
			return err
		}
		return authgate.ErrMFAAlreadyEnabled
	}

	for _, hash := range recoveryHashes {
		if _, err := tx.Exec(ctx,
			`INSERT INTO recovery_codes (user_id, code_hash) VALUES ($1, $2)`,
			userID, hash); err != nil {
			return fmt.Errorf("insert recovery code: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) DisableMFA(ctx context.Context, userID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE users
		SET mfa_enabled = false, mfa_secret = NULL, mfa_last_counter = -1, updated_at = now()
		WHERE id = $1`,
		userID)
	if err != nil {
		return fmt.Errorf("disable mfa: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authgate.ErrUserNotFound
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM recovery_codes WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete recovery codes: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Store) ReplaceRecoveryCodes(ctx context.Context, userID string, recoveryHashes []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var enabled bool
	err = tx.QueryRow(ctx,
		`SELECT mfa_enabled FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&enabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return authgate.ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("lock user: %w", err)
	}
	if !enabled {
		return authgate.ErrMFANotEnabled
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM recovery_codes WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete recovery codes: %w", err)
	}
	for _, hash := range recoveryHashes {
		if _, err := tx.Exec(ctx,
			`INSERT INTO recovery_codes (user_id, code_hash) VALUES ($1, $2)`,
			userID, hash); err != nil {
			return fmt.Errorf("insert recovery code: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) SetMFACounter(ctx context.Context, userID string, counter int64) error {
	// GREATEST keeps the counter monotonic even if two confirmations
	// race.
	_, err := s.pool.Exec(ctx, `
		UPDATE users
		SET mfa_last_counter = GREATEST(mfa_last_counter, $2), updated_at = now()
		WHERE id = $1`,
		userID, counter)
	if err != nil {
		return fmt.Errorf("set mfa counter: %w", err)
	}
	return nil
}

func (s *Store) ConsumeRecoveryCode(ctx context.Context, userID, codeHash string) (bool, error) {
	// The WHERE used_at IS NULL clause makes single use atomic: of two
	// concurrent attempts with the same code, exactly one update wins.
	tag, err := s.pool.Exec(ctx, `
		UPDATE recovery_codes
		SET used_at = now()
		WHERE user_id = $1 AND code_hash = $2 AND used_at IS NULL`,
		userID, codeHash)
	if err != nil {
		return false, fmt.Errorf("consume recovery code: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) ensureExists(ctx context.Context, userID string) error {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM users WHERE id = $1`, userID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return authgate.ErrUserNotFound
	}
	return err
}
