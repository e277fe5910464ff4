package users

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/jrsteele09/primehr-session/internal/errors"
)

const userColumns = `id, email, password_hash, metadata, date_joined, last_login, confirmed_at, blocked`

// queryTimeout bounds each call since UserRepo methods take no context.
const queryTimeout = 5 * time.Second

// PostgresRepo stores users in the users table and their linked identities in
// user_identities.
type PostgresRepo struct {
	db *sql.DB
}

var _ UserRepo = (*PostgresRepo)(nil)

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// Upsert writes the user row and replaces its identities in one transaction.
func (r *PostgresRepo) Upsert(user *User) error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	metadata, err := json.Marshal(user.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata for user %s: %w", user.ID, err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		   email = EXCLUDED.email,
		   password_hash = EXCLUDED.password_hash,
		   metadata = EXCLUDED.metadata,
		   last_login = EXCLUDED.last_login,
		   confirmed_at = EXCLUDED.confirmed_at,
		   blocked = EXCLUDED.blocked`,
		user.ID, user.Email, user.PasswordHash, metadata, user.DateJoined,
		nullTime(user.LastLogin), user.ConfirmedAt, user.Blocked,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user %s: %w", user.ID, err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM user_identities WHERE user_id = $1`, user.ID); err != nil {
		return fmt.Errorf("failed to clear identities for user %s: %w", user.ID, err)
	}
	for _, id := range user.Identities {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO user_identities (user_id, provider, provider_user_id, linked_at)
			 VALUES ($1, $2, $3, $4)`,
			user.ID, id.Provider, id.ProviderUserID, id.LinkedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert %s identity for user %s: %w", id.Provider, user.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Delete removes the user. Identities go with it through ON DELETE CASCADE.
func (r *PostgresRepo) Delete(id string) error {
	return r.exec(id, `DELETE FROM users WHERE id = $1`, id)
}

func (r *PostgresRepo) GetByEmail(email string) (*User, error) {
	return r.getOne(`SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (r *PostgresRepo) GetByID(id string) (*User, error) {
	return r.getOne(`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *PostgresRepo) GetByIdentity(provider, providerUserID string) (*User, error) {
	return r.getOne(
		`SELECT `+userColumns+` FROM users
		 WHERE id = (SELECT user_id FROM user_identities WHERE provider = $1 AND provider_user_id = $2)`,
		provider, providerUserID,
	)
}

func (r *PostgresRepo) SetConfirmed(id string, at time.Time) error {
	return r.exec(id, `UPDATE users SET confirmed_at = $2 WHERE id = $1`, id, at)
}

func (r *PostgresRepo) SetBlocked(id string, blocked bool) error {
	return r.exec(id, `UPDATE users SET blocked = $2 WHERE id = $1`, id, blocked)
}

func (r *PostgresRepo) SetLastLogin(id string, at time.Time) error {
	return r.exec(id, `UPDATE users SET last_login = $2 WHERE id = $1`, id, at)
}

// exec runs a single-row statement and maps zero affected rows to ErrUserNotFound.
func (r *PostgresRepo) exec(id, query string, args ...any) error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update user %s: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperrors.ErrUserNotFound
	}
	return nil
}

func (r *PostgresRepo) getOne(query string, args ...any) (*User, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	var (
		u           User
		metadata    []byte
		lastLogin   sql.NullTime
		confirmedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &metadata, &u.DateJoined, &lastLogin, &confirmedAt, &u.Blocked,
	)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &u.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata for user %s: %w", u.ID, err)
		}
	}
	if lastLogin.Valid {
		u.LastLogin = lastLogin.Time
	}
	if confirmedAt.Valid {
		t := confirmedAt.Time
		u.ConfirmedAt = &t
	}

	u.Identities, err = r.identities(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *PostgresRepo) identities(ctx context.Context, userID string) ([]Identity, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT provider, provider_user_id, linked_at FROM user_identities
		 WHERE user_id = $1 ORDER BY linked_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities for user %s: %w", userID, err)
	}
	defer rows.Close()

	var out []Identity
	for rows.Next() {
		var id Identity
		if err := rows.Scan(&id.Provider, &id.ProviderUserID, &id.LinkedAt); err != nil {
			return nil, fmt.Errorf("failed to scan identity: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
