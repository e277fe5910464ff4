package refresh

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	apperrors "github.com/jrsteele09/primehr-session/internal/errors"
)

const queryTimeout = 5 * time.Second

// PostgresRepo keeps refresh token metadata in the refresh_tokens table.
type PostgresRepo struct {
	db *sql.DB
}

var _ Repo = (*PostgresRepo)(nil)

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Upsert(rt *StoredRefreshToken) error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (token, user_id, session_id, iat)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (token) DO UPDATE SET
		   user_id = EXCLUDED.user_id,
		   session_id = EXCLUDED.session_id,
		   iat = EXCLUDED.iat`,
		rt.Token, rt.UserID, rt.SessionID, rt.Iat,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert refresh token for session %s: %w", rt.SessionID, err)
	}
	return nil
}

// Delete returns ErrInvalidRefreshToken when the token is unknown.
func (r *PostgresRepo) Delete(token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	result, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperrors.ErrInvalidRefreshToken
	}
	return nil
}

func (r *PostgresRepo) Get(token string) (*StoredRefreshToken, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	rt := &StoredRefreshToken{}
	err := r.db.QueryRowContext(ctx,
		`SELECT token, user_id, session_id, iat FROM refresh_tokens WHERE token = $1`,
		token,
	).Scan(&rt.Token, &rt.UserID, &rt.SessionID, &rt.Iat)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}
	return rt, nil
}

func (r *PostgresRepo) DeleteBySessionID(sessionID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("failed to delete refresh tokens for session %s: %w", sessionID, err)
	}
	return nil
}
