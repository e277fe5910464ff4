package profiles

import (
	"context"
	"database/sql"
	"fmt"
)

const profileColumns = `id, email, first_name, last_name, user_type, company_name, company_size,
	industry, job_title, avatar_url, created_at, updated_at`

// PostgresRepo stores profiles in the profiles table.
type PostgresRepo struct {
	db *sql.DB
}

var _ Repo = (*PostgresRepo)(nil)

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// Get returns ErrNotFound when no row exists for the user.
func (r *PostgresRepo) Get(ctx context.Context, userID string) (*Profile, error) {
	p := &Profile{}
	var userType string
	err := r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = $1`,
		userID,
	).Scan(&p.ID, &p.Email, &p.FirstName, &p.LastName, &userType, &p.CompanyName, &p.CompanySize,
		&p.Industry, &p.JobTitle, &p.AvatarURL, &p.CreatedAt, &p.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile %s: %w", userID, err)
	}
	p.UserType = UserType(userType)
	return p, nil
}

func (r *PostgresRepo) Upsert(ctx context.Context, p *Profile) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO profiles (`+profileColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO UPDATE SET
		   email = EXCLUDED.email,
		   first_name = EXCLUDED.first_name,
		   last_name = EXCLUDED.last_name,
		   user_type = EXCLUDED.user_type,
		   company_name = EXCLUDED.company_name,
		   company_size = EXCLUDED.company_size,
		   industry = EXCLUDED.industry,
		   job_title = EXCLUDED.job_title,
		   avatar_url = EXCLUDED.avatar_url,
		   updated_at = EXCLUDED.updated_at`,
		p.ID, p.Email, p.FirstName, p.LastName, string(p.UserType), p.CompanyName, p.CompanySize,
		p.Industry, p.JobTitle, p.AvatarURL, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert profile %s: %w", p.ID, err)
	}
	return nil
}

func (r *PostgresRepo) Delete(ctx context.Context, userID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM profiles WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
