package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jukebox/auth-backend/internal/model"
)

// tokenColumns flattens the optional provider token into nullable columns.
func tokenColumns(user *model.User) (access, refresh *string, expiry *time.Time) {
	if user.Token == nil {
		return nil, nil, nil
	}
	a := user.Token.AccessToken
	r := user.Token.RefreshToken
	e := user.Token.Expiry.UTC()
	return &a, &r, &e
}

func tokenFromColumns(access, refresh *string, expiry *time.Time) *model.ProviderToken {
	if access == nil && refresh == nil && expiry == nil {
		return nil
	}
	tok := &model.ProviderToken{}
	if access != nil {
		tok.AccessToken = *access
	}
	if refresh != nil {
		tok.RefreshToken = *refresh
	}
	if expiry != nil {
		tok.Expiry = expiry.UTC()
	}
	return tok
}

func (db *Postgres) EnsureSchema(ctx context.Context) error {
	queries := []string{
		`
		CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			provider_user_id TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			access_token TEXT,
			refresh_token TEXT,
			token_expiry TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
		`,
		`CREATE INDEX IF NOT EXISTS users_token_expiry_idx ON users(token_expiry)`,
	}

	for _, query := range queries {
		if _, err := db.Pool.Exec(ctx, query); err != nil {
			return err
		}
	}
	return nil
}

func (db *Postgres) FindByProviderUserID(ctx context.Context, providerUserID string) (*model.User, error) {
	query := `
		SELECT id, provider_user_id, display_name, email, access_token, refresh_token, token_expiry, created_at, updated_at
		FROM users
		WHERE provider_user_id = $1
	`
	var (
		user            model.User
		access, refresh *string
		expiry          *time.Time
	)
	err := db.Pool.QueryRow(ctx, query, providerUserID).Scan(
		&user.ID,
		&user.ProviderUserID,
		&user.DisplayName,
		&user.Email,
		&access,
		&refresh,
		&expiry,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, model.ErrUserNotFound
		}
		return nil, err
	}
	user.Token = tokenFromColumns(access, refresh, expiry)
	return &user, nil
}

// Save upserts the whole user row in one statement keyed by provider_user_id.
func (db *Postgres) Save(ctx context.Context, user *model.User) (*model.User, error) {
	if user.ProviderUserID == "" {
		return nil, fmt.Errorf("%w: empty provider user id", model.ErrInvalidInput)
	}
	access, refresh, expiry := tokenColumns(user)

	query := `
		INSERT INTO users (provider_user_id, display_name, email, access_token, refresh_token, token_expiry, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (provider_user_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			email = EXCLUDED.email,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_expiry = EXCLUDED.token_expiry,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`
	saved := *user
	err := db.Pool.QueryRow(ctx, query,
		user.ProviderUserID,
		user.DisplayName,
		user.Email,
		access,
		refresh,
		expiry,
	).Scan(&saved.ID, &saved.CreatedAt, &saved.UpdatedAt)
	if err != nil {
		return nil, err
	}
	saved.Token = tokenFromColumns(access, refresh, expiry)
	return &saved, nil
}

func (db *Postgres) FindExpiringWithin(ctx context.Context, now time.Time, window time.Duration) ([]model.User, error) {
	query := `
		SELECT id, provider_user_id, display_name, email, access_token, refresh_token, token_expiry, created_at, updated_at
		FROM users
		WHERE token_expiry >= $1 AND token_expiry < $2
		ORDER BY token_expiry ASC
	`
	rows, err := db.Pool.Query(ctx, query, now.UTC(), now.Add(window).UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var (
			user            model.User
			access, refresh *string
			expiry          *time.Time
		)
		if err := rows.Scan(
			&user.ID,
			&user.ProviderUserID,
			&user.DisplayName,
			&user.Email,
			&access,
			&refresh,
			&expiry,
			&user.CreatedAt,
			&user.UpdatedAt,
		); err != nil {
			return nil, err
		}
		user.Token = tokenFromColumns(access, refresh, expiry)
		users = append(users, user)
	}
	return users, rows.Err()
}

func (db *Postgres) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
