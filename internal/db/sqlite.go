package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jukebox/auth-backend/internal/model"
	_ "modernc.org/sqlite"
)

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// SQLite is the single-file user store for single-node deployments.
type SQLite struct {
	sqlDB *sql.DB
	now   func() time.Time
}

// OpenSQLite opens (creating when missing) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	cleanPath := filepath.Clean(path)
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	dsn := "file:" + cleanPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	return &SQLite{sqlDB: sqlDB, now: time.Now}, nil
}

func (s *SQLite) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *SQLite) EnsureSchema(ctx context.Context) error {
	queries := []string{
		`
		CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			provider_user_id TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			access_token TEXT,
			refresh_token TEXT,
			token_expiry INTEGER,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)
		`,
		`CREATE INDEX IF NOT EXISTS users_token_expiry_idx ON users(token_expiry)`,
	}

	for _, query := range queries {
		if _, err := s.sqlDB.ExecContext(ctx, query); err != nil {
			return err
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteUser(row rowScanner) (*model.User, error) {
	var (
		user                 model.User
		access, refresh      sql.NullString
		expiry               sql.NullInt64
		createdAt, updatedAt int64
	)
	if err := row.Scan(
		&user.ID,
		&user.ProviderUserID,
		&user.DisplayName,
		&user.Email,
		&access,
		&refresh,
		&expiry,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	user.CreatedAt = fromMillis(createdAt)
	user.UpdatedAt = fromMillis(updatedAt)
	if access.Valid || refresh.Valid || expiry.Valid {
		user.Token = &model.ProviderToken{
			AccessToken:  access.String,
			RefreshToken: refresh.String,
		}
		if expiry.Valid {
			user.Token.Expiry = fromMillis(expiry.Int64)
		}
	}
	return &user, nil
}

const sqliteUserColumns = `id, provider_user_id, display_name, email, access_token, refresh_token, token_expiry, created_at, updated_at`

func (s *SQLite) FindByProviderUserID(ctx context.Context, providerUserID string) (*model.User, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+sqliteUserColumns+` FROM users WHERE provider_user_id = ?`,
		providerUserID,
	)
	user, err := scanSQLiteUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func (s *SQLite) Save(ctx context.Context, user *model.User) (*model.User, error) {
	if user.ProviderUserID == "" {
		return nil, fmt.Errorf("%w: empty provider user id", model.ErrInvalidInput)
	}

	var (
		access, refresh sql.NullString
		expiry          sql.NullInt64
	)
	if user.Token != nil {
		access = sql.NullString{String: user.Token.AccessToken, Valid: true}
		refresh = sql.NullString{String: user.Token.RefreshToken, Valid: true}
		expiry = sql.NullInt64{Int64: toMillis(user.Token.Expiry), Valid: true}
	}
	now := toMillis(s.now())

	row := s.sqlDB.QueryRowContext(ctx, `
		INSERT INTO users (provider_user_id, display_name, email, access_token, refresh_token, token_expiry, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider_user_id) DO UPDATE SET
			display_name = excluded.display_name,
			email = excluded.email,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_expiry = excluded.token_expiry,
			updated_at = excluded.updated_at
		RETURNING `+sqliteUserColumns,
		user.ProviderUserID,
		user.DisplayName,
		user.Email,
		access,
		refresh,
		expiry,
		now,
		now,
	)
	return scanSQLiteUser(row)
}

func (s *SQLite) FindExpiringWithin(ctx context.Context, now time.Time, window time.Duration) ([]model.User, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+sqliteUserColumns+` FROM users
		WHERE token_expiry >= ? AND token_expiry < ?
		ORDER BY token_expiry ASC`,
		toMillis(now),
		toMillis(now.Add(window)),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		user, err := scanSQLiteUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}
