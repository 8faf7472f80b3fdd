package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	apperrors "github.com/maxdhml/pulse-coach-backend/internal/errors"
	"github.com/maxdhml/pulse-coach-backend/internal/models"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// upsertAccountSQL keeps created_at from the first insert and only
// replaces metadata columns with non-empty values.
const upsertAccountSQL = `
INSERT INTO accounts (athlete_id, firstname, lastname, username, access_token, refresh_token, expires_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(athlete_id) DO UPDATE SET
    access_token  = excluded.access_token,
    refresh_token = excluded.refresh_token,
    expires_at    = excluded.expires_at,
    updated_at    = excluded.updated_at,
    firstname     = CASE WHEN excluded.firstname <> '' THEN excluded.firstname ELSE accounts.firstname END,
    lastname      = CASE WHEN excluded.lastname  <> '' THEN excluded.lastname  ELSE accounts.lastname  END,
    username      = CASE WHEN excluded.username  <> '' THEN excluded.username  ELSE accounts.username  END
RETURNING athlete_id, firstname, lastname, username, access_token, refresh_token, expires_at, created_at, updated_at`

const selectAccountSQL = `
SELECT athlete_id, firstname, lastname, username, access_token, refresh_token, expires_at, created_at, updated_at
FROM accounts WHERE athlete_id = ?`

// SQLiteStore keeps accounts in a SQLite table managed by goose
// migrations.
type SQLiteStore struct {
	db *sql.DB
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

// OpenSQLite opens the database at path and applies pending migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), boltDirPerm); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dsn := "file:" + cleanPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations applies all pending migrations using goose.
func runMigrations(ctx context.Context, db *sql.DB) error {
	migrationFS, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("creating migrations fs: %w", err)
	}

	provider, err := goose.NewProvider(database.DialectSQLite3, db, migrationFS)
	if err != nil {
		return fmt.Errorf("creating goose provider: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}

	return nil
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	return s.db.Close()
}

// Upsert is a single INSERT ... ON CONFLICT statement, atomic per row.
func (s *SQLiteStore) Upsert(ctx context.Context, acct models.Account) (models.Account, error) {
	if err := validateID(acct.AthleteID); err != nil {
		return models.Account{}, err
	}

	now := toMillis(nowFunc())

	row := s.db.QueryRowContext(ctx, upsertAccountSQL,
		acct.AthleteID,
		acct.FirstName,
		acct.LastName,
		acct.Username,
		acct.AccessToken,
		acct.RefreshToken,
		acct.ExpiresAt,
		now,
		now,
	)

	stored, err := scanAccount(row)
	if err != nil {
		return models.Account{}, fmt.Errorf("upserting account: %w", err)
	}

	return stored, nil
}

// Get returns the account for athleteID.
func (s *SQLiteStore) Get(ctx context.Context, athleteID int64) (models.Account, error) {
	acct, err := scanAccount(s.db.QueryRowContext(ctx, selectAccountSQL, athleteID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, fmt.Errorf("athlete %d: %w", athleteID, apperrors.ErrAccountNotFound)
	}

	if err != nil {
		return models.Account{}, fmt.Errorf("reading account %d: %w", athleteID, err)
	}

	return acct, nil
}

func scanAccount(row *sql.Row) (models.Account, error) {
	var (
		acct             models.Account
		created, updated int64
	)

	err := row.Scan(
		&acct.AthleteID,
		&acct.FirstName,
		&acct.LastName,
		&acct.Username,
		&acct.AccessToken,
		&acct.RefreshToken,
		&acct.ExpiresAt,
		&created,
		&updated,
	)
	if err != nil {
		return models.Account{}, err
	}

	acct.CreatedAt = fromMillis(created)
	acct.UpdatedAt = fromMillis(updated)

	return acct, nil
}
