// Package db provides database connection helpers, schema migration, and small data access
// helpers for the two tables this service owns: oauth_tokens (provider credentials) and
// settings (single-slot key/value records such as the cached YouTube ingestion stream id).
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/Kamikozz/discord-bot-twitch-vods-links/crypto"
)

var (
	encOnce   sync.Once
	encryptor crypto.Encryptor
	encErr    error
)

// getEncryptor returns the at-rest token encryptor configured via TOKEN_ENC_KEY,
// or nil when the key is unset (tokens stored plaintext, version 0).
func getEncryptor() (crypto.Encryptor, error) {
	encOnce.Do(func() {
		key := os.Getenv("TOKEN_ENC_KEY")
		if key == "" {
			slog.Warn("TOKEN_ENC_KEY not set, oauth tokens will be stored unencrypted")
			return
		}
		enc, err := crypto.NewAESEncryptor(key)
		if err != nil {
			encErr = fmt.Errorf("invalid TOKEN_ENC_KEY: %w", err)
			return
		}
		encryptor = enc
		slog.Info("oauth token encryption at rest enabled")
	})
	return encryptor, encErr
}

// Connect opens a Postgres connection. The DSN comes from config (DB_DSN).
func Connect(dsn string) (*sql.DB, error) {
	return sql.Open("pgx", dsn)
}

// Migrate applies idempotent schema changes for all required tables and indices.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS oauth_tokens (
			provider TEXT PRIMARY KEY,
			access_token TEXT,
			refresh_token TEXT,
			expires_at TIMESTAMPTZ,
			scope TEXT,
			raw TEXT,
			encryption_version INT DEFAULT 0,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`ALTER TABLE oauth_tokens ADD COLUMN IF NOT EXISTS encryption_version INT DEFAULT 0`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// UpsertOAuthToken stores or replaces the token row for a provider. With TOKEN_ENC_KEY
// configured the access and refresh tokens are encrypted before storage and the row is
// marked encryption_version 1; otherwise they are stored plaintext at version 0.
func UpsertOAuthToken(ctx context.Context, db *sql.DB, provider, accessToken, refreshToken string, expiry time.Time, raw, scope string) error {
	enc, err := getEncryptor()
	if err != nil {
		return err
	}
	encVersion := 0
	if enc != nil {
		encVersion = 1
		if accessToken, err = crypto.EncryptString(enc, accessToken); err != nil {
			return fmt.Errorf("encrypt access token: %w", err)
		}
		if refreshToken, err = crypto.EncryptString(enc, refreshToken); err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
	}
	_, err = db.ExecContext(ctx, `INSERT INTO oauth_tokens (provider, access_token, refresh_token, expires_at, scope, raw, encryption_version, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())
		ON CONFLICT(provider) DO UPDATE SET access_token=EXCLUDED.access_token, refresh_token=EXCLUDED.refresh_token,
			expires_at=EXCLUDED.expires_at, scope=EXCLUDED.scope, raw=EXCLUDED.raw,
			encryption_version=EXCLUDED.encryption_version, updated_at=NOW()`,
		provider, accessToken, refreshToken, expiry, strings.TrimSpace(scope), raw, encVersion)
	return err
}

// GetOAuthToken returns the stored token row for a provider. sql.ErrNoRows when absent.
// Version 1 rows are decrypted; version 0 rows pass through, so a deployment that turns
// encryption on keeps reading its pre-existing plaintext rows.
func GetOAuthToken(ctx context.Context, db *sql.DB, provider string) (accessToken, refreshToken string, expiry time.Time, raw string, err error) {
	var encVersion int
	row := db.QueryRowContext(ctx, `SELECT access_token, refresh_token, expires_at, COALESCE(raw,''), COALESCE(encryption_version,0) FROM oauth_tokens WHERE provider=$1`, provider)
	if err = row.Scan(&accessToken, &refreshToken, &expiry, &raw, &encVersion); err != nil {
		return
	}
	if encVersion == 1 {
		enc, encErr := getEncryptor()
		if encErr != nil {
			return "", "", time.Time{}, "", encErr
		}
		if enc == nil {
			return "", "", time.Time{}, "", fmt.Errorf("oauth token row for %s is encrypted but TOKEN_ENC_KEY is not set", provider)
		}
		if accessToken, err = crypto.DecryptString(enc, accessToken); err != nil {
			return "", "", time.Time{}, "", fmt.Errorf("decrypt access token: %w", err)
		}
		if refreshToken, err = crypto.DecryptString(enc, refreshToken); err != nil {
			return "", "", time.Time{}, "", fmt.Errorf("decrypt refresh token: %w", err)
		}
	}
	return
}

// SetSetting upserts a single settings slot.
func SetSetting(ctx context.Context, db *sql.DB, key, value string) error {
	_, err := db.ExecContext(ctx, `INSERT INTO settings (key, value, updated_at) VALUES ($1,$2,NOW())
		ON CONFLICT(key) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()`, key, value)
	return err
}

// GetSetting returns the value for a slot, or "" when the slot is absent.
func GetSetting(ctx context.Context, db *sql.DB, key string) (string, error) {
	var v string
	err := db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key=$1`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return v, err
}

// DeleteSetting removes a slot. Removing an absent slot is not an error.
func DeleteSetting(ctx context.Context, db *sql.DB, key string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM settings WHERE key=$1`, key)
	return err
}

// ListSettingsPrefix returns all slots whose key starts with prefix, keyed by the trimmed remainder.
// Used for per-broadcaster bookkeeping like the EventSub renewal schedule ids (sub:<login>).
func ListSettingsPrefix(ctx context.Context, db *sql.DB, prefix string) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT key, value FROM settings WHERE key LIKE $1 || '%'`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[strings.TrimPrefix(k, prefix)] = v
	}
	return out, rows.Err()
}
