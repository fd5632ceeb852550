package db

import (
	"context"
	"database/sql"
	"time"
)

// Store adapts the package-level helpers to the small persistence interfaces the rest
// of the service consumes (token storage, settings slots).
type Store struct {
	DB *sql.DB
}

func NewStore(sqlDB *sql.DB) *Store { return &Store{DB: sqlDB} }

func (s *Store) UpsertOAuthToken(ctx context.Context, provider, accessToken, refreshToken string, expiry time.Time, raw string) error {
	return UpsertOAuthToken(ctx, s.DB, provider, accessToken, refreshToken, expiry, raw, "")
}

func (s *Store) GetOAuthToken(ctx context.Context, provider string) (string, string, time.Time, string, error) {
	return GetOAuthToken(ctx, s.DB, provider)
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	return SetSetting(ctx, s.DB, key, value)
}

func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	return GetSetting(ctx, s.DB, key)
}

func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	return DeleteSetting(ctx, s.DB, key)
}

func (s *Store) ListSettingsPrefix(ctx context.Context, prefix string) (map[string]string, error) {
	return ListSettingsPrefix(ctx, s.DB, prefix)
}
