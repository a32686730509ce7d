package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"
)

const SettingRetentionDays = "retention_days"

type SettingsStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	GetInt(ctx context.Context, key string, fallback int) (int, error)
}

type settingsStore struct {
	db *DB
}

func NewSettingsStore(db *DB) SettingsStore {
	return &settingsStore{db: db}
}

func (s *settingsStore) Get(ctx context.Context, key string) (string, bool, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT value FROM settings WHERE key=?`), key)
	var value string
	err := row.Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *settingsStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO settings(key, value, updated_at) VALUES(?,?,?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`),
		key, value, time.Now().UTC())
	return err
}

func (s *settingsStore) GetInt(ctx context.Context, key string, fallback int) (int, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil {
		return fallback, err
	}
	if !ok {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback, nil
	}
	return n, nil
}
