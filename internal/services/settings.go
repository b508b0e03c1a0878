package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/HerbHall/geoscout/internal/store"
)

// Setting is a persisted key-value entry.
type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SettingsRepository stores values that are changed at runtime rather than
// in the configuration file, such as the provider API key.
type SettingsRepository interface {
	Get(ctx context.Context, key string) (*Setting, error)
	Set(ctx context.Context, key, value string) error
	// Delete removes key. Deleting a missing key returns ErrNotFound.
	Delete(ctx context.Context, key string) error
}

// Compile-time interface guard.
var _ SettingsRepository = (*SQLiteSettingsRepository)(nil)

// SettingsMigrations creates the settings table. Apply them with
// store.Migrate under the "settings" component.
var SettingsMigrations = []store.Migration{
	{
		Version:     1,
		Description: "create settings",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE settings (
					key        TEXT PRIMARY KEY,
					value      TEXT NOT NULL,
					updated_at TEXT NOT NULL
				)`)
			return err
		},
	},
}

// SQLiteSettingsRepository implements SettingsRepository using SQLite.
type SQLiteSettingsRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteSettingsRepository creates a SettingsRepository over db.
// SettingsMigrations must already be applied.
func NewSQLiteSettingsRepository(db *sql.DB) *SQLiteSettingsRepository {
	return &SQLiteSettingsRepository{db: db, now: time.Now}
}

func (r *SQLiteSettingsRepository) Get(ctx context.Context, key string) (*Setting, error) {
	var (
		s         Setting
		updatedAt string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT key, value, updated_at FROM settings WHERE key = ?`, key,
	).Scan(&s.Key, &s.Value, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get setting %q: %w", key, err)
	}
	if s.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at of setting %q: %w", key, err)
	}
	return &s, nil
}

func (r *SQLiteSettingsRepository) Set(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, r.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

func (r *SQLiteSettingsRepository) Delete(ctx context.Context, key string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete setting %q: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
