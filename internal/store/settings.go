package store

import (
	"context"
	"database/sql"
	"fmt"
)

// GetSetting reads a value from the settings KV table. ok is false when the
// key is absent (not an error condition — callers fall back to defaults).
func (s *Store) GetSetting(key string) (string, bool, error) {
	conn, release, err := s.Acquire(context.Background())
	if err != nil {
		return "", false, err
	}
	defer release()

	var value string
	err = conn.QueryRowContext(context.Background(), "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get setting %s: %w", key, err)
	}
	return value, true, nil
}

// SetSetting upserts a value into the settings KV table under the store's
// settings mutex plus a BEGIN IMMEDIATE transaction, so concurrent
// read-modify-write sequences against settings (e.g. scheduler reschedules
// that also consult settings) serialize correctly per spec.md §9.
func (s *Store) SetSetting(key, value string) error {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()

	return s.Session(context.Background(), true, func(tx *Tx) error {
		_, err := tx.ExecContext(context.Background(),
			`INSERT INTO settings (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			key, value)
		if err != nil {
			return fmt.Errorf("store: set setting %s: %w", key, err)
		}
		return nil
	})
}
