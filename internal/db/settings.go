package db

import (
	"database/sql"
	"fmt"
)

// GetSettingTx returns a setting's value and whether it exists.
func GetSettingTx(tx *TxOps, key string) (string, bool, error) {
	var value string
	err := tx.QueryRow(`SELECT value FROM app_settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, true, nil
}

// SetSettingTx creates or replaces a setting.
func SetSettingTx(tx *TxOps, key, value string) error {
	_, err := tx.Exec(`
		INSERT INTO app_settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, formatTime(now()))
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}
