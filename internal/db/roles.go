package db

import (
	"database/sql"
	"fmt"
)

// ActiveRoleTx returns the user's single active role, or "" if none.
func ActiveRoleTx(tx *TxOps, userID string) (string, error) {
	var role string
	err := tx.QueryRow(`SELECT role FROM user_roles WHERE user_id = ? AND active`, userID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("active role for %s: %w", userID, err)
	}
	return role, nil
}

// SetActiveRoleTx makes role the user's only active role.
func SetActiveRoleTx(tx *TxOps, userID, role string) error {
	if _, err := tx.Exec(`UPDATE user_roles SET active = FALSE WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("deactivate roles for %s: %w", userID, err)
	}
	_, err := tx.Exec(`
		INSERT INTO user_roles (user_id, role, active) VALUES (?, ?, TRUE)
		ON CONFLICT(user_id, role) DO UPDATE SET active = TRUE
	`, userID, role)
	if err != nil {
		return fmt.Errorf("set role %s for %s: %w", role, userID, err)
	}
	return nil
}

// ClearActiveRoleTx leaves the user with no active role.
func ClearActiveRoleTx(tx *TxOps, userID string) error {
	if _, err := tx.Exec(`UPDATE user_roles SET active = FALSE WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clear roles for %s: %w", userID, err)
	}
	return nil
}
