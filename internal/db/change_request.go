package db

import (
	"database/sql"
	"fmt"
	"time"
)

// ChangeRequest is one revision of a change request against a project.
// Verified is set by a process outside the lifecycle engine; nil means no
// aggregate decision has been recorded.
type ChangeRequest struct {
	ID           int64     `json:"id"`
	ProjectID    int64     `json:"project_id"`
	Title        string    `json:"title"`
	Revision     int       `json:"revision"`
	SupersedesID *int64    `json:"supersedes_id"`
	Verified     *bool     `json:"verified"`
	CreatedBy    string    `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
}

// ChangeRequestApprover is one designated approver's independent decision.
type ChangeRequestApprover struct {
	ChangeRequestID int64      `json:"change_request_id"`
	UserID          string     `json:"user_id"`
	Verified        *bool      `json:"verified"`
	Reason          string     `json:"reason"`
	DecidedAt       *time.Time `json:"decided_at"`
}

// CreateChangeRequestTx inserts a change request revision and sets cr.ID.
func CreateChangeRequestTx(tx *TxOps, cr *ChangeRequest) error {
	cr.CreatedAt = now()
	if cr.Revision == 0 {
		cr.Revision = 1
	}
	err := tx.QueryRow(`
		INSERT INTO change_requests (project_id, title, revision, supersedes_id, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`, cr.ProjectID, cr.Title, cr.Revision, cr.SupersedesID, cr.CreatedBy, formatTime(cr.CreatedAt)).Scan(&cr.ID)
	if err != nil {
		return fmt.Errorf("create change request: %w", err)
	}
	return nil
}

func getChangeRequest(tx *TxOps, id int64, suffix string) (*ChangeRequest, error) {
	var cr ChangeRequest
	var supersedes sql.NullInt64
	var verified sql.NullBool
	var createdAt string
	err := tx.QueryRow(`
		SELECT id, project_id, title, revision, supersedes_id, verified, created_by, created_at
		FROM change_requests WHERE id = ?`+suffix, id).Scan(
		&cr.ID, &cr.ProjectID, &cr.Title, &cr.Revision, &supersedes, &verified, &cr.CreatedBy, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get change request %d: %w", id, err)
	}
	cr.SupersedesID = nullInt64Ptr(supersedes)
	cr.Verified = nullBoolPtr(verified)
	cr.CreatedAt = parseTime(createdAt)
	return &cr, nil
}

// GetChangeRequestTx retrieves a change request. Returns nil, nil if not found.
func GetChangeRequestTx(tx *TxOps, id int64) (*ChangeRequest, error) {
	return getChangeRequest(tx, id, "")
}

// LockChangeRequestTx is GetChangeRequestTx with the row locked.
func LockChangeRequestTx(tx *TxOps, id int64) (*ChangeRequest, error) {
	return getChangeRequest(tx, id, tx.forUpdate)
}

// SetChangeRequestVerifiedTx records the aggregate verification flag.
func SetChangeRequestVerifiedTx(tx *TxOps, id int64, verified *bool) error {
	if _, err := tx.Exec(`UPDATE change_requests SET verified = ? WHERE id = ?`, verified, id); err != nil {
		return fmt.Errorf("set change request %d verification: %w", id, err)
	}
	return nil
}

// ListApproversTx returns a change request's approvers ordered by user ID.
func ListApproversTx(tx *TxOps, changeRequestID int64) ([]ChangeRequestApprover, error) {
	rows, err := tx.Query(`
		SELECT change_request_id, user_id, verified, reason, decided_at
		FROM change_request_approvers WHERE change_request_id = ? ORDER BY user_id
	`, changeRequestID)
	if err != nil {
		return nil, fmt.Errorf("list approvers: %w", err)
	}
	var out []ChangeRequestApprover
	for rows.Next() {
		var a ChangeRequestApprover
		var verified sql.NullBool
		var decidedAt sql.NullString
		if err := rows.Scan(&a.ChangeRequestID, &a.UserID, &verified, &a.Reason, &decidedAt); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan approver: %w", err)
		}
		a.Verified = nullBoolPtr(verified)
		a.DecidedAt = parseNullTime(decidedAt)
		out = append(out, a)
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("iterate approvers: %w", err)
	}
	return out, nil
}

// AddApproverTx designates an approver with no decision yet. Adding an
// existing approver is a no-op that keeps their decision.
func AddApproverTx(tx *TxOps, changeRequestID int64, userID string) error {
	_, err := tx.Exec(`
		INSERT INTO change_request_approvers (change_request_id, user_id, reason)
		VALUES (?, ?, '')
		ON CONFLICT(change_request_id, user_id) DO NOTHING
	`, changeRequestID, userID)
	if err != nil {
		return fmt.Errorf("add approver %s: %w", userID, err)
	}
	return nil
}

// RemoveApproverTx removes an approver and their decision.
func RemoveApproverTx(tx *TxOps, changeRequestID int64, userID string) error {
	_, err := tx.Exec(`
		DELETE FROM change_request_approvers WHERE change_request_id = ? AND user_id = ?
	`, changeRequestID, userID)
	if err != nil {
		return fmt.Errorf("remove approver %s: %w", userID, err)
	}
	return nil
}

// RecordApproverDecisionTx stores one approver's decision. It reports false
// when the user is not an approver of the change request.
func RecordApproverDecisionTx(tx *TxOps, changeRequestID int64, userID string, verified bool, reason string) (bool, error) {
	res, err := tx.Exec(`
		UPDATE change_request_approvers SET verified = ?, reason = ?, decided_at = ?
		WHERE change_request_id = ? AND user_id = ?
	`, verified, reason, formatTime(now()), changeRequestID, userID)
	if err != nil {
		return false, fmt.Errorf("record approver decision: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record approver decision rows affected: %w", err)
	}
	return n == 1, nil
}

// RepointApproversTx moves every approver row from one revision to another
// and clears their decisions.
func RepointApproversTx(tx *TxOps, fromID, toID int64) error {
	_, err := tx.Exec(`
		UPDATE change_request_approvers
		SET change_request_id = ?, verified = NULL, reason = '', decided_at = NULL
		WHERE change_request_id = ?
	`, toID, fromID)
	if err != nil {
		return fmt.Errorf("repoint approvers from %d to %d: %w", fromID, toID, err)
	}
	return nil
}
