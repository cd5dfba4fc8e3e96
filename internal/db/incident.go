package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/randalmurphal/verity/internal/status"
)

// Incident is a non-conformance raised against a task.
type Incident struct {
	ID                int64      `json:"id"`
	TaskID            int64      `json:"task_id"`
	PhaseID           int64      `json:"phase_id"`
	ProjectID         int64      `json:"project_id"`
	FailureType       string     `json:"failure_type"`
	Description       string     `json:"description"`
	RaisedBy          string     `json:"raised_by"`
	Resolved          bool       `json:"resolved"`
	ResolvedBy        string     `json:"resolved_by"`
	ResolutionComment string     `json:"resolution_comment"`
	CreatedAt         time.Time  `json:"created_at"`
	ResolvedAt        *time.Time `json:"resolved_at"`
}

// IncidentDocument is an immutable snapshot of the content a role reviewed.
type IncidentDocument struct {
	ID         int64     `json:"id"`
	IncidentID int64     `json:"incident_id"`
	Content    string    `json:"content"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// IncidentTransaction is one role hop in an incident's escalation chain.
type IncidentTransaction struct {
	ID          int64                            `json:"id"`
	IncidentID  int64                            `json:"incident_id"`
	Role        string                           `json:"role"`
	UserID      string                           `json:"user_id"`
	Status      status.IncidentTransactionStatus `json:"status"`
	DocumentID  int64                            `json:"document_id"`
	CreatedAt   time.Time                        `json:"created_at"`
	SubmittedAt *time.Time                       `json:"submitted_at"`
}

// CreateIncidentTx inserts an incident and sets inc.ID.
func CreateIncidentTx(tx *TxOps, inc *Incident) error {
	inc.CreatedAt = now()
	err := tx.QueryRow(`
		INSERT INTO incidents (task_id, phase_id, project_id, failure_type, description, raised_by, resolved, created_at)
		VALUES (?, ?, ?, ?, ?, ?, FALSE, ?)
		RETURNING id
	`, inc.TaskID, inc.PhaseID, inc.ProjectID, inc.FailureType, inc.Description, inc.RaisedBy,
		formatTime(inc.CreatedAt)).Scan(&inc.ID)
	if err != nil {
		return fmt.Errorf("create incident: %w", err)
	}
	return nil
}

func getIncident(tx *TxOps, id int64, suffix string) (*Incident, error) {
	var inc Incident
	var resolvedBy, comment, resolvedAt sql.NullString
	var createdAt string
	err := tx.QueryRow(`
		SELECT id, task_id, phase_id, project_id, failure_type, description, raised_by,
			resolved, resolved_by, resolution_comment, created_at, resolved_at
		FROM incidents WHERE id = ?`+suffix, id).Scan(
		&inc.ID, &inc.TaskID, &inc.PhaseID, &inc.ProjectID, &inc.FailureType, &inc.Description, &inc.RaisedBy,
		&inc.Resolved, &resolvedBy, &comment, &createdAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get incident %d: %w", id, err)
	}
	inc.ResolvedBy = resolvedBy.String
	inc.ResolutionComment = comment.String
	inc.CreatedAt = parseTime(createdAt)
	inc.ResolvedAt = parseNullTime(resolvedAt)
	return &inc, nil
}

// GetIncidentTx retrieves an incident. Returns nil, nil if not found.
func GetIncidentTx(tx *TxOps, id int64) (*Incident, error) {
	return getIncident(tx, id, "")
}

// LockIncidentTx retrieves an incident with its row locked for the rest of
// the transaction. Returns nil, nil if not found.
func LockIncidentTx(tx *TxOps, id int64) (*Incident, error) {
	return getIncident(tx, id, tx.forUpdate)
}

// ResolveIncidentTx marks an incident resolved.
func ResolveIncidentTx(tx *TxOps, id int64, resolvedBy, comment string) error {
	_, err := tx.Exec(`
		UPDATE incidents SET resolved = TRUE, resolved_by = ?, resolution_comment = ?, resolved_at = ?
		WHERE id = ?
	`, resolvedBy, comment, formatTime(now()), id)
	if err != nil {
		return fmt.Errorf("resolve incident %d: %w", id, err)
	}
	return nil
}

// CountOpenIncidentsTx returns the number of unresolved incidents on a task.
func CountOpenIncidentsTx(tx *TxOps, taskID int64) (int, error) {
	var n int
	if err := tx.QueryRow(`
		SELECT COUNT(*) FROM incidents WHERE task_id = ? AND NOT resolved
	`, taskID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count open incidents for task %d: %w", taskID, err)
	}
	return n, nil
}

// InsertIncidentDocumentTx stores a snapshot and sets d.ID.
func InsertIncidentDocumentTx(tx *TxOps, d *IncidentDocument) error {
	d.CreatedAt = now()
	err := tx.QueryRow(`
		INSERT INTO incident_documents (incident_id, content, created_by, created_at)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`, d.IncidentID, d.Content, d.CreatedBy, formatTime(d.CreatedAt)).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("insert incident document: %w", err)
	}
	return nil
}

// GetIncidentDocumentTx retrieves a snapshot. Returns nil, nil if not found.
func GetIncidentDocumentTx(tx *TxOps, id int64) (*IncidentDocument, error) {
	var d IncidentDocument
	var createdAt string
	err := tx.QueryRow(`
		SELECT id, incident_id, content, created_by, created_at FROM incident_documents WHERE id = ?
	`, id).Scan(&d.ID, &d.IncidentID, &d.Content, &d.CreatedBy, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get incident document %d: %w", id, err)
	}
	d.CreatedAt = parseTime(createdAt)
	return &d, nil
}

// InsertIncidentTransactionTx appends a hop to an incident chain and sets t.ID.
// A second pending row for the same (incident, role) fails with the store's
// unique violation.
func InsertIncidentTransactionTx(tx *TxOps, t *IncidentTransaction) error {
	t.CreatedAt = now()
	var userID *string
	if t.UserID != "" {
		userID = &t.UserID
	}
	err := tx.QueryRow(`
		INSERT INTO incident_transactions (incident_id, role, user_id, status, document_id, created_at, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`, t.IncidentID, t.Role, userID, string(t.Status), t.DocumentID, formatTime(t.CreatedAt),
		formatTimePtr(t.SubmittedAt)).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("insert incident transaction: %w", err)
	}
	return nil
}

const incidentTxnColumns = `
	id, incident_id, role, user_id, status, document_id, created_at, submitted_at
	FROM incident_transactions`

func scanIncidentTxn(row interface{ Scan(...any) error }) (*IncidentTransaction, error) {
	var t IncidentTransaction
	var userID, submittedAt sql.NullString
	var st, createdAt string
	if err := row.Scan(&t.ID, &t.IncidentID, &t.Role, &userID, &st, &t.DocumentID, &createdAt, &submittedAt); err != nil {
		return nil, err
	}
	t.UserID = userID.String
	t.Status = status.IncidentTransactionStatus(st)
	t.CreatedAt = parseTime(createdAt)
	t.SubmittedAt = parseNullTime(submittedAt)
	return &t, nil
}

// PendingTransactionTx returns the pending row for (incident, role).
// Returns nil, nil if there is none.
func PendingTransactionTx(tx *TxOps, incidentID int64, role string) (*IncidentTransaction, error) {
	t, err := scanIncidentTxn(tx.QueryRow(`SELECT `+incidentTxnColumns+`
		WHERE incident_id = ? AND role = ? AND status = ?
	`, incidentID, role, string(status.TxnPending)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pending transaction: %w", err)
	}
	return t, nil
}

// SubmitTransactionTx flips a pending row to submitted, recording who
// submitted it and the snapshot they reviewed. It reports false when the row
// was no longer pending.
func SubmitTransactionTx(tx *TxOps, id int64, userID string, documentID int64) (bool, error) {
	res, err := tx.Exec(`
		UPDATE incident_transactions SET status = ?, user_id = ?, document_id = ?, submitted_at = ?
		WHERE id = ? AND status = ?
	`, string(status.TxnSubmitted), userID, documentID, formatTime(now()), id, string(status.TxnPending))
	if err != nil {
		return false, fmt.Errorf("submit incident transaction %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("submit incident transaction rows affected: %w", err)
	}
	return n == 1, nil
}

// SkipPendingTransactionsTx marks every pending row of an incident skipped
// and returns how many rows changed.
func SkipPendingTransactionsTx(tx *TxOps, incidentID int64) (int64, error) {
	res, err := tx.Exec(`
		UPDATE incident_transactions SET status = ? WHERE incident_id = ? AND status = ?
	`, string(status.TxnSkipped), incidentID, string(status.TxnPending))
	if err != nil {
		return 0, fmt.Errorf("skip pending transactions: %w", err)
	}
	return res.RowsAffected()
}

// ListIncidentTransactionsTx returns an incident's chain in creation order.
func ListIncidentTransactionsTx(tx *TxOps, incidentID int64) ([]IncidentTransaction, error) {
	rows, err := tx.Query(`SELECT `+incidentTxnColumns+` WHERE incident_id = ? ORDER BY id`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list incident transactions: %w", err)
	}
	var out []IncidentTransaction
	for rows.Next() {
		t, err := scanIncidentTxn(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan incident transaction: %w", err)
		}
		out = append(out, *t)
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("iterate incident transactions: %w", err)
	}
	return out, nil
}
