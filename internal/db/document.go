package db

import (
	"database/sql"
	"fmt"
	"time"
)

// TaskDocument is one version of a task's document. Version is nil for a
// draft that has never been submitted.
type TaskDocument struct {
	ID        int64     `json:"id"`
	TaskID    int64     `json:"task_id"`
	PhaseID   int64     `json:"phase_id"`
	ProjectID int64     `json:"project_id"`
	Content   string    `json:"content"`
	Version   *int64    `json:"version"`
	IsLatest  bool      `json:"is_latest"`
	AuthorID  string    `json:"author_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const documentColumns = `
	id, task_id, phase_id, project_id, content, doc_version, is_latest, author_id, created_at, updated_at
	FROM task_documents`

func scanDocument(row interface{ Scan(...any) error }) (*TaskDocument, error) {
	var d TaskDocument
	var version sql.NullInt64
	var createdAt, updatedAt string
	if err := row.Scan(&d.ID, &d.TaskID, &d.PhaseID, &d.ProjectID, &d.Content, &version, &d.IsLatest,
		&d.AuthorID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	d.Version = nullInt64Ptr(version)
	d.CreatedAt = parseTime(createdAt)
	d.UpdatedAt = parseTime(updatedAt)
	return &d, nil
}

// LatestTaskDocumentTx returns the task's latest document. Returns nil, nil
// if the task has none.
func LatestTaskDocumentTx(tx *TxOps, taskID int64) (*TaskDocument, error) {
	d, err := scanDocument(tx.QueryRow(`SELECT `+documentColumns+` WHERE task_id = ? AND is_latest`, taskID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest document for task %d: %w", taskID, err)
	}
	return d, nil
}

// LatestPhaseDocumentTx returns the phase's current draft across all of its
// tasks. Returns nil, nil if there is none.
func LatestPhaseDocumentTx(tx *TxOps, phaseID int64) (*TaskDocument, error) {
	d, err := scanDocument(tx.QueryRow(`SELECT `+documentColumns+` WHERE phase_id = ? AND is_latest`, phaseID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest document for phase %d: %w", phaseID, err)
	}
	return d, nil
}

// ListTaskDocumentsTx returns every document of a task in creation order.
func ListTaskDocumentsTx(tx *TxOps, taskID int64) ([]TaskDocument, error) {
	rows, err := tx.Query(`SELECT `+documentColumns+` WHERE task_id = ? ORDER BY id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	var docs []TaskDocument
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, *d)
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

// InsertDocumentTx inserts a document row and sets d.ID.
func InsertDocumentTx(tx *TxOps, d *TaskDocument) error {
	ts := now()
	d.CreatedAt, d.UpdatedAt = ts, ts
	err := tx.QueryRow(`
		INSERT INTO task_documents (task_id, phase_id, project_id, content, doc_version, is_latest, author_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`, d.TaskID, d.PhaseID, d.ProjectID, d.Content, d.Version, d.IsLatest, d.AuthorID,
		formatTime(ts), formatTime(ts)).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("insert document for task %d: %w", d.TaskID, err)
	}
	return nil
}

// OverwriteDocumentTx replaces a draft's content in place.
func OverwriteDocumentTx(tx *TxOps, id int64, content, authorID string) error {
	_, err := tx.Exec(`
		UPDATE task_documents SET content = ?, author_id = ?, updated_at = ? WHERE id = ?
	`, content, authorID, formatTime(now()), id)
	if err != nil {
		return fmt.Errorf("overwrite document %d: %w", id, err)
	}
	return nil
}

// CloseDocumentTx retires a versioned latest document: it stops being latest
// and its version is bumped by one.
func CloseDocumentTx(tx *TxOps, id int64) error {
	_, err := tx.Exec(`
		UPDATE task_documents SET is_latest = FALSE, doc_version = doc_version + 1, updated_at = ?
		WHERE id = ?
	`, formatTime(now()), id)
	if err != nil {
		return fmt.Errorf("close document %d: %w", id, err)
	}
	return nil
}

// ClearPhaseLatestTx unsets is_latest on every document of the phase.
func ClearPhaseLatestTx(tx *TxOps, phaseID int64) error {
	_, err := tx.Exec(`
		UPDATE task_documents SET is_latest = FALSE, updated_at = ? WHERE phase_id = ? AND is_latest
	`, formatTime(now()), phaseID)
	if err != nil {
		return fmt.Errorf("clear latest for phase %d: %w", phaseID, err)
	}
	return nil
}

// NormalizeVersionsTx assigns versions to the task's unversioned documents in
// creation order, continuing after the highest existing version. It returns
// the highest version afterwards (0 when the task has no documents).
func NormalizeVersionsTx(tx *TxOps, taskID int64) (int64, error) {
	var maxVersion int64
	if err := tx.QueryRow(`
		SELECT COALESCE(MAX(doc_version), 0) FROM task_documents WHERE task_id = ?
	`, taskID).Scan(&maxVersion); err != nil {
		return 0, fmt.Errorf("max version for task %d: %w", taskID, err)
	}

	rows, err := tx.Query(`
		SELECT id FROM task_documents WHERE task_id = ? AND doc_version IS NULL ORDER BY id
	`, taskID)
	if err != nil {
		return 0, fmt.Errorf("list unversioned documents: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("scan document id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := closeRows(rows); err != nil {
		return 0, fmt.Errorf("iterate unversioned documents: %w", err)
	}

	for _, id := range ids {
		maxVersion++
		if _, err := tx.Exec(`UPDATE task_documents SET doc_version = ? WHERE id = ?`, maxVersion, id); err != nil {
			return 0, fmt.Errorf("normalize version of document %d: %w", id, err)
		}
	}
	return maxVersion, nil
}
