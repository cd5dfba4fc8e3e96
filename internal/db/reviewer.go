package db

import (
	"database/sql"
	"fmt"
	"time"
)

// ReviewerAssignment pairs a user with a task they must submit.
type ReviewerAssignment struct {
	TaskID      int64      `json:"task_id"`
	UserID      string     `json:"user_id"`
	Submitted   bool       `json:"submitted"`
	SubmittedAt *time.Time `json:"submitted_at"`
}

// AddAssignmentTx inserts an unsubmitted reviewer assignment and returns the
// number of reviewers now on the task. The task's required count is raised to
// that number when it falls short, so a template default acts as a floor. A
// duplicate (task, user) pair fails with the store's unique violation.
func AddAssignmentTx(tx *TxOps, taskID int64, userID string) (int, error) {
	if _, err := tx.Exec(`
		INSERT INTO reviewer_assignments (task_id, user_id, submitted) VALUES (?, ?, FALSE)
	`, taskID, userID); err != nil {
		return 0, fmt.Errorf("add reviewer %s to task %d: %w", userID, taskID, err)
	}
	var n int
	if err := tx.QueryRow(`
		SELECT COUNT(*) FROM reviewer_assignments WHERE task_id = ?
	`, taskID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count reviewers for task %d: %w", taskID, err)
	}
	if _, err := tx.Exec(`
		UPDATE tasks SET required_count = ?, updated_at = ? WHERE id = ? AND required_count < ?
	`, n, formatTime(now()), taskID, n); err != nil {
		return 0, fmt.Errorf("raise required count for task %d: %w", taskID, err)
	}
	return n, nil
}

// GetAssignmentTx retrieves one assignment. Returns nil, nil if the user is
// not assigned to the task.
func GetAssignmentTx(tx *TxOps, taskID int64, userID string) (*ReviewerAssignment, error) {
	var a ReviewerAssignment
	var submittedAt sql.NullString
	err := tx.QueryRow(`
		SELECT task_id, user_id, submitted, submitted_at
		FROM reviewer_assignments WHERE task_id = ? AND user_id = ?
	`, taskID, userID).Scan(&a.TaskID, &a.UserID, &a.Submitted, &submittedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get assignment: %w", err)
	}
	a.SubmittedAt = parseNullTime(submittedAt)
	return &a, nil
}

// ListAssignmentsTx returns a task's reviewers ordered by user ID.
func ListAssignmentsTx(tx *TxOps, taskID int64) ([]ReviewerAssignment, error) {
	rows, err := tx.Query(`
		SELECT task_id, user_id, submitted, submitted_at
		FROM reviewer_assignments WHERE task_id = ? ORDER BY user_id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	var out []ReviewerAssignment
	for rows.Next() {
		var a ReviewerAssignment
		var submittedAt sql.NullString
		if err := rows.Scan(&a.TaskID, &a.UserID, &a.Submitted, &submittedAt); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		a.SubmittedAt = parseNullTime(submittedAt)
		out = append(out, a)
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("iterate assignments: %w", err)
	}
	return out, nil
}

// MarkSubmittedTx flips an unsubmitted assignment to submitted. It reports
// false when no unsubmitted row matched, i.e. the reviewer already submitted.
func MarkSubmittedTx(tx *TxOps, taskID int64, userID string) (bool, error) {
	res, err := tx.Exec(`
		UPDATE reviewer_assignments SET submitted = TRUE, submitted_at = ?
		WHERE task_id = ? AND user_id = ? AND submitted = FALSE
	`, formatTime(now()), taskID, userID)
	if err != nil {
		return false, fmt.Errorf("mark submitted: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark submitted rows affected: %w", err)
	}
	return n == 1, nil
}
