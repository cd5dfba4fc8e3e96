package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/randalmurphal/verity/internal/status"
)

// Project is one engineering-verification project for a piece of equipment.
type Project struct {
	ID            int64                `json:"id"`
	Name          string               `json:"name"`
	EquipmentCode string               `json:"equipment_code"`
	Status        status.ProjectStatus `json:"status"`
	CreatedBy     string               `json:"created_by"`
	CreatedAt     time.Time            `json:"created_at"`
	CompletedAt   *time.Time           `json:"completed_at"`
}

// Phase is a project-specific instance of a phase template.
type Phase struct {
	ID              int64              `json:"id"`
	ProjectID       int64              `json:"project_id"`
	PhaseTemplateID int64              `json:"phase_template_id"`
	Code            string             `json:"code"`
	Name            string             `json:"name"`
	OrderIndex      int                `json:"order_index"`
	Status          status.PhaseStatus `json:"status"`
	ActivatedAt     *time.Time         `json:"activated_at"`
	ClosedAt        *time.Time         `json:"closed_at"`
}

// Task is a phase-specific instance of a task template.
type Task struct {
	ID             int64             `json:"id"`
	PhaseID        int64             `json:"phase_id"`
	TaskTemplateID int64             `json:"task_template_id"`
	Code           string            `json:"code"`
	Name           string            `json:"name"`
	OrderIndex     int               `json:"order_index"`
	Status         status.TaskStatus `json:"status"`
	RequiredCount  int               `json:"required_count"`
	SubmittedCount int               `json:"submitted_count"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// CreateProjectTx inserts a project and sets p.ID.
func CreateProjectTx(tx *TxOps, p *Project) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now()
	}
	err := tx.QueryRow(`
		INSERT INTO projects (name, equipment_code, status, created_by, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`, p.Name, p.EquipmentCode, string(p.Status), p.CreatedBy, formatTime(p.CreatedAt)).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

// GetProjectTx retrieves a project by ID. Returns nil, nil if not found.
func GetProjectTx(tx *TxOps, id int64) (*Project, error) {
	var p Project
	var st, createdAt string
	var completedAt sql.NullString
	err := tx.QueryRow(`
		SELECT id, name, equipment_code, status, created_by, created_at, completed_at
		FROM projects WHERE id = ?
	`, id).Scan(&p.ID, &p.Name, &p.EquipmentCode, &st, &p.CreatedBy, &createdAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project %d: %w", id, err)
	}
	p.Status = status.ProjectStatus(st)
	p.CreatedAt = parseTime(createdAt)
	p.CompletedAt = parseNullTime(completedAt)
	return &p, nil
}

// CompleteProjectTx marks a project completed.
func CompleteProjectTx(tx *TxOps, id int64) error {
	_, err := tx.Exec(`
		UPDATE projects SET status = ?, completed_at = ? WHERE id = ?
	`, string(status.ProjectCompleted), formatTime(now()), id)
	if err != nil {
		return fmt.Errorf("complete project %d: %w", id, err)
	}
	return nil
}

// CreatePhaseTx inserts a phase instance and sets ph.ID.
func CreatePhaseTx(tx *TxOps, ph *Phase) error {
	err := tx.QueryRow(`
		INSERT INTO phases (project_id, phase_template_id, order_index, status, activated_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`, ph.ProjectID, ph.PhaseTemplateID, ph.OrderIndex, string(ph.Status), formatTimePtr(ph.ActivatedAt)).Scan(&ph.ID)
	if err != nil {
		return fmt.Errorf("create phase: %w", err)
	}
	return nil
}

const phaseColumns = `
	p.id, p.project_id, p.phase_template_id, pt.code, pt.name, p.order_index, p.status, p.activated_at, p.closed_at
	FROM phases p JOIN phase_templates pt ON pt.id = p.phase_template_id`

func scanPhase(row interface{ Scan(...any) error }) (*Phase, error) {
	var ph Phase
	var st string
	var activatedAt, closedAt sql.NullString
	if err := row.Scan(&ph.ID, &ph.ProjectID, &ph.PhaseTemplateID, &ph.Code, &ph.Name, &ph.OrderIndex,
		&st, &activatedAt, &closedAt); err != nil {
		return nil, err
	}
	ph.Status = status.PhaseStatus(st)
	ph.ActivatedAt = parseNullTime(activatedAt)
	ph.ClosedAt = parseNullTime(closedAt)
	return &ph, nil
}

// GetPhaseTx retrieves a phase by ID. Returns nil, nil if not found.
func GetPhaseTx(tx *TxOps, id int64) (*Phase, error) {
	ph, err := scanPhase(tx.QueryRow(`SELECT `+phaseColumns+` WHERE p.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get phase %d: %w", id, err)
	}
	return ph, nil
}

// ListPhasesTx returns a project's phases in order.
func ListPhasesTx(tx *TxOps, projectID int64) ([]Phase, error) {
	rows, err := tx.Query(`SELECT `+phaseColumns+` WHERE p.project_id = ? ORDER BY p.order_index`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list phases: %w", err)
	}
	var phases []Phase
	for rows.Next() {
		ph, err := scanPhase(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan phase: %w", err)
		}
		phases = append(phases, *ph)
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("iterate phases: %w", err)
	}
	return phases, nil
}

// NextPendingPhaseTx returns the pending phase of the project with the
// smallest order index greater than afterOrder. Returns nil, nil if none.
func NextPendingPhaseTx(tx *TxOps, projectID int64, afterOrder int) (*Phase, error) {
	ph, err := scanPhase(tx.QueryRow(`SELECT `+phaseColumns+`
		WHERE p.project_id = ? AND p.order_index > ? AND p.status = ?
		ORDER BY p.order_index LIMIT 1
	`, projectID, afterOrder, string(status.PhasePending)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next pending phase: %w", err)
	}
	return ph, nil
}

// SetPhaseStatusTx updates a phase's status, stamping activated_at or
// closed_at as appropriate.
func SetPhaseStatusTx(tx *TxOps, id int64, st status.PhaseStatus) error {
	ts := formatTime(now())
	var err error
	switch st {
	case status.PhaseActive:
		_, err = tx.Exec(`UPDATE phases SET status = ?, activated_at = ?, closed_at = NULL WHERE id = ?`, string(st), ts, id)
	case status.PhaseClosed:
		_, err = tx.Exec(`UPDATE phases SET status = ?, closed_at = ? WHERE id = ?`, string(st), ts, id)
	default:
		_, err = tx.Exec(`UPDATE phases SET status = ? WHERE id = ?`, string(st), id)
	}
	if err != nil {
		return fmt.Errorf("set phase %d status: %w", id, err)
	}
	return nil
}

// CreateTaskTx inserts a task instance and sets t.ID.
func CreateTaskTx(tx *TxOps, t *Task) error {
	t.UpdatedAt = now()
	err := tx.QueryRow(`
		INSERT INTO tasks (phase_id, task_template_id, order_index, status, required_count, submitted_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`, t.PhaseID, t.TaskTemplateID, t.OrderIndex, string(t.Status), t.RequiredCount, t.SubmittedCount,
		formatTime(t.UpdatedAt)).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

const taskColumns = `
	t.id, t.phase_id, t.task_template_id, tt.code, tt.name, t.order_index, t.status,
	t.required_count, t.submitted_count, t.updated_at
	FROM tasks t JOIN task_templates tt ON tt.id = t.task_template_id`

func scanTask(row interface{ Scan(...any) error }) (*Task, error) {
	var t Task
	var st, updatedAt string
	if err := row.Scan(&t.ID, &t.PhaseID, &t.TaskTemplateID, &t.Code, &t.Name, &t.OrderIndex, &st,
		&t.RequiredCount, &t.SubmittedCount, &updatedAt); err != nil {
		return nil, err
	}
	t.Status = status.TaskStatus(st)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}

// GetTaskTx retrieves a task by ID. Returns nil, nil if not found.
func GetTaskTx(tx *TxOps, id int64) (*Task, error) {
	t, err := scanTask(tx.QueryRow(`SELECT `+taskColumns+` WHERE t.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	return t, nil
}

// ListTasksTx returns a phase's tasks in order.
func ListTasksTx(tx *TxOps, phaseID int64) ([]Task, error) {
	rows, err := tx.Query(`SELECT `+taskColumns+` WHERE t.phase_id = ? ORDER BY t.order_index`, phaseID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

// NextAwaitingTaskTx returns the task of the phase with the smallest order
// index greater than afterOrder whose status awaits activation (pending or
// rework). Returns nil, nil if none.
func NextAwaitingTaskTx(tx *TxOps, phaseID int64, afterOrder int) (*Task, error) {
	t, err := scanTask(tx.QueryRow(`SELECT `+taskColumns+`
		WHERE t.phase_id = ? AND t.order_index > ? AND t.status IN (?, ?)
		ORDER BY t.order_index LIMIT 1
	`, phaseID, afterOrder, string(status.TaskPending), string(status.TaskRework)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next awaiting task: %w", err)
	}
	return t, nil
}

// PreviousTaskTx returns the task immediately preceding beforeOrder in the
// phase. Returns nil, nil if the task is first.
func PreviousTaskTx(tx *TxOps, phaseID int64, beforeOrder int) (*Task, error) {
	t, err := scanTask(tx.QueryRow(`SELECT `+taskColumns+`
		WHERE t.phase_id = ? AND t.order_index < ?
		ORDER BY t.order_index DESC LIMIT 1
	`, phaseID, beforeOrder))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("previous task: %w", err)
	}
	return t, nil
}

// SetTaskStatusTx updates a task's status.
func SetTaskStatusTx(tx *TxOps, id int64, st status.TaskStatus) error {
	_, err := tx.Exec(`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
		string(st), formatTime(now()), id)
	if err != nil {
		return fmt.Errorf("set task %d status: %w", id, err)
	}
	return nil
}

// IncrementSubmittedCountTx adds one to a task's submitted count and returns
// the new value.
func IncrementSubmittedCountTx(tx *TxOps, id int64) (int, error) {
	var n int
	err := tx.QueryRow(`
		UPDATE tasks SET submitted_count = submitted_count + 1, updated_at = ?
		WHERE id = ?
		RETURNING submitted_count
	`, formatTime(now()), id).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("increment submitted count for task %d: %w", id, err)
	}
	return n, nil
}

// ResetSubmissionsTx zeroes a task's submitted count and clears the
// submitted flag of every reviewer assigned to it.
func ResetSubmissionsTx(tx *TxOps, id int64) error {
	if _, err := tx.Exec(`UPDATE tasks SET submitted_count = 0, updated_at = ? WHERE id = ?`,
		formatTime(now()), id); err != nil {
		return fmt.Errorf("reset submitted count for task %d: %w", id, err)
	}
	if _, err := tx.Exec(`
		UPDATE reviewer_assignments SET submitted = FALSE, submitted_at = NULL WHERE task_id = ?
	`, id); err != nil {
		return fmt.Errorf("reset reviewer submissions for task %d: %w", id, err)
	}
	return nil
}
