package db

import (
	"database/sql"
	"fmt"

	verrors "github.com/randalmurphal/verity/internal/errors"
)

// TaskChain is a task together with the phase and project it belongs to.
type TaskChain struct {
	Task    *Task
	Phase   *Phase
	Project *Project
}

// LoadTaskChainTx resolves task -> phase -> project. A missing link is
// reported as the matching not-found error.
func LoadTaskChainTx(tx *TxOps, taskID int64) (*TaskChain, error) {
	t, err := GetTaskTx(tx, taskID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, verrors.ErrTaskNotFound(taskID)
	}
	return completeChain(tx, t)
}

// LockTaskChainTx is LoadTaskChainTx with the task and its phase row-locked
// for the rest of the transaction. Concurrent writers on the same task or
// phase queue behind the lock holder.
func LockTaskChainTx(tx *TxOps, taskID int64) (*TaskChain, error) {
	if tx.forUpdate != "" {
		var phaseID int64
		err := tx.QueryRow(`SELECT phase_id FROM tasks WHERE id = ?`+tx.forUpdate, taskID).Scan(&phaseID)
		if err == sql.ErrNoRows {
			return nil, verrors.ErrTaskNotFound(taskID)
		}
		if err != nil {
			return nil, fmt.Errorf("lock task %d: %w", taskID, err)
		}
		var id int64
		err = tx.QueryRow(`SELECT id FROM phases WHERE id = ?`+tx.forUpdate, phaseID).Scan(&id)
		if err != nil && err != sql.ErrNoRows {
			return nil, fmt.Errorf("lock phase %d: %w", phaseID, err)
		}
	}
	return LoadTaskChainTx(tx, taskID)
}

func completeChain(tx *TxOps, t *Task) (*TaskChain, error) {
	ph, err := GetPhaseTx(tx, t.PhaseID)
	if err != nil {
		return nil, err
	}
	if ph == nil {
		return nil, verrors.ErrPhaseNotFound(t.PhaseID)
	}
	p, err := GetProjectTx(tx, ph.ProjectID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, verrors.ErrProjectNotFound(ph.ProjectID)
	}
	return &TaskChain{Task: t, Phase: ph, Project: p}, nil
}
