package db

import (
	"context"
	"testing"

	"github.com/randalmurphal/verity/internal/status"
)

// NewTestDB creates a migrated in-memory database for testing.
// The database is automatically closed when the test completes.
//
// Usage:
//
//	func TestSomething(t *testing.T) {
//	    t.Parallel()
//	    d := db.NewTestDB(t)
//	    // use d...
//	}
func NewTestDB(t testing.TB) *DB {
	t.Helper()

	d, err := OpenInMemory()
	if err != nil {
		t.Fatalf("create test db: %v", err)
	}
	t.Cleanup(func() {
		_ = d.Close()
	})

	if err := d.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return d
}

// Fixture is a seeded project: phase FAT with tasks T1 and T2, followed by
// phase SAT with task T1. FAT and FAT/T1 are active, everything else pending.
type Fixture struct {
	Project *Project
	Phases  map[string]*Phase
	Tasks   map[string]*Task
}

// Task returns the fixture task with the given "PHASE/TASK" key.
func (f *Fixture) Task(key string) *Task {
	return f.Tasks[key]
}

// SeedFixture writes the standard test project into d. Each task gets the
// given reviewers assigned.
func SeedFixture(t testing.TB, d *DB, reviewers ...string) *Fixture {
	t.Helper()

	f := &Fixture{Phases: map[string]*Phase{}, Tasks: map[string]*Task{}}
	layout := []struct {
		phase string
		tasks []string
	}{
		{"FAT", []string{"T1", "T2"}},
		{"SAT", []string{"T1"}},
	}

	err := d.RunInTx(context.Background(), func(tx *TxOps) error {
		f.Project = &Project{Name: "Pump 7", EquipmentCode: "PUMP", Status: status.ProjectActive, CreatedBy: "admin"}
		if err := CreateProjectTx(tx, f.Project); err != nil {
			return err
		}
		for pi, l := range layout {
			pt := &PhaseTemplate{Code: l.phase, Name: l.phase, OrderIndex: pi + 1}
			if err := UpsertPhaseTemplateTx(tx, pt); err != nil {
				return err
			}
			ph := &Phase{ProjectID: f.Project.ID, PhaseTemplateID: pt.ID, Code: l.phase, OrderIndex: pi + 1, Status: status.PhasePending}
			if pi == 0 {
				ph.Status = status.PhaseActive
			}
			if err := CreatePhaseTx(tx, ph); err != nil {
				return err
			}
			f.Phases[l.phase] = ph

			for ti, code := range l.tasks {
				tt := &TaskTemplate{PhaseTemplateID: pt.ID, Code: code, Name: code, OrderIndex: ti + 1}
				if err := UpsertTaskTemplateTx(tx, tt); err != nil {
					return err
				}
				task := &Task{PhaseID: ph.ID, TaskTemplateID: tt.ID, Code: code, OrderIndex: ti + 1, Status: status.TaskPending}
				if pi == 0 && ti == 0 {
					task.Status = status.TaskActive
				}
				if err := CreateTaskTx(tx, task); err != nil {
					return err
				}
				for _, r := range reviewers {
					if _, err := AddAssignmentTx(tx, task.ID, r); err != nil {
						return err
					}
				}
				task.RequiredCount = len(reviewers)
				f.Tasks[l.phase+"/"+code] = task
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed fixture: %v", err)
	}
	return f
}

// ReloadTask reads a task outside any caller transaction.
func ReloadTask(t testing.TB, d *DB, id int64) *Task {
	t.Helper()
	var task *Task
	err := d.RunInTx(context.Background(), func(tx *TxOps) error {
		var err error
		task, err = GetTaskTx(tx, id)
		return err
	})
	if err != nil || task == nil {
		t.Fatalf("reload task %d: %v", id, err)
	}
	return task
}
