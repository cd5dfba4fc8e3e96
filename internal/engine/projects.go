package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/randalmurphal/verity/internal/db"
	verrors "github.com/randalmurphal/verity/internal/errors"
	"github.com/randalmurphal/verity/internal/events"
	"github.com/randalmurphal/verity/internal/status"
)

// ProjectRequest describes a project to materialize from templates.
type ProjectRequest struct {
	Name          string   `json:"name"`
	EquipmentCode string   `json:"equipment_code"`
	PhaseCodes    []string `json:"phase_codes"`
	CreatedBy     string   `json:"created_by"`
}

// Tree is a project with its phases and their tasks in order.
type Tree struct {
	Project *db.Project `json:"project"`
	Phases  []PhaseNode `json:"phases"`
}

// PhaseNode is one phase of a Tree.
type PhaseNode struct {
	db.Phase
	Tasks []db.Task `json:"tasks"`
}

// SeedTemplates creates or updates phase and task templates keyed by code.
func (e *Engine) SeedTemplates(ctx context.Context, templates []db.PhaseTemplate) error {
	for _, pt := range templates {
		if pt.Code == "" {
			return verrors.ErrValidation("phase template code", "required")
		}
		for _, tt := range pt.Tasks {
			if tt.Code == "" {
				return verrors.ErrValidation("task template code", fmt.Sprintf("required in phase %s", pt.Code))
			}
			if tt.DefaultRequiredCount < 0 {
				return verrors.ErrValidation("default_required_count", fmt.Sprintf("negative for task %s/%s", pt.Code, tt.Code))
			}
		}
	}
	return e.mutate(ctx, "seed_templates", subject{}, func(tx *db.TxOps, _ *events.Batch) error {
		for i := range templates {
			pt := templates[i]
			if err := db.UpsertPhaseTemplateTx(tx, &pt); err != nil {
				return err
			}
			for _, tt := range pt.Tasks {
				tt.PhaseTemplateID = pt.ID
				if err := db.UpsertTaskTemplateTx(tx, &tt); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Templates lists the phase templates with their task templates.
func (e *Engine) Templates(ctx context.Context) ([]db.PhaseTemplate, error) {
	var templates []db.PhaseTemplate
	err := e.view(ctx, "list_templates", subject{}, func(tx *db.TxOps) error {
		var err error
		templates, err = db.ListPhaseTemplatesTx(tx)
		return err
	})
	return templates, err
}

// CreateProject materializes a project from the phase templates named in
// req.PhaseCodes, in template order. The first phase and its first task
// start active; everything else is pending.
func (e *Engine) CreateProject(ctx context.Context, req ProjectRequest) (*Tree, error) {
	switch {
	case req.Name == "":
		return nil, verrors.ErrValidation("name", "required")
	case req.EquipmentCode == "":
		return nil, verrors.ErrValidation("equipment_code", "required")
	case len(req.PhaseCodes) == 0:
		return nil, verrors.ErrValidation("phase_codes", "at least one phase is required")
	}
	wanted := make(map[string]bool, len(req.PhaseCodes))
	for _, c := range req.PhaseCodes {
		wanted[c] = true
	}

	var projectID int64
	err := e.mutate(ctx, "create_project", subject{userID: req.CreatedBy}, func(tx *db.TxOps, batch *events.Batch) error {
		templates, err := db.ListPhaseTemplatesTx(tx)
		if err != nil {
			return err
		}
		var selected []db.PhaseTemplate
		found := map[string]bool{}
		for _, pt := range templates {
			if wanted[pt.Code] {
				selected = append(selected, pt)
				found[pt.Code] = true
			}
		}
		for _, c := range req.PhaseCodes {
			if !found[c] {
				return verrors.ErrValidation("phase_codes", fmt.Sprintf("no phase template with code %s", c))
			}
		}

		p := &db.Project{
			Name:          req.Name,
			EquipmentCode: req.EquipmentCode,
			Status:        status.ProjectActive,
			CreatedBy:     req.CreatedBy,
		}
		if err := db.CreateProjectTx(tx, p); err != nil {
			return err
		}
		projectID = p.ID

		now := time.Now().UTC()
		for pi, pt := range selected {
			if len(pt.Tasks) == 0 {
				return verrors.ErrValidation("phase_codes", fmt.Sprintf("phase template %s has no tasks", pt.Code))
			}
			ph := &db.Phase{
				ProjectID:       p.ID,
				PhaseTemplateID: pt.ID,
				OrderIndex:      pi + 1,
				Status:          status.PhasePending,
			}
			if pi == 0 {
				ph.Status = status.PhaseActive
				ph.ActivatedAt = &now
			}
			if err := db.CreatePhaseTx(tx, ph); err != nil {
				return err
			}
			for ti, tt := range pt.Tasks {
				t := &db.Task{
					PhaseID:        ph.ID,
					TaskTemplateID: tt.ID,
					OrderIndex:     ti + 1,
					Status:         status.TaskPending,
					RequiredCount:  tt.DefaultRequiredCount,
				}
				if pi == 0 && ti == 0 {
					t.Status = status.TaskActive
				}
				if err := db.CreateTaskTx(tx, t); err != nil {
					return err
				}
				if t.Status == status.TaskActive {
					batch.Add(events.NewEvent(events.EventTaskActivated, p.ID, t.ID,
						events.StatusChange{PhaseID: ph.ID, Status: string(status.TaskActive)}))
				}
			}
		}
		e.logger.Info("project created", "project_id", p.ID, "equipment", p.EquipmentCode, "phases", len(selected))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e.ProjectTree(ctx, projectID)
}

// ProjectTree returns the project with its phases and tasks.
func (e *Engine) ProjectTree(ctx context.Context, projectID int64) (*Tree, error) {
	var tree *Tree
	err := e.view(ctx, "project_tree", subject{}, func(tx *db.TxOps) error {
		p, err := db.GetProjectTx(tx, projectID)
		if err != nil {
			return err
		}
		if p == nil {
			return verrors.ErrProjectNotFound(projectID)
		}
		phases, err := db.ListPhasesTx(tx, projectID)
		if err != nil {
			return err
		}
		tree = &Tree{Project: p, Phases: make([]PhaseNode, 0, len(phases))}
		for _, ph := range phases {
			tasks, err := db.ListTasksTx(tx, ph.ID)
			if err != nil {
				return err
			}
			tree.Phases = append(tree.Phases, PhaseNode{Phase: ph, Tasks: tasks})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tree, nil
}

// AssignReviewer adds userID to the reviewers who must submit the task.
func (e *Engine) AssignReviewer(ctx context.Context, taskID int64, userID string) error {
	return e.mutate(ctx, "assign_reviewer", subject{taskID: taskID, userID: userID}, func(tx *db.TxOps, _ *events.Batch) error {
		chain, err := db.LockTaskChainTx(tx, taskID)
		if err != nil {
			return err
		}
		return e.tracker.RegisterAssignmentTx(tx, chain, userID)
	})
}
