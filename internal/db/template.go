package db

import (
	"database/sql"
	"fmt"
)

// PhaseTemplate is the master-data definition of a phase.
type PhaseTemplate struct {
	ID         int64          `json:"id" yaml:"-"`
	Code       string         `json:"code" yaml:"code"`
	Name       string         `json:"name" yaml:"name"`
	OrderIndex int            `json:"order_index" yaml:"order_index"`
	Tasks      []TaskTemplate `json:"tasks" yaml:"tasks"`
}

// TaskTemplate is the master-data definition of a task within a phase template.
type TaskTemplate struct {
	ID                   int64  `json:"id" yaml:"-"`
	PhaseTemplateID      int64  `json:"phase_template_id" yaml:"-"`
	Code                 string `json:"code" yaml:"code"`
	Name                 string `json:"name" yaml:"name"`
	OrderIndex           int    `json:"order_index" yaml:"order_index"`
	DefaultRequiredCount int    `json:"default_required_count" yaml:"default_required_count"`
}

// UpsertPhaseTemplateTx creates or updates a phase template keyed by code and
// sets pt.ID.
func UpsertPhaseTemplateTx(tx *TxOps, pt *PhaseTemplate) error {
	err := tx.QueryRow(`
		INSERT INTO phase_templates (code, name, order_index)
		VALUES (?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			name = excluded.name,
			order_index = excluded.order_index
		RETURNING id
	`, pt.Code, pt.Name, pt.OrderIndex).Scan(&pt.ID)
	if err != nil {
		return fmt.Errorf("upsert phase template %s: %w", pt.Code, err)
	}
	return nil
}

// UpsertTaskTemplateTx creates or updates a task template keyed by
// (phase template, code) and sets tt.ID.
func UpsertTaskTemplateTx(tx *TxOps, tt *TaskTemplate) error {
	err := tx.QueryRow(`
		INSERT INTO task_templates (phase_template_id, code, name, order_index, default_required_count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(phase_template_id, code) DO UPDATE SET
			name = excluded.name,
			order_index = excluded.order_index,
			default_required_count = excluded.default_required_count
		RETURNING id
	`, tt.PhaseTemplateID, tt.Code, tt.Name, tt.OrderIndex, tt.DefaultRequiredCount).Scan(&tt.ID)
	if err != nil {
		return fmt.Errorf("upsert task template %s: %w", tt.Code, err)
	}
	return nil
}

// ListPhaseTemplatesTx returns all phase templates in order, each with its
// task templates in order.
func ListPhaseTemplatesTx(tx *TxOps) ([]PhaseTemplate, error) {
	rows, err := tx.Query(`
		SELECT id, code, name, order_index FROM phase_templates ORDER BY order_index, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list phase templates: %w", err)
	}
	var templates []PhaseTemplate
	byID := make(map[int64]int)
	for rows.Next() {
		var pt PhaseTemplate
		if err := rows.Scan(&pt.ID, &pt.Code, &pt.Name, &pt.OrderIndex); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan phase template: %w", err)
		}
		byID[pt.ID] = len(templates)
		templates = append(templates, pt)
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("iterate phase templates: %w", err)
	}

	rows, err = tx.Query(`
		SELECT id, phase_template_id, code, name, order_index, default_required_count
		FROM task_templates ORDER BY phase_template_id, order_index, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list task templates: %w", err)
	}
	for rows.Next() {
		var tt TaskTemplate
		if err := rows.Scan(&tt.ID, &tt.PhaseTemplateID, &tt.Code, &tt.Name, &tt.OrderIndex, &tt.DefaultRequiredCount); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan task template: %w", err)
		}
		if i, ok := byID[tt.PhaseTemplateID]; ok {
			templates[i].Tasks = append(templates[i].Tasks, tt)
		}
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("iterate task templates: %w", err)
	}
	return templates, nil
}

// closeRows reports the iteration error, if any, and closes rows.
func closeRows(rows *sql.Rows) error {
	err := rows.Err()
	if cerr := rows.Close(); err == nil {
		err = cerr
	}
	return err
}
