package document

import (
	"context"

	"github.com/randalmurphal/verity/internal/archive"
	"github.com/randalmurphal/verity/internal/db"
)

// Source tells callers where a latest document came from.
type Source string

const (
	SourceLive    Source = "live"
	SourceArchive Source = "archive"
)

// Latest is the current document of a task as resolved by the provider chain.
type Latest struct {
	TaskID     int64  `json:"task_id"`
	Source     Source `json:"source"`
	Content    string `json:"content"`
	DocumentID int64  `json:"document_id,omitempty"`
	Version    *int64 `json:"version,omitempty"`
	// FromTaskID is the task whose document was returned. It differs from
	// TaskID when the phase's current draft belongs to another task.
	FromTaskID int64 `json:"from_task_id,omitempty"`
}

// Provider resolves a task's latest document from one source. A provider
// that has nothing returns nil, nil so the next one is tried.
type Provider interface {
	Name() string
	Latest(ctx context.Context, chain *db.TaskChain) (*Latest, error)
}

// TaskProvider returns the task's own latest document.
type TaskProvider struct {
	db *db.DB
}

// NewTaskProvider creates a TaskProvider.
func NewTaskProvider(d *db.DB) *TaskProvider { return &TaskProvider{db: d} }

func (p *TaskProvider) Name() string { return "task" }

func (p *TaskProvider) Latest(ctx context.Context, chain *db.TaskChain) (*Latest, error) {
	return fromStore(ctx, p.db, chain.Task.ID, func(tx *db.TxOps) (*db.TaskDocument, error) {
		return db.LatestTaskDocumentTx(tx, chain.Task.ID)
	})
}

// PhaseProvider returns the current draft of the task's phase, whichever
// task it belongs to.
type PhaseProvider struct {
	db *db.DB
}

// NewPhaseProvider creates a PhaseProvider.
func NewPhaseProvider(d *db.DB) *PhaseProvider { return &PhaseProvider{db: d} }

func (p *PhaseProvider) Name() string { return "phase" }

func (p *PhaseProvider) Latest(ctx context.Context, chain *db.TaskChain) (*Latest, error) {
	return fromStore(ctx, p.db, chain.Task.ID, func(tx *db.TxOps) (*db.TaskDocument, error) {
		return db.LatestPhaseDocumentTx(tx, chain.Phase.ID)
	})
}

func fromStore(ctx context.Context, d *db.DB, taskID int64, lookup func(*db.TxOps) (*db.TaskDocument, error)) (*Latest, error) {
	var doc *db.TaskDocument
	err := d.RunInTx(ctx, func(tx *db.TxOps) error {
		var err error
		doc, err = lookup(tx)
		return err
	})
	if err != nil || doc == nil {
		return nil, err
	}
	return &Latest{
		TaskID:     taskID,
		Source:     SourceLive,
		Content:    doc.Content,
		DocumentID: doc.ID,
		Version:    doc.Version,
		FromTaskID: doc.TaskID,
	}, nil
}

// ArchiveProvider returns the static reference document for the project's
// equipment and the task's phase.
type ArchiveProvider struct {
	archive archive.Archive
}

// NewArchiveProvider creates an ArchiveProvider.
func NewArchiveProvider(a archive.Archive) *ArchiveProvider { return &ArchiveProvider{archive: a} }

func (p *ArchiveProvider) Name() string { return "archive" }

func (p *ArchiveProvider) Latest(ctx context.Context, chain *db.TaskChain) (*Latest, error) {
	content, ok, err := p.archive.Reference(ctx, chain.Project.EquipmentCode, chain.Phase.Code)
	if err != nil || !ok {
		return nil, err
	}
	return &Latest{TaskID: chain.Task.ID, Source: SourceArchive, Content: content}, nil
}
