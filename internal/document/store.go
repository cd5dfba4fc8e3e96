// Package document owns versioned task documents.
//
// A task has at most one latest document and so does a phase: the latest
// document of the phase is the draft of whichever task is being worked on.
// Drafts carry no version. Submitting assigns versions and starts a new
// latest row, so the history of every submission stays readable.
package document

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/randalmurphal/verity/internal/archive"
	"github.com/randalmurphal/verity/internal/db"
	"github.com/randalmurphal/verity/internal/db/driver"
	verrors "github.com/randalmurphal/verity/internal/errors"
)

// Store reads and writes task documents.
type Store struct {
	db        *db.DB
	providers []Provider
	logger    *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithProviders replaces the lookup chain used by GetLatest.
func WithProviders(p ...Provider) Option {
	return func(s *Store) { s.providers = p }
}

// NewStore creates a Store whose GetLatest tries the task, then the phase,
// then the archive when one is given.
func NewStore(d *db.DB, arc archive.Archive, opts ...Option) *Store {
	s := &Store{
		db:        d,
		providers: []Provider{NewTaskProvider(d), NewPhaseProvider(d)},
		logger:    slog.Default(),
	}
	if arc != nil {
		s.providers = append(s.providers, NewArchiveProvider(arc))
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetLatest resolves the task's current document through the provider
// chain. A task with no document anywhere yields live, empty content.
func (s *Store) GetLatest(ctx context.Context, taskID int64) (*Latest, error) {
	var chain *db.TaskChain
	err := s.db.RunInTx(ctx, func(tx *db.TxOps) error {
		var err error
		chain, err = db.LoadTaskChainTx(tx, taskID)
		return err
	})
	if err != nil {
		return nil, err
	}

	for _, p := range s.providers {
		latest, err := p.Latest(ctx, chain)
		if err != nil {
			return nil, fmt.Errorf("%s provider: %w", p.Name(), err)
		}
		if latest != nil {
			s.logger.Debug("latest document resolved", "task_id", taskID, "provider", p.Name())
			return latest, nil
		}
	}
	return &Latest{TaskID: taskID, Source: SourceLive}, nil
}

// SaveTx stores a draft. Without a latest document a new unversioned row is
// inserted. An unversioned latest row is overwritten in place. A versioned
// latest row is closed (its version bumped by one) and a new unversioned
// row takes its place.
func (s *Store) SaveTx(tx *db.TxOps, chain *db.TaskChain, content, authorID string) (*db.TaskDocument, error) {
	taskID := chain.Task.ID
	latest, err := db.LatestTaskDocumentTx(tx, taskID)
	if err != nil {
		return nil, err
	}

	if latest != nil && latest.Version == nil {
		if err := db.OverwriteDocumentTx(tx, latest.ID, content, authorID); err != nil {
			return nil, conflictOr(taskID, err)
		}
		latest.Content = content
		latest.AuthorID = authorID
		return latest, nil
	}

	if latest != nil {
		if err := db.CloseDocumentTx(tx, latest.ID); err != nil {
			return nil, conflictOr(taskID, err)
		}
	}
	if err := db.ClearPhaseLatestTx(tx, chain.Phase.ID); err != nil {
		return nil, err
	}
	doc := &db.TaskDocument{
		TaskID:    taskID,
		PhaseID:   chain.Phase.ID,
		ProjectID: chain.Project.ID,
		Content:   content,
		IsLatest:  true,
		AuthorID:  authorID,
	}
	if err := db.InsertDocumentTx(tx, doc); err != nil {
		return nil, conflictOr(taskID, err)
	}
	return doc, nil
}

// SubmitTx records a new version. Unversioned rows are numbered first, every
// document of the phase stops being latest, and the new row becomes latest
// at the next version.
func (s *Store) SubmitTx(tx *db.TxOps, chain *db.TaskChain, content, authorID string) (*db.TaskDocument, error) {
	taskID := chain.Task.ID
	top, err := db.NormalizeVersionsTx(tx, taskID)
	if err != nil {
		return nil, conflictOr(taskID, err)
	}
	if err := db.ClearPhaseLatestTx(tx, chain.Phase.ID); err != nil {
		return nil, err
	}
	version := top + 1
	doc := &db.TaskDocument{
		TaskID:    taskID,
		PhaseID:   chain.Phase.ID,
		ProjectID: chain.Project.ID,
		Content:   content,
		Version:   &version,
		IsLatest:  true,
		AuthorID:  authorID,
	}
	if err := db.InsertDocumentTx(tx, doc); err != nil {
		return nil, conflictOr(taskID, err)
	}
	return doc, nil
}

// RevertTx records the version created when a task is sent back for rework.
func (s *Store) RevertTx(tx *db.TxOps, chain *db.TaskChain, content, authorID string) (*db.TaskDocument, error) {
	return s.SubmitTx(tx, chain, content, authorID)
}

// CarryForwardTx records a new version holding the task's current latest
// content. fallback is used when the task has no document yet.
func (s *Store) CarryForwardTx(tx *db.TxOps, chain *db.TaskChain, fallback, authorID string) (*db.TaskDocument, error) {
	content := fallback
	latest, err := db.LatestTaskDocumentTx(tx, chain.Task.ID)
	if err != nil {
		return nil, err
	}
	if latest != nil {
		content = latest.Content
	}
	return s.SubmitTx(tx, chain, content, authorID)
}

// History returns every document of the task in creation order.
func (s *Store) History(ctx context.Context, taskID int64) ([]db.TaskDocument, error) {
	var docs []db.TaskDocument
	err := s.db.RunInTx(ctx, func(tx *db.TxOps) error {
		if _, err := db.LoadTaskChainTx(tx, taskID); err != nil {
			return err
		}
		var err error
		docs, err = db.ListTaskDocumentsTx(tx, taskID)
		return err
	})
	return docs, err
}

// conflictOr maps a lost race on a latest or version index to a version
// conflict and passes any other error through.
func conflictOr(taskID int64, err error) error {
	if driver.IsUniqueViolation(err) {
		return verrors.ErrVersionConflict(taskID).WithCause(err)
	}
	return err
}
