package engine

import (
	"context"

	"github.com/tidwall/gjson"

	"github.com/randalmurphal/verity/internal/activation"
	"github.com/randalmurphal/verity/internal/db"
	"github.com/randalmurphal/verity/internal/document"
	verrors "github.com/randalmurphal/verity/internal/errors"
	"github.com/randalmurphal/verity/internal/events"
	"github.com/randalmurphal/verity/internal/review"
	"github.com/randalmurphal/verity/internal/status"
)

// unresolvedCommentPath selects the first comment still marked unresolved in
// a JSON document.
const unresolvedCommentPath = `comments.#(resolved==false)`

// SaveResult is returned by SaveDraft.
type SaveResult struct {
	DocumentID int64 `json:"document_id"`
}

// SubmitResult is returned by SubmitDocument.
type SubmitResult struct {
	DocumentID      int64               `json:"document_id"`
	Version         int64               `json:"version"`
	CompletionState review.State        `json:"completion_state"`
	SubmittedCount  int                 `json:"submitted_count"`
	RequiredCount   int                 `json:"required_count"`
	Cascade         *activation.Cascade `json:"cascade,omitempty"`
}

// RevertResult is returned by RevertTask.
type RevertResult struct {
	DocumentID     int64 `json:"document_id"`
	Version        int64 `json:"version"`
	ReopenedTaskID int64 `json:"reopened_task_id"`
}

// GetLatestDocument returns the task's current document, falling back to the
// phase's current draft and then the reference archive.
func (e *Engine) GetLatestDocument(ctx context.Context, taskID int64) (*document.Latest, error) {
	var latest *document.Latest
	err := e.observe(ctx, "get_latest_document", subject{taskID: taskID}, func(ctx context.Context) error {
		var err error
		latest, err = e.documents.GetLatest(ctx, taskID)
		return err
	})
	return latest, err
}

// DocumentHistory returns every version of the task's document in order.
func (e *Engine) DocumentHistory(ctx context.Context, taskID int64) ([]db.TaskDocument, error) {
	var docs []db.TaskDocument
	err := e.observe(ctx, "document_history", subject{taskID: taskID}, func(ctx context.Context) error {
		var err error
		docs, err = e.documents.History(ctx, taskID)
		return err
	})
	return docs, err
}

// SaveDraft stores the task's working draft.
func (e *Engine) SaveDraft(ctx context.Context, taskID int64, content, authorID string) (*SaveResult, error) {
	if authorID == "" {
		return nil, verrors.ErrValidation("author_id", "required")
	}
	var res *SaveResult
	err := e.mutate(ctx, "save_draft", subject{taskID: taskID, userID: authorID}, func(tx *db.TxOps, batch *events.Batch) error {
		chain, err := db.LockTaskChainTx(tx, taskID)
		if err != nil {
			return err
		}
		doc, err := e.documents.SaveTx(tx, chain, content, authorID)
		if err != nil {
			return err
		}
		batch.Add(events.NewEvent(events.EventDocumentSaved, chain.Project.ID, taskID,
			events.DocumentData{DocumentID: doc.ID, AuthorID: authorID}))
		res = &SaveResult{DocumentID: doc.ID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// SubmitDocument records authorID's submission of the task asking for
// statusCode once every reviewer has submitted, and stores content as the
// next document version. A task already at statusCode is left alone and no
// version is written.
func (e *Engine) SubmitDocument(ctx context.Context, taskID int64, content, statusCode, authorID string) (*SubmitResult, error) {
	if authorID == "" {
		return nil, verrors.ErrValidation("author_id", "required")
	}
	target, ok := status.ParseTaskStatus(statusCode)
	if !ok || !target.IsSubmissionTarget() {
		return nil, verrors.ErrValidation("status", "must be completed or closed")
	}

	var res *SubmitResult
	err := e.mutate(ctx, "submit_document", subject{taskID: taskID, userID: authorID}, func(tx *db.TxOps, batch *events.Batch) error {
		chain, err := db.LockTaskChainTx(tx, taskID)
		if err != nil {
			return err
		}
		submission, err := e.tracker.RecordSubmissionTx(tx, chain, authorID, target, batch)
		if err != nil {
			return err
		}
		res = &SubmitResult{
			CompletionState: submission.State,
			SubmittedCount:  submission.SubmittedCount,
			RequiredCount:   submission.RequiredCount,
			Cascade:         submission.Cascade,
		}

		if submission.State == review.StateUnchanged {
			latest, err := db.LatestTaskDocumentTx(tx, taskID)
			if err != nil {
				return err
			}
			if latest != nil {
				res.DocumentID = latest.ID
				if latest.Version != nil {
					res.Version = *latest.Version
				}
			}
			return nil
		}

		doc, err := e.documents.SubmitTx(tx, chain, content, authorID)
		if err != nil {
			return err
		}
		batch.Add(events.NewEvent(events.EventDocumentSubmitted, chain.Project.ID, taskID,
			events.DocumentData{DocumentID: doc.ID, Version: doc.Version, AuthorID: authorID}))
		res.DocumentID = doc.ID
		res.Version = *doc.Version
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// RevertTask sends the task back for rework and reopens the task before it.
// content must carry at least one unresolved comment; it becomes the task's
// next document version.
func (e *Engine) RevertTask(ctx context.Context, taskID int64, content, authorID string) (*RevertResult, error) {
	if authorID == "" {
		return nil, verrors.ErrValidation("author_id", "required")
	}
	if !gjson.Valid(content) || !gjson.Get(content, unresolvedCommentPath).Exists() {
		return nil, verrors.ErrValidation("content", "a revert needs at least one unresolved comment")
	}

	var res *RevertResult
	err := e.mutate(ctx, "revert_task", subject{taskID: taskID, userID: authorID}, func(tx *db.TxOps, batch *events.Batch) error {
		chain, err := db.LockTaskChainTx(tx, taskID)
		if err != nil {
			return err
		}
		reopened, err := e.activator.RevertTx(tx, chain, batch)
		if err != nil {
			return err
		}
		doc, err := e.documents.RevertTx(tx, chain, content, authorID)
		if err != nil {
			return err
		}
		batch.Add(events.NewEvent(events.EventDocumentSubmitted, chain.Project.ID, taskID,
			events.DocumentData{DocumentID: doc.ID, Version: doc.Version, AuthorID: authorID}))
		res = &RevertResult{DocumentID: doc.ID, Version: *doc.Version, ReopenedTaskID: reopened.ID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
