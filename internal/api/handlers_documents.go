package api

import (
	"fmt"
	"net/http"

	"github.com/randalmurphal/verity/internal/engine"
	"github.com/randalmurphal/verity/internal/review"
)

type documentRequest struct {
	Content string `json:"content"`
	// Status is the task status requested on submit: completed or closed.
	Status string `json:"status,omitempty"`
}

func (s *Server) handleGetLatestDocument(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		HandleError(w, err)
		return
	}
	latest, err := s.engine.GetLatestDocument(r.Context(), id)
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, latest)
}

func (s *Server) handleDocumentHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		HandleError(w, err)
		return
	}
	docs, err := s.engine.DocumentHistory(r.Context(), id)
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, docs)
}

// documentCall decodes the caller, task id and body shared by the document
// mutations.
func documentCall(w http.ResponseWriter, r *http.Request) (user string, taskID int64, req documentRequest, err error) {
	if user, err = callerID(r); err != nil {
		return
	}
	if taskID, err = pathID(r, "id"); err != nil {
		return
	}
	err = decodeJSON(w, r, &req)
	return
}

func (s *Server) handleSaveDraft(w http.ResponseWriter, r *http.Request) {
	user, id, req, err := documentCall(w, r)
	if err != nil {
		HandleError(w, err)
		return
	}
	res, err := s.engine.SaveDraft(r.Context(), id, req.Content, user)
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, res)
}

func (s *Server) handleSubmitDocument(w http.ResponseWriter, r *http.Request) {
	user, id, req, err := documentCall(w, r)
	if err != nil {
		HandleError(w, err)
		return
	}
	res, err := s.engine.SubmitDocument(r.Context(), id, req.Content, req.Status, user)
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONMessage(w, res, submitMessage(res), http.StatusOK)
}

// submitMessage describes where a submission left the task.
func submitMessage(res *engine.SubmitResult) string {
	switch res.CompletionState {
	case review.StateWaiting:
		return fmt.Sprintf("waiting for other reviewers (%d of %d submitted)", res.SubmittedCount, res.RequiredCount)
	case review.StateUnchanged:
		return "task already has the requested status"
	}
	c := res.Cascade
	switch {
	case c == nil:
		return "task signed off"
	case c.ProjectCompleted:
		return "task signed off, project completed"
	case c.ActivatedPhaseID != 0:
		return "task signed off, next phase activated"
	case c.ClosedPhaseID != 0:
		return "task signed off, phase closed"
	case c.ActivatedTaskID != 0:
		return "task signed off, next task activated"
	}
	return "task signed off"
}

func (s *Server) handleRevertTask(w http.ResponseWriter, r *http.Request) {
	user, id, req, err := documentCall(w, r)
	if err != nil {
		HandleError(w, err)
		return
	}
	res, err := s.engine.RevertTask(r.Context(), id, req.Content, user)
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONMessage(w, res, "task sent back for rework", http.StatusOK)
}
