package api

import (
	"net/http"

	"github.com/randalmurphal/verity/internal/engine"
	"github.com/randalmurphal/verity/internal/incident"
)

type raiseIncidentRequest struct {
	TaskID      int64  `json:"task_id"`
	Content     string `json:"content"`
	FailureType string `json:"failure_type,omitempty"`
	Description string `json:"description,omitempty"`
}

type continueIncidentRequest struct {
	Content string `json:"content"`
}

type resolveIncidentRequest struct {
	Comment string `json:"comment"`
}

func (s *Server) handleRaiseIncident(w http.ResponseWriter, r *http.Request) {
	user, err := callerID(r)
	if err != nil {
		HandleError(w, err)
		return
	}
	var req raiseIncidentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		HandleError(w, err)
		return
	}
	out, err := s.engine.RaiseOrContinueIncident(r.Context(), engine.IncidentRequest{
		TaskID:      req.TaskID,
		UserID:      user,
		Content:     req.Content,
		FailureType: req.FailureType,
		Description: req.Description,
	})
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONMessage(w, out, incidentMessage(out), http.StatusCreated)
}

func (s *Server) handleContinueIncident(w http.ResponseWriter, r *http.Request) {
	user, err := callerID(r)
	if err != nil {
		HandleError(w, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		HandleError(w, err)
		return
	}
	var req continueIncidentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		HandleError(w, err)
		return
	}
	out, err := s.engine.RaiseOrContinueIncident(r.Context(), engine.IncidentRequest{
		IncidentID: id,
		UserID:     user,
		Content:    req.Content,
	})
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONMessage(w, out, incidentMessage(out), http.StatusOK)
}

func (s *Server) handleResolveIncident(w http.ResponseWriter, r *http.Request) {
	user, err := callerID(r)
	if err != nil {
		HandleError(w, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		HandleError(w, err)
		return
	}
	var req resolveIncidentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		HandleError(w, err)
		return
	}
	out, err := s.engine.ResolveIncident(r.Context(), id, user, req.Comment)
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONMessage(w, out, incidentMessage(out), http.StatusOK)
}

func (s *Server) handleIncidentHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		HandleError(w, err)
		return
	}
	h, err := s.engine.IncidentHistory(r.Context(), id)
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, h)
}

// incidentMessage says who the incident is waiting on, if anyone.
func incidentMessage(out *incident.Outcome) string {
	if out.Resolved {
		return "incident resolved"
	}
	return "incident waiting on " + out.PendingRole
}
