package api

import (
	"net/http"

	"github.com/randalmurphal/verity/internal/changerequest"
)

type createChangeRequestRequest struct {
	ProjectID int64  `json:"project_id"`
	Title     string `json:"title"`
}

type setApproversRequest struct {
	Add    []string `json:"add,omitempty"`
	Remove []string `json:"remove,omitempty"`
}

type approverDecisionRequest struct {
	Verified bool   `json:"verified"`
	Reason   string `json:"reason,omitempty"`
}

type uploadRevisionRequest struct {
	Title string `json:"title"`
}

type verificationRequest struct {
	// Verified nil clears the flag.
	Verified *bool `json:"verified"`
}

func (s *Server) handleCreateChangeRequest(w http.ResponseWriter, r *http.Request) {
	user, err := callerID(r)
	if err != nil {
		HandleError(w, err)
		return
	}
	var req createChangeRequestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		HandleError(w, err)
		return
	}
	v, err := s.engine.CreateChangeRequest(r.Context(), req.ProjectID, req.Title, user)
	writeChangeRequest(w, v, err, http.StatusCreated)
}

func (s *Server) handleGetChangeRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		HandleError(w, err)
		return
	}
	v, err := s.engine.ChangeRequest(r.Context(), id)
	writeChangeRequest(w, v, err, http.StatusOK)
}

func (s *Server) handleSetApprovers(w http.ResponseWriter, r *http.Request) {
	if _, err := callerID(r); err != nil {
		HandleError(w, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		HandleError(w, err)
		return
	}
	var req setApproversRequest
	if err := decodeJSON(w, r, &req); err != nil {
		HandleError(w, err)
		return
	}
	v, err := s.engine.SetApprovers(r.Context(), id, req.Add, req.Remove)
	writeChangeRequest(w, v, err, http.StatusOK)
}

func (s *Server) handleApproverDecision(w http.ResponseWriter, r *http.Request) {
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
	var req approverDecisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		HandleError(w, err)
		return
	}
	v, err := s.engine.RecordApproverDecision(r.Context(), id, user, req.Verified, req.Reason)
	writeChangeRequest(w, v, err, http.StatusOK)
}

func (s *Server) handleUploadRevision(w http.ResponseWriter, r *http.Request) {
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
	var req uploadRevisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		HandleError(w, err)
		return
	}
	v, err := s.engine.UploadRevision(r.Context(), id, req.Title, user)
	writeChangeRequest(w, v, err, http.StatusCreated)
}

func (s *Server) handleSetVerification(w http.ResponseWriter, r *http.Request) {
	if _, err := callerID(r); err != nil {
		HandleError(w, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		HandleError(w, err)
		return
	}
	var req verificationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		HandleError(w, err)
		return
	}
	v, err := s.engine.SetChangeRequestVerification(r.Context(), id, req.Verified)
	writeChangeRequest(w, v, err, http.StatusOK)
}

// changeRequestResponse adds the derived flags to a change request view.
type changeRequestResponse struct {
	*changerequest.View
	Rejected bool     `json:"rejected"`
	Pending  []string `json:"pending"`
}

func writeChangeRequest(w http.ResponseWriter, v *changerequest.View, err error, status int) {
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponseStatus(w, changeRequestResponse{View: v, Rejected: v.Rejected(), Pending: v.Pending()}, status)
}
