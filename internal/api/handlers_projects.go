package api

import (
	"net/http"

	"github.com/randalmurphal/verity/internal/db"
	"github.com/randalmurphal/verity/internal/engine"
)

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.engine.Templates(r.Context())
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, templates)
}

func (s *Server) handleSeedTemplates(w http.ResponseWriter, r *http.Request) {
	if _, err := callerID(r); err != nil {
		HandleError(w, err)
		return
	}
	var templates []db.PhaseTemplate
	if err := decodeJSON(w, r, &templates); err != nil {
		HandleError(w, err)
		return
	}
	if err := s.engine.SeedTemplates(r.Context(), templates); err != nil {
		HandleError(w, err)
		return
	}
	NoContent(w)
}

type createProjectRequest struct {
	Name          string   `json:"name"`
	EquipmentCode string   `json:"equipment_code"`
	PhaseCodes    []string `json:"phase_codes"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	user, err := callerID(r)
	if err != nil {
		HandleError(w, err)
		return
	}
	var req createProjectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		HandleError(w, err)
		return
	}
	tree, err := s.engine.CreateProject(r.Context(), engine.ProjectRequest{
		Name:          req.Name,
		EquipmentCode: req.EquipmentCode,
		PhaseCodes:    req.PhaseCodes,
		CreatedBy:     user,
	})
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponseStatus(w, tree, http.StatusCreated)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		HandleError(w, err)
		return
	}
	tree, err := s.engine.ProjectTree(r.Context(), id)
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, tree)
}

type assignReviewerRequest struct {
	UserID string `json:"user_id"`
}

func (s *Server) handleAssignReviewer(w http.ResponseWriter, r *http.Request) {
	if _, err := callerID(r); err != nil {
		HandleError(w, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		HandleError(w, err)
		return
	}
	var req assignReviewerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		HandleError(w, err)
		return
	}
	if err := s.engine.AssignReviewer(r.Context(), id, req.UserID); err != nil {
		HandleError(w, err)
		return
	}
	NoContent(w)
}
