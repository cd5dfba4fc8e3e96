package api

import (
	"net/http"
)

type settingRequest struct {
	Value string `json:"value"`
}

type roleRequest struct {
	Role string `json:"role"`
}

func (s *Server) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	v, err := s.engine.Setting(r.Context(), key)
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, map[string]string{"key": key, "value": v})
}

func (s *Server) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	if _, err := callerID(r); err != nil {
		HandleError(w, err)
		return
	}
	var req settingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		HandleError(w, err)
		return
	}
	key := r.PathValue("key")
	if err := s.engine.SetSetting(r.Context(), key, req.Value); err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, map[string]string{"key": key, "value": req.Value})
}

func (s *Server) handleGetRole(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("id")
	role, err := s.engine.ActiveRole(r.Context(), user)
	if err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, map[string]string{"user_id": user, "role": role})
}

func (s *Server) handleSetRole(w http.ResponseWriter, r *http.Request) {
	if _, err := callerID(r); err != nil {
		HandleError(w, err)
		return
	}
	var req roleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		HandleError(w, err)
		return
	}
	user := r.PathValue("id")
	if err := s.engine.SetActiveRole(r.Context(), user, req.Role); err != nil {
		HandleError(w, err)
		return
	}
	JSONResponse(w, map[string]string{"user_id": user, "role": req.Role})
}

func (s *Server) handleClearRole(w http.ResponseWriter, r *http.Request) {
	if _, err := callerID(r); err != nil {
		HandleError(w, err)
		return
	}
	if err := s.engine.ClearActiveRole(r.Context(), r.PathValue("id")); err != nil {
		HandleError(w, err)
		return
	}
	NoContent(w)
}
