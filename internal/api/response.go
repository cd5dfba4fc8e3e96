// Package api provides the HTTP shell and websocket event stream for verity.
package api

import (
	"encoding/json"
	"net/http"

	verrors "github.com/randalmurphal/verity/internal/errors"
)

// Envelope statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Envelope is the body of every API response.
type Envelope struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
	Data    any    `json:"data"`
}

// JSONResponse writes a successful JSON response.
func JSONResponse(w http.ResponseWriter, data any) {
	JSONResponseStatus(w, data, http.StatusOK)
}

// JSONResponseStatus writes a successful JSON response with a specific status
// code. The message is the status text.
func JSONResponseStatus(w http.ResponseWriter, data any, status int) {
	JSONMessage(w, data, http.StatusText(status), status)
}

// JSONMessage writes a successful JSON response carrying message.
func JSONMessage(w http.ResponseWriter, data any, message string, status int) {
	writeEnvelope(w, status, Envelope{Status: StatusOK, Message: message, Data: data})
}

// JSONError writes a simple error response.
func JSONError(w http.ResponseWriter, message string, status int) {
	writeEnvelope(w, status, Envelope{Status: StatusError, Message: message})
}

// HandleError maps err onto an error envelope. Errors that are not
// VerityErrors are reported as internal without their text.
func HandleError(w http.ResponseWriter, err error) {
	ve := verrors.AsVerityError(err)
	if ve == nil || ve.Category() == verrors.CategoryInternal {
		if ve == nil || ve.Code != verrors.CodeInternal {
			ve = verrors.ErrInternal("request", err)
		}
	}
	writeEnvelope(w, ve.HTTPStatus(), Envelope{
		Status:  StatusError,
		Message: ve.UserMessage(),
		Code:    string(ve.Code),
	})
}

// NoContent writes a 204 No Content response.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func writeEnvelope(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}
