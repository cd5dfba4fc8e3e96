// Package events provides lifecycle event types and in-memory fan-out for
// verity. Events describe committed state changes only.
package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType defines the type of event.
type EventType string

const (
	// Task lifecycle
	EventTaskCompleted EventType = "task.completed"
	EventTaskActivated EventType = "task.activated"
	EventTaskBlocked   EventType = "task.blocked"
	EventTaskReverted  EventType = "task.reverted"

	// Phase and project lifecycle
	EventPhaseClosed      EventType = "phase.closed"
	EventPhaseActivated   EventType = "phase.activated"
	EventProjectCompleted EventType = "project.completed"

	// Incident workflow
	EventIncidentRaised    EventType = "incident.raised"
	EventIncidentEscalated EventType = "incident.escalated"
	EventIncidentResolved  EventType = "incident.resolved"

	// Documents
	EventDocumentSaved     EventType = "document.saved"
	EventDocumentSubmitted EventType = "document.submitted"
)

// Event represents a published event.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	ProjectID int64     `json:"project_id"`
	TaskID    int64     `json:"task_id,omitempty"`
	Data      any       `json:"data,omitempty"`
	Time      time.Time `json:"time"`
}

// NewEvent creates a new event with a fresh ID and the current timestamp.
func NewEvent(eventType EventType, projectID, taskID int64, data any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		ProjectID: projectID,
		TaskID:    taskID,
		Data:      data,
		Time:      time.Now().UTC(),
	}
}

// StatusChange is the payload of task, phase and project events.
type StatusChange struct {
	PhaseID int64  `json:"phase_id,omitempty"`
	Status  string `json:"status"`
}

// DocumentData is the payload of document events.
type DocumentData struct {
	DocumentID int64  `json:"document_id"`
	Version    *int64 `json:"version,omitempty"`
	AuthorID   string `json:"author_id"`
}

// IncidentData is the payload of incident events.
type IncidentData struct {
	IncidentID  int64  `json:"incident_id"`
	Role        string `json:"role,omitempty"`
	PendingRole string `json:"pending_role,omitempty"`
	UserID      string `json:"user_id"`
}
