// Package realtime defines the events the service announces to downstream
// consumers once a model run settles.
package realtime

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventModelProcessed  EventType = "ifc.processed"
	EventModelFailed     EventType = "ifc.failed"
	EventIntegrationSync EventType = "integration.sync.requested"
	EventJobProgress     EventType = "job.progress"
	EventJobFailed       EventType = "job.failed"
	EventJobDone         EventType = "job.done"
)

type Event struct {
	Type      EventType       `json:"type"`
	ProjectID uuid.UUID       `json:"project_id,omitempty"`
	ModelID   uuid.UUID       `json:"ifc_model_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	At        time.Time       `json:"at"`
}

// NewEvent marshals data into the event body. A nil data leaves Data empty.
func NewEvent(typ EventType, projectID, modelID uuid.UUID, data any) (Event, error) {
	ev := Event{Type: typ, ProjectID: projectID, ModelID: modelID, At: time.Now().UTC()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Event{}, err
		}
		ev.Data = raw
	}
	return ev, nil
}
