// Package events defines the lifecycle event envelope the telemetry
// publisher emits and the admin WebSocket hub fans out, plus the Redis
// Pub/Sub transport both sides share.
package events

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies a lifecycle event. Unlike a generic task queue's
// submitted/started/retrying taxonomy, this worker only ever narrates its
// own Run Loop and process lifecycle — there is no separate task-queue
// service on the other end of this event stream.
type EventType string

const (
	EventClaimed    EventType = "run.claimed"
	EventVerifying  EventType = "run.verifying"
	EventExecuting  EventType = "run.executing"
	EventUploading  EventType = "run.uploading"
	EventReporting  EventType = "run.reporting"
	EventShutdown   EventType = "run.shutdown"
	EventWorkerUp   EventType = "worker.up"
	EventWorkerDown EventType = "worker.down"
)

// Event is one lifecycle notification, serialized as JSON over Redis
// Pub/Sub and then over the WebSocket fan-out untouched.
type Event struct {
	Type      EventType              `json:"type"`
	WorkerID  string                 `json:"worker_id"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// NewEvent builds an Event stamped with the current time.
func NewEvent(eventType EventType, workerID string, data map[string]interface{}) *Event {
	return &Event{
		Type:      eventType,
		WorkerID:  workerID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// ToJSON serializes the event.
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON deserializes an event.
func FromJSON(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// Publisher is the transport-agnostic seam both the Telemetry Publisher and
// the Admin Surface's WebSocket hub depend on.
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
	SubscribeAll(ctx context.Context) (<-chan *Event, error)
	Close() error
}
