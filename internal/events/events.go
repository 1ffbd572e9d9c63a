package events

import (
	"encoding/json"
	"time"
)

const (
	RunStarted  = "run.started"
	RunFinished = "run.finished"
	LeadCreated = "lead.created"
	LeadUpdated = "lead.updated"
)

// Event is the envelope streamed to dashboard clients.
type Event struct {
	Type      string          `json:"type"`
	Version   int             `json:"v"`
	At        time.Time       `json:"at"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// MakeEvent encodes an event envelope. Data that fails to marshal is dropped.
func MakeEvent(reqID, typ string, data any) string {
	var raw json.RawMessage
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			raw = b
		}
	}
	b, _ := json.Marshal(Event{
		Type:      typ,
		Version:   1,
		At:        time.Now().UTC(),
		RequestID: reqID,
		Data:      raw,
	})
	return string(b)
}
