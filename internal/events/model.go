// Package events persists the configuration-change audit trail.
package events

import (
	"encoding/json"
	"time"
)

// Type classifies an audit event.
type Type string

const (
	TypeReconfiguration Type = "reconfiguration"
	TypeControl         Type = "control"
	TypeStreaming       Type = "streaming"
	TypeConfig          Type = "config"
)

// Event is one entry in the audit trail. Payload holds the bus message
// verbatim.
type Event struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	Subject   string          `json:"subject"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// ListOptions filters a List query.
type ListOptions struct {
	Type      Type      `json:"type,omitempty"`
	StartTime time.Time `json:"start_time,omitempty"`
	EndTime   time.Time `json:"end_time,omitempty"`
	Limit     int       `json:"limit,omitempty"`
	Offset    int       `json:"offset,omitempty"`
}
