package event

import (
	"time"

	"github.com/google/uuid"
)

// Context carries the event-specific key/value data handed to the reducer,
// plus the caller-supplied idempotency token. Events without a token are never
// deduplicated.
type Context struct {
	IdempotencyToken string                 `json:"idempotency_token,omitempty"`
	Payload          map[string]interface{} `json:"payload,omitempty"`
}

// NewContext builds a Context around a payload map.
func NewContext(payload map[string]interface{}) Context {
	return Context{Payload: payload}
}

// WithToken returns a copy of the context tagged with an idempotency token.
func (c Context) WithToken(token string) Context {
	c.IdempotencyToken = token
	return c
}

// GetString retrieves a string value from the payload.
func (c Context) GetString(key string) string {
	if val, ok := c.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetInt retrieves an int64 value from the payload.
func (c Context) GetInt(key string) int64 {
	if val, ok := c.Payload[key]; ok {
		switch v := val.(type) {
		case int64:
			return v
		case int:
			return int64(v)
		case float64:
			return int64(v)
		}
	}
	return 0
}

// GetBool retrieves a bool value from the payload.
func (c Context) GetBool(key string) bool {
	if val, ok := c.Payload[key]; ok {
		if b, ok := val.(bool); ok {
			return b
		}
	}
	return false
}

// Event pairs a trigger type with the case it targets. Used by the dispatcher
// to fan transition outcomes out to observers.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	CaseID    int64     `json:"case_id"`
	Context   Context   `json:"context"`
	Timestamp time.Time `json:"timestamp"`
}

// New creates an event with a generated ID and current timestamp.
func New(eventType Type, caseID int64, ctx Context) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		CaseID:    caseID,
		Context:   ctx,
		Timestamp: time.Now(),
	}
}
