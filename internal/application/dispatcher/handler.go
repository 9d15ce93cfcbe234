package dispatcher

import (
	"context"

	"github.com/mwhitney-dev/caseflow/internal/domain/event"
	"github.com/mwhitney-dev/caseflow/internal/domain/transition"
)

// Topics the engine publishes on after a transition commits.
const (
	TopicTransitionCommitted = "transition.committed"
	TopicPortalUpdate        = "transition.portal"
)

// Notification is the post-commit payload handed to side-effect handlers: the
// event that caused the transition and the resulting projection. Handlers get
// no mutation handle; the transition is already durable when they run.
type Notification struct {
	CaseID     int64
	Event      event.Type
	Context    event.Context
	Projection *transition.Projection
}

// Handler processes a post-commit notification
type Handler func(ctx context.Context, n *Notification) error

// HandlerInfo contains handler metadata for debugging
type HandlerInfo struct {
	Name        string
	Topic       string
	Handler     Handler
	Description string
}
