package scheduler

import (
	"context"
	"fmt"
	"sync"

	"content-backoffice/internal/models"
)

// PublishFunc executes the publication of one content item on behalf of the
// actor who scheduled it.
type PublishFunc func(ctx context.Context, contentID, actorID string) error

// HandlerRegistry maps content types to their publish handlers. Both content
// kinds share one scheduling mechanism; only the execution step differs.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[models.ContentType]PublishFunc
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[models.ContentType]PublishFunc)}
}

// Register installs the publish handler for a content type.
func (r *HandlerRegistry) Register(t models.ContentType, fn PublishFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = fn
}

// Get returns the handler for a content type.
func (r *HandlerRegistry) Get(t models.ContentType) (PublishFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[t]
	if !ok {
		return nil, fmt.Errorf("no publish handler registered for content type %q", t)
	}
	return fn, nil
}
