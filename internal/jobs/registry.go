package jobs

import (
	"context"
	"fmt"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// Handler executes one job. Handlers own their idempotency: a redelivered job
// must be a safe no-op.
type Handler interface {
	Handle(ctx context.Context, job *models.Job, payload Payload) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *models.Job, payload Payload) error

func (f HandlerFunc) Handle(ctx context.Context, job *models.Job, payload Payload) error {
	return f(ctx, job, payload)
}

// Typed wraps a handler for one payload variant so callers never type-assert.
func Typed[P Payload](fn func(ctx context.Context, job *models.Job, payload P) error) Handler {
	return HandlerFunc(func(ctx context.Context, job *models.Job, payload Payload) error {
		typed, ok := payload.(P)
		if !ok {
			return Permanent(fmt.Errorf("payload %T does not match handler", payload))
		}
		return fn(ctx, job, typed)
	})
}

// Registry maps job types to handlers. It is built once at startup.
type Registry struct {
	handlers map[enums.JobType]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: map[enums.JobType]Handler{}}
}

// Register binds handler to jobType. Registering a type twice is an error.
func (r *Registry) Register(jobType enums.JobType, handler Handler) error {
	if !jobType.IsValid() {
		return fmt.Errorf("unknown job type %q", jobType)
	}
	if handler == nil {
		return fmt.Errorf("handler for %s is nil", jobType)
	}
	if _, exists := r.handlers[jobType]; exists {
		return fmt.Errorf("handler for %s already registered", jobType)
	}
	r.handlers[jobType] = handler
	return nil
}

// Resolve returns the handler for jobType.
func (r *Registry) Resolve(jobType enums.JobType) (Handler, bool) {
	handler, ok := r.handlers[jobType]
	return handler, ok
}

// Types lists the registered job types.
func (r *Registry) Types() []enums.JobType {
	types := make([]enums.JobType, 0, len(r.handlers))
	for jobType := range r.handlers {
		types = append(types, jobType)
	}
	return types
}
