package orchestrator

import (
	"context"
	"fmt"
	"sort"

	"carepath/internal/types"
)

// Handler performs the work of one task type.
//
// Handlers must be idempotent: a second call for the same subject must detect
// the side effect of the first and return success without repeating it. A
// handler that does not apply to the subject returns a skipped result. Any
// failure is returned as an error, never folded into a fabricated success.
type Handler interface {
	TaskType() types.TaskType
	Handle(ctx context.Context, subjectID string, task types.RegistrationTask) (*types.TaskResult, error)
}

// Registry maps task types to handlers.
type Registry struct {
	handlers map[types.TaskType]Handler
}

// NewRegistry builds a registry, rejecting duplicate task types.
func NewRegistry(handlers ...Handler) (*Registry, error) {
	r := &Registry{handlers: make(map[types.TaskType]Handler, len(handlers))}
	for _, h := range handlers {
		tt := h.TaskType()
		if _, dup := r.handlers[tt]; dup {
			return nil, fmt.Errorf("duplicate handler for task type %q", tt)
		}
		r.handlers[tt] = h
	}
	return r, nil
}

// Lookup returns the handler registered for tt.
func (r *Registry) Lookup(tt types.TaskType) (Handler, bool) {
	h, ok := r.handlers[tt]
	return h, ok
}

// Types returns the registered task types in a stable order.
func (r *Registry) Types() []types.TaskType {
	out := make([]types.TaskType, 0, len(r.handlers))
	for tt := range r.handlers {
		out = append(out, tt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
