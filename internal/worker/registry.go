package worker

import (
	"context"
	"errors"
	"fmt"

	"feedkeeper.app/internal/model"
)

// Handler executes one kind of job. Handle must be idempotent: a job can be
// executed again after a crash or a rolled back claim.
type Handler interface {
	Handle(ctx context.Context, p model.Payload) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, p model.Payload) error

func (f HandlerFunc) Handle(ctx context.Context, p model.Payload) error {
	return f(ctx, p)
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[model.JobKind]Handler)}
}

// Registry maps job kinds to their handlers. It's not safe to Register
// while workers are running.
type Registry struct {
	handlers map[model.JobKind]Handler
}

func (self *Registry) Register(kind model.JobKind, h Handler) *Registry {
	self.handlers[kind] = h
	return self
}

func (self *Registry) Handler(kind model.JobKind) (Handler, bool) {
	h, ok := self.handlers[kind]
	return h, ok
}

// Validate returns an error naming every job kind without a handler.
func (self *Registry) Validate() error {
	var errs []error
	for _, kind := range model.JobKinds() {
		if _, ok := self.handlers[kind]; !ok {
			errs = append(errs, fmt.Errorf("worker: no handler for %q jobs", kind))
		}
	}
	return errors.Join(errs...)
}
