package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

type Component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Hooks adapts a pair of functions to Component. Either may be nil.
type Hooks struct {
	OnStart func(ctx context.Context) error
	OnStop  func(ctx context.Context) error
}

func (h Hooks) Start(ctx context.Context) error {
	if h.OnStart == nil {
		return nil
	}
	return h.OnStart(ctx)
}

func (h Hooks) Stop(ctx context.Context) error {
	if h.OnStop == nil {
		return nil
	}
	return h.OnStop(ctx)
}

type named struct {
	name      string
	component Component
}

// Runtime starts components in registration order and stops the started
// ones in reverse.
type Runtime struct {
	mu         sync.Mutex
	components []named
	started    []named
}

func NewRuntime() *Runtime {
	return &Runtime{}
}

func (r *Runtime) Register(name string, component Component) {
	if component == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components = append(r.components, named{name: name, component: component})
}

func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.components {
		entry := log.WithFields(log.Fields{"object": "Runtime", "component": c.name})
		if err := c.component.Start(ctx); err != nil {
			entry.WithField("error", err.Error()).Error("component failed to start")
			stopErr := r.stopStarted(ctx)
			return errors.Join(fmt.Errorf("start component %s: %w", c.name, err), stopErr)
		}
		entry.Debug("component started")
		r.started = append(r.started, c)
	}
	return nil
}

func (r *Runtime) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopStarted(ctx)
}

func (r *Runtime) stopStarted(ctx context.Context) error {
	var stopErr error
	for i := len(r.started) - 1; i >= 0; i-- {
		c := r.started[i]
		if err := c.component.Stop(ctx); err != nil {
			stopErr = errors.Join(stopErr, fmt.Errorf("stop component %s: %w", c.name, err))
			continue
		}
		log.WithFields(log.Fields{"object": "Runtime", "component": c.name}).Debug("component stopped")
	}
	r.started = nil
	return stopErr
}
