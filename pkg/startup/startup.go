package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
)

// Dependency is an external resource that must be reachable before the service starts.
type Dependency interface {
	Name() string
	DependsOn() []string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type status int

const (
	statusPending status = iota
	statusStarted
	statusStopped
	statusFailed
)

// Startup starts dependencies in dependency order, retrying the whole set with a
// Fibonacci backoff (1s, 1s, 2s, 3s, ...) until maxAttempts is reached.
type Startup struct {
	logger       ectologger.Logger
	maxAttempts  int
	order        []string
	started      []string
	dependencies map[string]Dependency
	statuses     map[string]status
	unit         time.Duration
}

func New(logger ectologger.Logger, maxAttempts int) *Startup {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Startup{
		logger:       logger,
		maxAttempts:  maxAttempts,
		dependencies: make(map[string]Dependency),
		statuses:     make(map[string]status),
		unit:         time.Second,
	}
}

func (s *Startup) Add(dependency Dependency) {
	if _, ok := s.dependencies[dependency.Name()]; !ok {
		s.order = append(s.order, dependency.Name())
	}
	s.dependencies[dependency.Name()] = dependency
}

func (s *Startup) Start(ctx context.Context) error {
	var lastErr error
	a, b := 1, 1
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		s.logger.WithField("attempt", attempt).Infof("Beginning startup attempt %d", attempt)

		lastErr = nil
		for _, name := range s.order {
			if err := s.start(ctx, name, map[string]bool{}); err != nil {
				s.logger.WithError(err).Errorf("Startup dependency '%s' attempt %d failed", name, attempt)
				lastErr = err
				break
			}
		}
		if lastErr == nil {
			return nil
		}
		if attempt == s.maxAttempts {
			break
		}

		wait := time.Duration(a) * s.unit
		s.logger.Infof("Retrying in %s (attempt %d/%d)", wait, attempt, s.maxAttempts)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		a, b = b, a+b
	}

	return fmt.Errorf("startup failed after %d attempts: %w", s.maxAttempts, lastErr)
}

func (s *Startup) start(ctx context.Context, name string, visiting map[string]bool) error {
	if s.statuses[name] == statusStarted {
		return nil
	}
	dependency, ok := s.dependencies[name]
	if !ok {
		return fmt.Errorf("unknown startup dependency '%s'", name)
	}
	if visiting[name] {
		return fmt.Errorf("startup dependency cycle at '%s'", name)
	}
	visiting[name] = true

	for _, parent := range dependency.DependsOn() {
		if err := s.start(ctx, parent, visiting); err != nil {
			return err
		}
	}

	log := s.logger.WithField("dependency", name)
	log.Infof("Starting dependency '%s'", name)
	s.statuses[name] = statusPending
	if err := dependency.Start(ctx); err != nil {
		s.statuses[name] = statusFailed
		return err
	}
	s.statuses[name] = statusStarted
	s.started = append(s.started, name)
	return nil
}

// Stop stops started dependencies in reverse start order.
func (s *Startup) Stop(ctx context.Context) error {
	var firstErr error
	for i := len(s.started) - 1; i >= 0; i-- {
		name := s.started[i]
		if s.statuses[name] != statusStarted {
			continue
		}
		log := s.logger.WithField("dependency", name)
		if err := s.dependencies[name].Stop(ctx); err != nil {
			log.WithError(err).Errorf("Failed to stop dependency '%s'", name)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.statuses[name] = statusStopped
		log.Infof("Dependency '%s' stopped", name)
	}
	return firstErr
}

// Func adapts plain functions into a Dependency.
type Func struct {
	ID       string
	Requires []string
	OnStart  func(ctx context.Context) error
	OnStop   func(ctx context.Context) error
}

func (f Func) Name() string        { return f.ID }
func (f Func) DependsOn() []string { return f.Requires }

func (f Func) Start(ctx context.Context) error {
	if f.OnStart == nil {
		return nil
	}
	return f.OnStart(ctx)
}

func (f Func) Stop(ctx context.Context) error {
	if f.OnStop == nil {
		return nil
	}
	return f.OnStop(ctx)
}
