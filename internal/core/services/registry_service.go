package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"streamrelay/internal/core/domain"
	"streamrelay/internal/core/ports"
	"streamrelay/pkg/circuitbreaker"
	"streamrelay/pkg/tracing"
	"streamrelay/pkg/validation"
)

// RegistryObserver receives the duration of each registry call.
type RegistryObserver interface {
	RecordRegistryOperation(operation, outcome string, duration time.Duration)
}

// RegistryService validates input and instruments any PeerRegistry. It is a
// PeerRegistry itself so it can be injected wherever one is expected.
type RegistryService struct {
	registry ports.PeerRegistry
	observer RegistryObserver
	breaker  *circuitbreaker.CircuitBreaker
	logger   *zap.SugaredLogger
}

func NewRegistryService(registry ports.PeerRegistry, observer RegistryObserver, logger *zap.SugaredLogger) *RegistryService {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RegistryService{
		registry: registry,
		observer: observer,
		logger:   logger,
	}
}

// EnableBreaker sheds registry calls with domain.ErrRegistryUnavailable once
// the backing store keeps failing. Misses and cancelled requests do not count
// as failures. Call before serving traffic.
func (s *RegistryService) EnableBreaker(cfg circuitbreaker.Config) {
	cfg.IsFailure = func(err error) bool {
		return !errors.Is(err, domain.ErrNotFound) &&
			!errors.Is(err, context.Canceled) &&
			!errors.Is(err, context.DeadlineExceeded)
	}
	cfg.OnStateChange = func(from, to circuitbreaker.State) {
		s.logger.Warnw("registry breaker state changed", "from", from.String(), "to", to.String())
	}
	s.breaker = circuitbreaker.New(cfg)
}

func (s *RegistryService) Register(ctx context.Context, stableID domain.StableID, networkID domain.NetworkID) error {
	if err := validation.ValidateStableID(string(stableID)); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidIdentity, err)
	}
	if err := validation.ValidateConnectionID(string(networkID)); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidIdentity, err)
	}

	ctx, span := tracing.TraceRegistryOperation(ctx, "register", string(stableID))
	defer span.End()

	start := time.Now()
	err := s.guard(func() error {
		return s.registry.Register(ctx, stableID, networkID)
	})
	s.observe("register", err, start)

	if err != nil {
		tracing.RecordError(ctx, err)
		s.logger.Warnw("registry register failed", "stable_id", stableID, "error", err)
		return err
	}

	s.logger.Infow("registered network identity",
		"stable_id", stableID,
		"network_id", networkID,
		"duration", time.Since(start),
	)
	return nil
}

// Lookup resolves stableID. A miss returns domain.ErrNotFound, which is an
// expected outcome and logged at debug level only.
func (s *RegistryService) Lookup(ctx context.Context, stableID domain.StableID) (domain.NetworkID, error) {
	if err := validation.ValidateStableID(string(stableID)); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidIdentity, err)
	}

	ctx, span := tracing.TraceRegistryOperation(ctx, "lookup", string(stableID))
	defer span.End()

	start := time.Now()
	var networkID domain.NetworkID
	err := s.guard(func() error {
		var err error
		networkID, err = s.registry.Lookup(ctx, stableID)
		return err
	})
	s.observe("lookup", err, start)

	switch {
	case errors.Is(err, domain.ErrNotFound):
		s.logger.Debugw("stable identity not registered", "stable_id", stableID)
		return "", err
	case err != nil:
		tracing.RecordError(ctx, err)
		s.logger.Warnw("registry lookup failed", "stable_id", stableID, "error", err)
		return "", err
	}

	s.logger.Debugw("resolved stable identity", "stable_id", stableID, "network_id", networkID)
	return networkID, nil
}

func (s *RegistryService) guard(fn func() error) error {
	if s.breaker == nil {
		return fn()
	}
	err := s.breaker.Execute(fn)
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return fmt.Errorf("%w: %v", domain.ErrRegistryUnavailable, err)
	}
	return err
}

func (s *RegistryService) observe(operation string, err error, start time.Time) {
	if s.observer == nil {
		return
	}
	outcome := "ok"
	switch {
	case errors.Is(err, domain.ErrNotFound):
		outcome = "not_found"
	case errors.Is(err, domain.ErrRegistryUnavailable):
		outcome = "shed"
	case err != nil:
		outcome = "error"
	}
	s.observer.RecordRegistryOperation(operation, outcome, time.Since(start))
}
