package conflicts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// ResilientConfig tunes ResilientSource.
type ResilientConfig struct {
	Name            string
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
	// TripAfter consecutive failures opens the breaker.
	TripAfter uint32
}

// DefaultResilientConfig returns the settings used by the service.
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		Name:            "conflict-source",
		MaxRetries:      2,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
		OpenTimeout:     30 * time.Second,
		TripAfter:       5,
	}
}

// ResilientSource retries transient failures and stops calling a failing
// source once the circuit breaker opens. Every failure surfaces as ErrUnavailable.
type ResilientSource struct {
	next   Source
	cb     *gobreaker.CircuitBreaker[[]Reservation]
	cfg    ResilientConfig
	logger *zerolog.Logger
}

// NewResilientSource wraps next with retry and circuit breaking.
func NewResilientSource(next Source, cfg ResilientConfig, logger *zerolog.Logger) *ResilientSource {
	def := DefaultResilientConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = def.MaxInterval
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.TripAfter == 0 {
		cfg.TripAfter = def.TripAfter
	}

	trip := cfg.TripAfter
	cb := gobreaker.NewCircuitBreaker[[]Reservation](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= trip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("conflict source breaker state changed")
		},
	})

	return &ResilientSource{next: next, cb: cb, cfg: cfg, logger: logger}
}

func (s *ResilientSource) FindOverlappingReservations(ctx context.Context, studioID int64, dayStart, dayEnd time.Time) ([]Reservation, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.InitialInterval
	bo.MaxInterval = s.cfg.MaxInterval
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, s.cfg.MaxRetries), ctx)

	var out []Reservation
	operation := func() error {
		res, err := s.cb.Execute(func() ([]Reservation, error) {
			return s.next.FindOverlappingReservations(ctx, studioID, dayStart, dayEnd)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		out = res
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		s.logger.Error().Err(err).Int64("studio_id", studioID).Time("day", dayStart).Msg("conflict lookup failed")
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return out, nil
}

// State reports the breaker state for readiness checks.
func (s *ResilientSource) State() gobreaker.State {
	return s.cb.State()
}
