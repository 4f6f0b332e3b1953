package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// StudiosApplier stores a validated studios config, typically in the database.
type StudiosApplier interface {
	SyncStudiosFromConfig(ctx context.Context, cfg *StudiosConfig) error
}

// StudiosWatcher keeps the studio catalogue in step with studios.yaml.
// A broken file is reported once and left alone until it changes again; a
// failed apply is retried on the next tick.
type StudiosWatcher struct {
	path     string
	interval time.Duration
	apply    StudiosApplier
	logger   *zerolog.Logger

	seenMod time.Time
	applied []byte // sha256 of the last applied content
}

func NewStudiosWatcher(path string, interval time.Duration, apply StudiosApplier, logger *zerolog.Logger) *StudiosWatcher {
	if path == "" {
		path = "configs/studios.yaml"
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &StudiosWatcher{path: path, interval: interval, apply: apply, logger: logger}
}

// Sync applies studios.yaml if its content differs from what was last applied.
// It reports whether the catalogue was updated.
func (w *StudiosWatcher) Sync(ctx context.Context) (bool, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return false, fmt.Errorf("stat studios config: %w", err)
	}
	if w.applied != nil && !info.ModTime().After(w.seenMod) {
		return false, nil
	}

	data, err := os.ReadFile(w.path)
	if err != nil {
		return false, fmt.Errorf("read studios config: %w", err)
	}
	sum := sha256.Sum256(data)
	if bytes.Equal(sum[:], w.applied) {
		w.seenMod = info.ModTime()
		return false, nil
	}

	cfg, err := ParseStudiosConfig(data)
	if err != nil {
		w.seenMod = info.ModTime()
		return false, err
	}
	if err := w.apply.SyncStudiosFromConfig(ctx, cfg); err != nil {
		return false, fmt.Errorf("apply studios config: %w", err)
	}

	w.seenMod = info.ModTime()
	w.applied = sum[:]
	w.logger.Info().
		Int("studios", len(cfg.Studios)).
		Int("holidays", len(cfg.Holidays)).
		Str("path", w.path).
		Msg("studios config applied")
	return true, nil
}

// Run polls until ctx is done.
func (w *StudiosWatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Sync(ctx); err != nil {
				w.logger.Warn().Err(err).Str("path", w.path).Msg("studios config reload rejected")
			}
		}
	}
}

// WatchStudios applies studios.yaml once, failing if that first sync fails,
// and then keeps polling it in the background.
func WatchStudios(ctx context.Context, path string, interval time.Duration, apply StudiosApplier, logger *zerolog.Logger) error {
	w := NewStudiosWatcher(path, interval, apply, logger)
	if _, err := w.Sync(ctx); err != nil {
		return err
	}
	go w.Run(ctx)
	return nil
}
