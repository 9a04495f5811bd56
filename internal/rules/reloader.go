package rules

import (
	"context"
	"log/slog"
	"time"
)

// Reloader polls the rule store for version changes and reloads the snapshot
// when the version moves. Reload stays an explicit operation; the poller just
// triggers it between evaluation passes, never mid-event.
type Reloader struct {
	holder       *Holder
	pollInterval time.Duration
}

// NewReloader creates a reloader for the given snapshot holder.
func NewReloader(holder *Holder, pollInterval time.Duration) *Reloader {
	return &Reloader{
		holder:       holder,
		pollInterval: pollInterval,
	}
}

// Start begins polling in a background goroutine until ctx is cancelled.
func (r *Reloader) Start(ctx context.Context) {
	slog.Info("Starting rule version poller",
		"poll_interval", r.pollInterval,
		"initial_version", r.holder.Current().Version(),
	)
	go r.pollLoop(ctx)
}

func (r *Reloader) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Rule version poller stopped")
			return
		case <-ticker.C:
			if err := r.checkAndReload(ctx); err != nil {
				slog.Error("Failed to check/reload rules", "error", err)
				// Keep polling; a transient store error must not kill reloads.
			}
		}
	}
}

func (r *Reloader) checkAndReload(ctx context.Context) error {
	version, err := r.holder.store.RulesVersion(ctx)
	if err != nil {
		return err
	}
	current := r.holder.Current().Version()
	if version == current {
		return nil
	}
	slog.Info("Rule version changed, reloading",
		"old_version", current,
		"new_version", version,
	)
	return r.holder.Reload(ctx)
}
