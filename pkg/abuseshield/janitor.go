package abuseshield

import (
	"context"
	"log/slog"
	"time"

	"github.com/yourusername/abuseshield/store"
)

// Janitor runs the periodic maintenance the hot path only does lazily:
// deactivating expired blocks and trusted entries and pruning the violation
// log past its retention. Pure housekeeping; nothing on the request path
// depends on it having run.
type Janitor struct {
	blocks     store.BlockStore
	trusted    store.TrustStore
	violations store.ViolationStore
	retention  time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// CleanupResult reports what one maintenance pass changed.
type CleanupResult struct {
	BlocksDeactivated  int64 `json:"blocks_deactivated"`
	TrustedDeactivated int64 `json:"trusted_deactivated"`
	ViolationsDeleted  int64 `json:"violations_deleted"`
}

// NewJanitor creates a janitor over the durable stores. Any store may be
// nil; its stage is skipped.
func NewJanitor(blocks store.BlockStore, trusted store.TrustStore, violations store.ViolationStore, retention time.Duration, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		blocks:     blocks,
		trusted:    trusted,
		violations: violations,
		retention:  retention,
		logger:     logger.With("component", "janitor"),
		now:        time.Now,
	}
}

// CleanupExpired runs one maintenance pass. Stage failures are logged and
// do not abort the remaining stages.
func (j *Janitor) CleanupExpired(ctx context.Context) CleanupResult {
	now := j.now()
	var res CleanupResult

	if j.blocks != nil {
		n, err := j.blocks.DeactivateExpired(ctx, now)
		if err != nil {
			j.logger.Error("expired block sweep failed", "error", err)
		}
		res.BlocksDeactivated = n
	}

	if j.trusted != nil {
		n, err := j.trusted.DeactivateExpired(ctx, now)
		if err != nil {
			j.logger.Error("expired trust sweep failed", "error", err)
		}
		res.TrustedDeactivated = n
	}

	if j.violations != nil && j.retention > 0 {
		n, err := j.violations.DeleteOlderThan(ctx, now.Add(-j.retention))
		if err != nil {
			j.logger.Error("violation retention prune failed", "error", err)
		}
		res.ViolationsDeleted = n
	}

	j.logger.Info("cleanup pass finished",
		"blocks_deactivated", res.BlocksDeactivated,
		"trusted_deactivated", res.TrustedDeactivated,
		"violations_deleted", res.ViolationsDeleted)
	return res
}

// StartBackgroundCleanup runs CleanupExpired every interval until the
// returned stop function is called.
func (j *Janitor) StartBackgroundCleanup(interval time.Duration) func() {
	if interval <= 0 {
		return func() {}
	}

	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				j.CleanupExpired(context.Background())
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	return func() {
		close(done)
	}
}
