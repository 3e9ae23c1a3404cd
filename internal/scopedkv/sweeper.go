package scopedkv

import (
	"context"
	"log/slog"
	"time"

	"github.com/scopekv/scopekv/internal/backend"
)

// DefaultSweepInterval is how often the sweeper deletes expired records when
// no interval is configured.
const DefaultSweepInterval = time.Minute

// Sweeper periodically deletes records whose expiration has passed. It is
// the physical half of the expiration model: reads already hide expired
// records, the sweeper reclaims them. It spans all scopes.
//
// Removal is eventually consistent - an expired record may survive in the
// backing collection for up to one interval.
type Sweeper struct {
	coll     backend.Collection
	interval time.Duration
	now      func() time.Time
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweeperNow overrides the sweeper's time source.
func WithSweeperNow(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		s.now = now
	}
}

// NewSweeper creates a sweeper over the given collection. A non-positive
// interval falls back to DefaultSweepInterval.
func NewSweeper(coll backend.Collection, interval time.Duration, opts ...SweeperOption) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	s := &Sweeper{
		coll:     coll,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps on the configured interval until ctx is cancelled. Sweep
// failures are logged and the loop continues; a transient engine error must
// not stop expiration permanently.
func (s *Sweeper) Run(ctx context.Context) {
	slog.Info("sweeper starting", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("sweeper stopping: context cancelled")
			return
		case <-ticker.C:
			n, err := s.SweepOnce(ctx)
			if err != nil {
				slog.Error("sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("sweep complete", "deleted", n)
			}
		}
	}
}

// SweepOnce deletes every record whose expiration has passed and returns the
// count. Safe to call concurrently with normal operations; deletion is
// per-record atomic and re-running is a no-op once complete.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	return s.coll.DeleteExpired(ctx, s.now())
}
