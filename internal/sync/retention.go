// Package sync runs the background upkeep of the turn journal.
package sync

import (
	"context"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/nhle/tasktalk/internal/store"
)

// pruneTimeout is the maximum time allowed for a single prune.
const pruneTimeout = 30 * time.Second

// PruneState represents the current state of the pruner.
type PruneState int

const (
	PruneIdle PruneState = iota
	PruneRunning
	PruneError
)

// PruneStatus describes the last prune.
type PruneStatus struct {
	State     PruneState
	LastPrune time.Time
	Removed   int64
	Error     error
}

// Pruner periodically deletes journal turns older than the retention.
type Pruner struct {
	store     store.Store
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time

	triggerCh chan struct{}

	mu     gosync.Mutex
	status PruneStatus
}

// NewPruner creates a Pruner. A zero retention keeps every turn and makes
// Run return immediately.
func NewPruner(s store.Store, retention, interval time.Duration, logger *slog.Logger) *Pruner {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Pruner{
		store:     s,
		retention: retention,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
		triggerCh: make(chan struct{}, 1),
	}
}

// Run prunes once immediately and then on every interval until ctx is
// cancelled.
func (p *Pruner) Run(ctx context.Context) {
	if p.retention <= 0 {
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune(ctx)
		case <-p.triggerCh:
			p.prune(ctx)
		}
	}
}

// Trigger requests an immediate prune without waiting for it.
func (p *Pruner) Trigger() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
		// A prune is already pending.
	}
}

// Status returns the outcome of the last prune.
func (p *Pruner) Status() PruneStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Pruner) prune(ctx context.Context) {
	p.setStatus(func(s *PruneStatus) { s.State = PruneRunning })

	ctx, cancel := context.WithTimeout(ctx, pruneTimeout)
	defer cancel()

	cutoff := p.now().Add(-p.retention)
	removed, err := p.store.PruneTurns(ctx, cutoff)
	if err != nil {
		p.logger.Warn("pruning journal failed", "error", err)
		p.setStatus(func(s *PruneStatus) {
			s.State = PruneError
			s.Error = err
		})
		return
	}

	if removed > 0 {
		p.logger.Info("pruned journal", "removed", removed, "before", cutoff)
	}
	p.setStatus(func(s *PruneStatus) {
		s.State = PruneIdle
		s.Error = nil
		s.Removed = removed
		s.LastPrune = p.now()
	})
}

func (p *Pruner) setStatus(update func(*PruneStatus)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	update(&p.status)
}
