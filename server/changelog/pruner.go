package changelog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Pruner periodically drops change-log entries older than the retention
// period. Tokens that precede the pruned range answer with ErrTokenReset and
// clients fall back to a full sync.
type Pruner struct {
	log       Log
	retention time.Duration
	logger    *slog.Logger
	cron      *cron.Cron
	now       func() time.Time
}

// NewPruner creates a pruner keeping retention worth of history.
func NewPruner(log Log, retention time.Duration, logger *slog.Logger) *Pruner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pruner{
		log:       log,
		retention: retention,
		logger:    logger,
		cron:      cron.New(),
		now:       time.Now,
	}
}

// Start schedules pruning with a standard five-field cron spec or a
// descriptor such as "@every 1h".
func (p *Pruner) Start(spec string) error {
	if _, err := p.cron.AddFunc(spec, func() {
		if _, err := p.RunOnce(context.Background()); err != nil {
			p.logger.Error("change log pruning failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", spec, err)
	}
	p.cron.Start()
	p.logger.Info("change log pruner started", "schedule", spec, "retention", p.retention)
	return nil
}

// Stop halts the schedule and waits for a running prune to finish.
func (p *Pruner) Stop() {
	ctx := p.cron.Stop()
	<-ctx.Done()
}

// RunOnce prunes every collection and returns the number of removed entries.
func (p *Pruner) RunOnce(ctx context.Context) (int, error) {
	collections, err := p.log.Collections(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := p.now().Add(-p.retention)
	total := 0
	for _, id := range collections {
		n, err := p.log.Prune(ctx, id, cutoff)
		if err != nil {
			return total, fmt.Errorf("pruning %s: %w", id, err)
		}
		if n > 0 {
			p.logger.Debug("pruned change log", "collection", id, "entries", n)
		}
		total += n
	}
	return total, nil
}
