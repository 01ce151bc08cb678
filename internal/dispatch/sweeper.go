package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/haasonsaas/switchboard/internal/observability"
	"github.com/haasonsaas/switchboard/internal/registry"
	"github.com/haasonsaas/switchboard/internal/sources"
	"github.com/haasonsaas/switchboard/pkg/models"
)

// OwnerFunc reports which source owns a conversation key, or nil when none
// does. Loop.Owner satisfies it.
type OwnerFunc func(models.ConversationKey) sources.Source

// Sweeper periodically reconciles the registry against source-reported
// thread existence, cleaning scopes whose backing thread is gone.
type Sweeper struct {
	registry *registry.Registry
	owner    OwnerFunc
	interval time.Duration
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewSweeper creates a Sweeper. Interval defaults to one minute.
func NewSweeper(reg *registry.Registry, owner OwnerFunc, interval time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		registry: reg,
		owner:    owner,
		interval: interval,
		logger:   logger.With("component", "sweeper"),
		metrics:  metrics,
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one reconciliation pass. Keys with no owning source are
// never existence-checked.
func (s *Sweeper) Sweep(ctx context.Context) {
	keys := s.registry.Keys()
	if len(keys) == 0 {
		return
	}
	if s.metrics != nil {
		s.metrics.SweepsTotal.Inc()
	}

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return
		}
		src := s.owner(key)
		if src == nil {
			continue
		}
		exists, err := src.ThreadExists(ctx, key)
		if err != nil {
			s.logger.Warn("existence check failed", "key", key.String(), "error", err)
			continue
		}
		if exists {
			continue
		}
		s.logger.Info("backing thread gone, cleaning scope", "key", key.String())
		s.registry.Clean(key)
		if s.metrics != nil {
			s.metrics.SweptConversations.Inc()
		}
	}
}
