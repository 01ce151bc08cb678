// Package dispatch composes the registry, turn queue, stream combinators,
// and agent executor into the end-to-end conversation pipeline.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/switchboard/internal/agent"
	"github.com/haasonsaas/switchboard/internal/history"
	"github.com/haasonsaas/switchboard/internal/observability"
	"github.com/haasonsaas/switchboard/internal/registry"
	"github.com/haasonsaas/switchboard/internal/sources"
	"github.com/haasonsaas/switchboard/internal/stream"
	"github.com/haasonsaas/switchboard/internal/turnqueue"
	"github.com/haasonsaas/switchboard/pkg/models"
)

// Options configures a dispatch Loop.
type Options struct {
	Sources   []sources.Source
	Resolver  agent.Resolver
	Registry  *registry.Registry
	Queue     *turnqueue.Queue
	Store     history.Store
	Notifiers []Notifier

	// Workers is the size of the turn-executing pool. Defaults to the queue
	// capacity.
	Workers int

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// conversation is the per-key dispatch state. At most one turn unit per
// conversation is in flight at a time, tracked by running; prompts arriving
// while a turn runs wait in pending for the next turn.
type conversation struct {
	key     models.ConversationKey
	scope   *registry.Scope
	source  sources.Source
	history *history.History

	mu      sync.Mutex
	pending []*models.Prompt
	running bool
}

// Loop is the conversation dispatch orchestrator.
type Loop struct {
	sources   []sources.Source
	resolver  agent.Resolver
	registry  *registry.Registry
	queue     *turnqueue.Queue
	store     history.Store
	notifiers []Notifier
	workers   int
	logger    *slog.Logger
	metrics   *observability.Metrics

	mu     sync.Mutex
	convs  map[models.ConversationKey]*conversation
	owners map[models.ConversationKey]sources.Source

	// streams feeds each turn's update channel into the merged egress.
	streams chan (<-chan models.Update)
	notifyC chan *models.StreamNotification
	wg      sync.WaitGroup
}

// New creates a dispatch Loop. Sources, Resolver, Registry, Queue, and Store
// are required.
func New(opts Options) (*Loop, error) {
	if len(opts.Sources) == 0 {
		return nil, fmt.Errorf("dispatch: at least one source is required")
	}
	if opts.Resolver == nil || opts.Registry == nil || opts.Queue == nil || opts.Store == nil {
		return nil, fmt.Errorf("dispatch: resolver, registry, queue, and store are required")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = opts.Queue.Capacity()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		sources:   opts.Sources,
		resolver:  opts.Resolver,
		registry:  opts.Registry,
		queue:     opts.Queue,
		store:     opts.Store,
		notifiers: opts.Notifiers,
		workers:   workers,
		logger:    logger.With("component", "dispatch"),
		metrics:   opts.Metrics,
		convs:     make(map[models.ConversationKey]*conversation),
		owners:    make(map[models.ConversationKey]sources.Source),
		streams:   make(chan (<-chan models.Update)),
		notifyC:   make(chan *models.StreamNotification, 64),
	}, nil
}

// Run starts the pipeline and blocks until ctx is cancelled and all workers
// have drained.
func (l *Loop) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	egress := stream.MergeAll(ctx, l.streams)
	g.Go(func() error {
		l.deliver(ctx, egress)
		return nil
	})

	g.Go(func() error {
		l.fanOutNotifications(ctx)
		return nil
	})

	for i := 0; i < l.workers; i++ {
		g.Go(func() error {
			return l.worker(ctx)
		})
	}

	merged, err := l.intake(ctx)
	if err != nil {
		return err
	}
	groups := stream.GroupBy(ctx, merged, func(_ context.Context, p *models.Prompt) (models.ConversationKey, error) {
		return p.Key, nil
	})
	g.Go(func() error {
		var groupWG sync.WaitGroup
		for group := range groups {
			groupWG.Add(1)
			go func(items <-chan *models.Prompt) {
				defer groupWG.Done()
				for prompt := range items {
					l.handlePrompt(ctx, prompt)
				}
			}(group.Items)
		}
		groupWG.Wait()
		return nil
	})

	err = g.Wait()
	l.wg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// intake starts every source's prompt stream, stamps key ownership as
// prompts pass through, and merges the streams into one.
func (l *Loop) intake(ctx context.Context) (<-chan *models.Prompt, error) {
	stamped := make([]<-chan *models.Prompt, 0, len(l.sources))
	for _, src := range l.sources {
		prompts, err := src.Prompts(ctx)
		if err != nil {
			return nil, fmt.Errorf("dispatch: start source %s: %w", src.Name(), err)
		}
		out := make(chan *models.Prompt)
		l.wg.Add(1)
		go func(src sources.Source, in <-chan *models.Prompt, out chan<- *models.Prompt) {
			defer l.wg.Done()
			defer close(out)
			for p := range in {
				l.recordOwner(p.Key, src)
				if l.metrics != nil {
					l.metrics.PromptsReceived.WithLabelValues(src.Name()).Inc()
				}
				select {
				case out <- p:
				case <-ctx.Done():
					return
				}
			}
		}(src, prompts, out)
		stamped = append(stamped, out)
	}
	return stream.Merge(ctx, stamped...), nil
}

func (l *Loop) worker(ctx context.Context) error {
	for {
		unit, err := l.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, turnqueue.ErrClosed) {
				return nil
			}
			return err
		}
		l.gaugeQueueDepth()
		unit(ctx)
	}
}

// deliver routes merged egress updates back to each key's originating
// source. Delivery failures are logged, never fatal.
func (l *Loop) deliver(ctx context.Context, egress <-chan models.Update) {
	for update := range egress {
		src := l.Owner(update.Key)
		if src == nil {
			continue
		}
		if err := src.Deliver(ctx, &update); err != nil {
			l.logger.Warn("update delivery failed",
				"key", update.Key.String(), "source", src.Name(), "error", err)
		}
	}
}

// handlePrompt advances the per-key state machine for one inbound prompt.
// Prompts for one key arrive here serially, in order.
func (l *Loop) handlePrompt(ctx context.Context, prompt *models.Prompt) {
	if prompt.IsControl() {
		l.cancelConversation(prompt.Key)
		return
	}

	conv, err := l.ensureConversation(ctx, prompt)
	if err != nil {
		l.logger.Error("conversation setup failed", "key", prompt.Key.String(), "error", err)
		return
	}

	conv.mu.Lock()
	conv.pending = append(conv.pending, prompt)
	start := !conv.running
	if start {
		conv.running = true
	}
	conv.mu.Unlock()

	if !start {
		return
	}
	if err := l.queue.Enqueue(ctx, l.turnUnit(conv)); err != nil {
		conv.mu.Lock()
		conv.running = false
		conv.mu.Unlock()
		if !errors.Is(err, context.Canceled) {
			l.logger.Error("turn enqueue failed", "key", prompt.Key.String(), "error", err)
		}
		return
	}
	l.gaugeQueueDepth()
}

// ensureConversation resolves the key's scope, creating the backing thread
// and loading durable history on first contact.
func (l *Loop) ensureConversation(ctx context.Context, prompt *models.Prompt) (*conversation, error) {
	key := prompt.Key
	scope, isNew := l.registry.Resolve(key)

	if !isNew {
		l.mu.Lock()
		conv, ok := l.convs[key]
		l.mu.Unlock()
		if ok {
			return conv, nil
		}
	}

	// A clean can race the resolve; a torn scope is useless, take a fresh one.
	if scope.Done() {
		scope, _ = l.registry.Resolve(key)
	}

	src := l.Owner(key)
	if src == nil {
		l.registry.Clean(key)
		return nil, fmt.Errorf("no source owns key %s", key)
	}

	exists, err := src.ThreadExists(ctx, key)
	if err != nil {
		l.registry.Clean(key)
		return nil, fmt.Errorf("thread existence check: %w", err)
	}
	if !exists {
		title := threadTitle(prompt.Text)
		if err := src.CreateThread(ctx, key, title); err != nil {
			l.registry.Clean(key)
			return nil, fmt.Errorf("create thread: %w", err)
		}
		if err := l.store.CreateTopic(ctx, &models.Topic{Key: key, Title: title}); err != nil {
			l.logger.Warn("topic record creation failed", "key", key.String(), "error", err)
		}
		l.notify(models.NotifyTopicChanged, key, nil)
	}

	msgs, err := l.store.Get(ctx, key)
	if err != nil {
		l.registry.Clean(key)
		return nil, fmt.Errorf("load history: %w", err)
	}
	h := history.New()
	for _, m := range msgs {
		h.Append(m)
	}

	conv := &conversation{key: key, scope: scope, source: src, history: h}
	l.mu.Lock()
	l.convs[key] = conv
	l.mu.Unlock()
	if l.metrics != nil {
		l.metrics.ActiveConversations.Inc()
	}

	scope.OnTeardown(func() {
		l.mu.Lock()
		delete(l.convs, key)
		l.mu.Unlock()
		if l.metrics != nil {
			l.metrics.ActiveConversations.Dec()
		}
	})
	return conv, nil
}

// cancelConversation handles a /cancel control prompt: the scope's
// work-in-progress stops, the registration is removed, history stays. The
// next prompt for the same thread starts a fresh scope.
func (l *Loop) cancelConversation(key models.ConversationKey) {
	l.logger.Info("conversation cancelled", "key", key.String())
	l.registry.Clean(key)
	l.notify(models.NotifyStreamEnded, key, nil)
}

func (l *Loop) recordOwner(key models.ConversationKey, src sources.Source) {
	l.mu.Lock()
	l.owners[key] = src
	l.mu.Unlock()
}

// Owner returns the source that produced prompts for key, or nil if the key
// has never been seen.
func (l *Loop) Owner(key models.ConversationKey) sources.Source {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owners[key]
}

func (l *Loop) gaugeQueueDepth() {
	if l.metrics != nil {
		l.metrics.QueueDepth.Set(float64(l.queue.Len()))
	}
}

func threadTitle(text string) string {
	const max = 48
	if len(text) <= max {
		return text
	}
	// Truncate on a rune boundary so a multibyte title never splits.
	runes := []rune(text)
	if len(runes) > max {
		runes = runes[:max]
	}
	return string(runes)
}
