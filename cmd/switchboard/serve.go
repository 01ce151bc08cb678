package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/switchboard/internal/agent"
	"github.com/haasonsaas/switchboard/internal/approval"
	"github.com/haasonsaas/switchboard/internal/config"
	"github.com/haasonsaas/switchboard/internal/dispatch"
	"github.com/haasonsaas/switchboard/internal/history"
	"github.com/haasonsaas/switchboard/internal/llm"
	"github.com/haasonsaas/switchboard/internal/observability"
	"github.com/haasonsaas/switchboard/internal/registry"
	"github.com/haasonsaas/switchboard/internal/sources"
	"github.com/haasonsaas/switchboard/internal/turnqueue"
	"github.com/haasonsaas/switchboard/pkg/models"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dispatch runtime",
		Long: `Start the dispatch runtime with all configured sources.

Prompts from each source are grouped per conversation, run through the
model/tool agent under bounded concurrency, and streamed back to the
originating surface. Graceful shutdown on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg = config.Default()
		err = cfg.Validate()
	}
	if err != nil {
		return err
	}

	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Logging.Format,
	})
	slog.SetDefault(logger)

	metrics := observability.NewMetrics(nil)

	store, closeStore, err := buildStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	chain, err := buildChain(cfg, logger)
	if err != nil {
		return err
	}
	chain.OnSwitch = func(from, to string) { metrics.FallbackSwitches.Inc() }

	gateway := approval.NewGateway(cfg.Approval.Whitelist, &loggingApprovalHandler{logger: logger, metrics: metrics})

	resolver := agent.ResolverFunc(func(ctx context.Context, key models.ConversationKey) (*agent.Agent, error) {
		return agent.New(agent.Options{
			Provider:     chain,
			Gateway:      gateway,
			SystemPrompt: cfg.Agent.SystemPrompt,
			MaxTokens:    cfg.LLM.MaxTokens,
			Logger:       logger,
		})
	})

	srcs, err := buildSources(cfg, logger)
	if err != nil {
		return err
	}

	reg := registry.New(ctx)
	queue := turnqueue.New(cfg.Dispatch.QueueCapacity)

	loop, err := dispatch.New(dispatch.Options{
		Sources:  srcs,
		Resolver: resolver,
		Registry: reg,
		Queue:    queue,
		Store:    store,
		Workers:  cfg.Dispatch.Workers,
		Logger:   logger,
		Metrics:  metrics,
	})
	if err != nil {
		return err
	}
	sweeper := dispatch.NewSweeper(reg, loop.Owner, cfg.Dispatch.SweepInterval.Std(), logger, metrics)
	gateway.SetResolvedHandler(func(key models.ConversationKey, decision approval.Decision) {
		metrics.ApprovalsRequested.WithLabelValues(string(decision)).Inc()
		loop.ApprovalResolved(key)
	})

	logger.Info("switchboard starting",
		"agent", cfg.Agent.ID,
		"primary_model", cfg.LLM.Primary,
		"queue_capacity", cfg.Dispatch.QueueCapacity,
		"workers", cfg.Dispatch.Workers)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(ctx) })
	g.Go(func() error { return sweeper.Run(ctx) })
	if cfg.Metrics.Enabled {
		g.Go(func() error { return serveMetrics(ctx, cfg.Metrics.Addr, logger) })
	}
	if sqlite, ok := store.(*history.SQLiteStore); ok {
		g.Go(func() error { return pruneLoop(ctx, sqlite, logger) })
	}
	g.Go(func() error {
		<-ctx.Done()
		reg.Shutdown()
		queue.Close()
		return nil
	})

	err = g.Wait()
	logger.Info("switchboard stopped")
	return err
}

func buildStore(cfg *config.Config) (history.Store, func(), error) {
	if cfg.Storage.Path == "" {
		return history.NewMemoryStore(), func() {}, nil
	}
	store, err := history.NewSQLiteStore(cfg.Storage.Path, history.DefaultExpiry)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return store, func() { _ = store.Close() }, nil
}

func buildChain(cfg *config.Config, logger *slog.Logger) (*llm.Chain, error) {
	refs := append([]string{cfg.LLM.Primary}, cfg.LLM.Fallbacks...)
	clients := make([]llm.Provider, 0, len(refs))
	for _, ref := range refs {
		client, err := buildProvider(cfg, ref)
		if err != nil {
			return nil, err
		}
		clients = append(clients, client)
	}
	return llm.NewChain(logger, clients[0], clients[1:]...), nil
}

func buildProvider(cfg *config.Config, ref string) (llm.Provider, error) {
	provider, model, err := config.SplitModelRef(ref)
	if err != nil {
		return nil, err
	}
	switch provider {
	case "anthropic":
		return llm.NewAnthropicClient(llm.AnthropicConfig{
			APIKey:       cfg.LLM.AnthropicAPIKey,
			DefaultModel: model,
		})
	case "openai":
		return llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:       cfg.LLM.OpenAIAPIKey,
			DefaultModel: model,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q in model ref %q", provider, ref)
	}
}

func buildSources(cfg *config.Config, logger *slog.Logger) ([]sources.Source, error) {
	var srcs []sources.Source
	if cfg.Telegram.Enabled {
		tg, err := sources.NewTelegram(sources.TelegramConfig{
			Token:   cfg.Telegram.BotToken,
			AgentID: cfg.Agent.ID,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		srcs = append(srcs, tg)
	}
	if len(srcs) == 0 {
		srcs = append(srcs, sources.NewConsole(cfg.Agent.ID, os.Stdin, os.Stdout))
	}
	return srcs, nil
}

// pruneLoop drops expired history rows once a day so the database does not
// grow without bound. Get already filters expired entries on read; this is
// the background compaction behind it.
func pruneLoop(ctx context.Context, store *history.SQLiteStore, logger *slog.Logger) error {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pruned, err := store.PruneExpired(ctx)
			if err != nil {
				logger.Warn("history prune failed", "error", err)
				continue
			}
			if pruned > 0 {
				logger.Info("pruned expired history", "rows", pruned)
			}
		}
	}
}

func serveMetrics(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint listening", "addr", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// loggingApprovalHandler is the default approval collaborator when no
// interactive surface is wired: non-whitelisted tool calls are rejected and
// logged, so nothing runs without an explicit whitelist entry.
type loggingApprovalHandler struct {
	logger  *slog.Logger
	metrics *observability.Metrics
}

func (h *loggingApprovalHandler) RequestApproval(ctx context.Context, req *approval.Request) (approval.Decision, error) {
	names := make([]string, len(req.Calls))
	for i, call := range req.Calls {
		names[i] = call.Name
	}
	h.logger.Warn("tool calls rejected: no approval surface configured", "tools", names)
	return approval.DecisionRejected, nil
}

func (h *loggingApprovalHandler) NotifyAutoApproved(req *approval.Request) {
	names := make([]string, len(req.Calls))
	for i, call := range req.Calls {
		names[i] = call.Name
	}
	h.logger.Debug("tool calls auto-approved", "tools", names)
	h.metrics.AutoApprovals.Inc()
}
