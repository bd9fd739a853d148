// Command outie runs the orchestrator: trigger intake, memory store,
// scheduler, MCP tool service and the session coordinator.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/outie/internal/codingtask"
	"github.com/haasonsaas/outie/internal/config"
	"github.com/haasonsaas/outie/internal/coordinator"
	"github.com/haasonsaas/outie/internal/engine"
	"github.com/haasonsaas/outie/internal/githubapp"
	"github.com/haasonsaas/outie/internal/intake"
	"github.com/haasonsaas/outie/internal/mcp"
	"github.com/haasonsaas/outie/internal/memory"
	"github.com/haasonsaas/outie/internal/memory/embeddings"
	embopenai "github.com/haasonsaas/outie/internal/memory/embeddings/openai"
	"github.com/haasonsaas/outie/internal/observability"
	"github.com/haasonsaas/outie/internal/outbound"
	"github.com/haasonsaas/outie/internal/prompt"
	"github.com/haasonsaas/outie/internal/sandbox"
	"github.com/haasonsaas/outie/internal/scheduler"
	"github.com/haasonsaas/outie/internal/storage"
	"github.com/haasonsaas/outie/internal/tools"
	"github.com/haasonsaas/outie/internal/tools/coding"
	"github.com/haasonsaas/outie/internal/tools/memorytools"
	"github.com/haasonsaas/outie/internal/tools/message"
	"github.com/haasonsaas/outie/internal/tools/reminders"
	"github.com/haasonsaas/outie/internal/tools/summary"
	"github.com/haasonsaas/outie/internal/tools/websearch"
	"github.com/haasonsaas/outie/pkg/models"
)

func main() {
	root := &cobra.Command{
		Use:   "outie",
		Short: "Single-tenant AI agent orchestrator",
	}
	root.AddCommand(newServeCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "outie.yaml", "path to config file")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	metrics := observability.NewMetrics()

	provider, err := embopenai.New(embopenai.Config{
		APIKey:  cfg.Embeddings.APIKey,
		BaseURL: cfg.Embeddings.BaseURL,
		Model:   cfg.Embeddings.Model,
	})
	if err != nil {
		return fmt.Errorf("embedding provider: %w", err)
	}
	embedder := embeddings.New(provider)

	store, err := storage.Open(storage.Config{
		Path:      cfg.Store.Path,
		Dimension: embedder.Dimension(),
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	sink, err := outbound.NewTelegramSink(cfg.Telegram.BotToken, cfg.Telegram.OwnerChatID, logger)
	if err != nil {
		return fmt.Errorf("telegram sink: %w", err)
	}

	searcher := memory.NewSearcher(store, embedder)
	prompts := prompt.NewBuilder(store, nil)
	allowlist := websearch.NewAllowlist()
	eng := engine.NewClient(engine.Config{
		BaseURL:       cfg.Engine.BaseURL,
		Model:         cfg.Engine.Model,
		PromptTimeout: cfg.Engine.PromptTimeout,
	})
	sb := sandbox.NewHTTPSandbox(cfg.Sandbox.BaseURL)

	registry := tools.NewRegistry(logger, metrics)
	service := mcp.NewService(registry, logger)
	uplink := mcp.NewUplink(service, logger)

	coord := coordinator.New(coordinator.Config{
		Store:     store,
		Prompts:   prompts,
		Engine:    eng,
		Sandbox:   sb,
		Uplink:    uplink,
		Sink:      sink,
		Allowlist: allowlist,
		Logger:    logger,
		Metrics:   metrics,
		WSPort:    cfg.Sandbox.WSPort,
		Secrets: map[string]string{
			"ANTHROPIC_API_KEY": cfg.Engine.APIKey,
		},
	})

	sched := scheduler.New(store, coord, logger, scheduler.WithMetrics(metrics))

	// Memory tools
	registry.Register(memorytools.NewJournalWriteTool(store, embedder, logger))
	registry.Register(memorytools.NewJournalSearchTool(searcher))
	registry.Register(memorytools.NewTopicWriteTool(store, embedder, logger))
	registry.Register(memorytools.NewTopicGetTool(store))
	registry.Register(memorytools.NewTopicListTool(store))
	registry.Register(memorytools.NewTopicSearchTool(searcher))
	registry.Register(memorytools.NewStateReadTool(store))
	registry.Register(memorytools.NewStateWriteTool(store))

	// Scheduling tools
	registry.Register(reminders.NewScheduleRecurringTool(store, sched))
	registry.Register(reminders.NewScheduleOnceTool(store, sched, nil))
	registry.Register(reminders.NewCancelTool(store, sched))
	registry.Register(reminders.NewListTool(store))

	// Communication and conversation window
	registry.Register(message.NewSendTelegramTool(sink))
	registry.Register(summary.NewSaveTool(store))
	registry.Register(summary.NewRecentTool(store))

	// Web tools (only when a search key is configured)
	if cfg.Search.APIKey != "" {
		searchClient := websearch.NewClient(websearch.Config{
			APIKey:  cfg.Search.APIKey,
			BaseURL: cfg.Search.BaseURL,
		})
		registry.Register(websearch.NewWebSearchTool(searchClient, allowlist))
		registry.Register(websearch.NewNewsSearchTool(searchClient, allowlist))
		registry.Register(websearch.NewFetchPageTool(websearch.NewHTTPFetcher(cfg.Search.RenderURL), allowlist))
	}

	// Coding delegation (only when GitHub App credentials exist)
	if cfg.GitHub.ClientID != "" {
		minter, err := githubapp.NewMinter(githubapp.Config{
			ClientID:       cfg.GitHub.ClientID,
			PrivateKeyPath: cfg.GitHub.PrivateKeyPath,
			InstallationID: cfg.GitHub.InstallationID,
		})
		if err != nil {
			return fmt.Errorf("github app: %w", err)
		}
		classifier := codingtask.NewAnthropicClassifier(cfg.Engine.APIKey, cfg.Engine.FastModel)
		orchestrator := codingtask.New(store, eng, sb, minter, classifier, logger)
		registry.Register(coding.NewRunTaskTool(orchestrator))
	}

	webhook := intake.New(intake.Config{
		Secret:         cfg.Telegram.WebhookSecret,
		AllowedUserIDs: cfg.Telegram.AllowedUserIDs,
		Handler:        coord,
		Store:          store,
		Sink:           sink,
		Logger:         logger,
	})

	mux := http.NewServeMux()
	mux.Handle("/webhook", webhook)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))

	listen := cfg.Telegram.WebhookListen
	if listen == "" {
		listen = ":8080"
	}
	server := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Info(ctx, "webhook server listening", "addr", listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "webhook server failed", "error", err)
		}
	}()

	if err := sched.Reschedule(ctx); err != nil {
		logger.Error(ctx, "initial reschedule failed", "error", err)
	}

	if cfg.Ambient.Interval > 0 {
		go runAmbientTicker(ctx, cfg.Ambient.Interval, coord)
	}

	logger.Info(ctx, "orchestrator running")
	coord.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)
	sched.Stop()
	uplink.Close()
	return nil
}

func runAmbientTicker(ctx context.Context, interval time.Duration, coord *coordinator.Coordinator) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			coord.Handle(&models.Trigger{
				Type:      models.TriggerAmbient,
				Timestamp: models.Now(),
			})
		}
	}
}
