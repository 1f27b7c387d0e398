// Command voxloop is the main entry point for the Voxloop voice agent
// server. It serves the Twilio voice webhook and media-stream websocket,
// a browser audio websocket, and health and metrics endpoints. With -cli
// it runs a single text session on stdin instead, which is handy for
// exercising agents without a phone.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/voxloop/voxloop/internal/agent"
	"github.com/voxloop/voxloop/internal/bridge"
	"github.com/voxloop/voxloop/internal/callctx"
	"github.com/voxloop/voxloop/internal/config"
	"github.com/voxloop/voxloop/internal/health"
	"github.com/voxloop/voxloop/internal/httpapi"
	"github.com/voxloop/voxloop/internal/observe"
	"github.com/voxloop/voxloop/internal/observer"
	"github.com/voxloop/voxloop/internal/orchestrator"
	"github.com/voxloop/voxloop/internal/prompt"
	"github.com/voxloop/voxloop/internal/store"
	"github.com/voxloop/voxloop/internal/voiceio"
	"github.com/voxloop/voxloop/pkg/live/gemini"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	promptsDir := flag.String("prompts", "", "prompt directory override (defaults to prompts.dir from the config)")
	cliMode := flag.Bool("cli", false, "run a single text session on stdin instead of the server")
	flag.Parse()

	// Secrets such as GOOGLE_API_KEY and DATABASE_URL may live in a .env
	// file during development. A missing file is fine.
	_ = godotenv.Load()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxloop: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxloop: %v\n", err)
		}
		return 1
	}
	if *promptsDir != "" {
		cfg.Prompts.Dir = *promptsDir
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxloop starting",
		"config", *configPath,
		"environment", cfg.App.Environment,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.App.Name,
		ServiceVersion: cfg.App.Version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Database ──────────────────────────────────────────────────────────────
	pool, err := pgxpool.New(ctx, cfg.Database.PostgresDSN)
	if err != nil {
		slog.Error("failed to create database pool", "err", err)
		return 1
	}
	defer pool.Close()

	st := store.New(pool)
	if err := st.Migrate(ctx); err != nil {
		slog.Error("database migration failed", "err", err)
		return 1
	}
	slog.Info("database ready")

	// ── Agents ────────────────────────────────────────────────────────────────
	prompts := prompt.NewLoader(cfg.Prompts.Dir, agent.DefaultPrompts())
	router := agent.NewRouter(prompts)
	identity := agent.NewIdentity(prompts, st)
	tasks := agent.NewTaskManager(prompts, st)

	if *cliMode {
		return runCLI(ctx, cfg, router, identity, tasks)
	}
	return runServer(ctx, cfg, st, router, identity, tasks)
}

// ── Server mode ───────────────────────────────────────────────────────────────

func runServer(ctx context.Context, cfg *config.Config, st *store.Store, agents ...agent.Agent) int {
	var opts []gemini.Option
	if cfg.LLM.Model != "" {
		opts = append(opts, gemini.WithModel(cfg.LLM.Model))
	}
	if cfg.LLM.Voice != "" {
		opts = append(opts, gemini.WithVoice(cfg.LLM.Voice))
	}
	if cfg.LLM.BaseURL != "" {
		opts = append(opts, gemini.WithBaseURL(cfg.LLM.BaseURL))
	}
	provider := gemini.New(cfg.LLM.APIKey, opts...)

	br := bridge.New(bridge.Config{
		Provider:          provider,
		Store:             st,
		Metrics:           observe.DefaultMetrics(),
		AppName:           cfg.App.Name,
		Version:           cfg.App.Version,
		Environment:       string(cfg.App.Environment),
		InactivityTimeout: cfg.Voice.InactivityTimeout.Std(),
		SentimentEnabled:  cfg.Voice.SentimentEnabled,
		Hotwords:          hotwordMap(cfg),
	})
	br.Register(agents...)

	api := httpapi.New(httpapi.Config{
		AppName:    cfg.App.Name,
		Version:    cfg.App.Version,
		PublicHost: cfg.Server.PublicHost,
		Bridge:     br,
		Health:     health.New(health.DatabaseChecker(st)),
		WebSession: func(ctx context.Context, h voiceio.Handler, sessionID string) error {
			return runWebSession(ctx, cfg, h, sessionID, agents)
		},
	})

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server ready", "listen_addr", cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// runWebSession drives one browser call over the JSON websocket protocol
// using the deterministic orchestrator loop.
func runWebSession(ctx context.Context, cfg *config.Config, h voiceio.Handler, sessionID string, agents []agent.Agent) error {
	sess := callctx.NewSession(sessionID, callctx.PlatformWeb)
	global := callctx.NewGlobal(cfg.App.Name, cfg.App.Version, string(cfg.App.Environment), sess)

	obs := observer.New(observerOptions(cfg)...)
	tracker := observe.NewCallTracker(sessionID, observe.DefaultMetrics())

	orch := orchestrator.New(global, h, obs, tracker)
	orch.Register(agents...)
	return orch.Run(ctx)
}

// ── CLI mode ──────────────────────────────────────────────────────────────────

func runCLI(ctx context.Context, cfg *config.Config, agents ...agent.Agent) int {
	sessionID := uuid.NewString()
	sess := callctx.NewSession(sessionID, callctx.PlatformCLI)
	global := callctx.NewGlobal(cfg.App.Name, cfg.App.Version, string(cfg.App.Environment), sess)

	h := voiceio.NewCLIHandler(sessionID, os.Stdin, os.Stdout)
	defer h.Close()

	obs := observer.New(observerOptions(cfg)...)
	tracker := observe.NewCallTracker(sessionID, observe.DefaultMetrics())

	orch := orchestrator.New(global, h, obs, tracker)
	orch.Register(agents...)

	fmt.Println("voxloop text session (type 'quit' to exit)")
	if err := orch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("session error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// hotwordMap converts the configured hotword list into an observer table.
// Configured words route to human intervention; nil keeps the built-in
// defaults, including the return-to-router words.
func hotwordMap(cfg *config.Config) map[string]string {
	if len(cfg.Voice.Hotwords) == 0 {
		return nil
	}
	hw := make(map[string]string, len(cfg.Voice.Hotwords))
	for _, w := range cfg.Voice.Hotwords {
		hw[w] = observer.TargetHumanIntervention
	}
	return hw
}

// observerOptions maps the voice config onto observer options for the
// CLI and web session paths.
func observerOptions(cfg *config.Config) []observer.Option {
	opts := []observer.Option{
		observer.WithSentiment(cfg.Voice.SentimentEnabled),
		observer.WithInactivityTimeout(cfg.Voice.InactivityTimeout.Std()),
	}
	if hw := hotwordMap(cfg); hw != nil {
		opts = append(opts, observer.WithHotwords(hw))
	}
	return opts
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
