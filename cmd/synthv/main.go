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
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"synthv/internal/api"
	"synthv/pkg/artifact"
	"synthv/pkg/config"
	"synthv/pkg/credential"
	"synthv/pkg/db"
	"synthv/pkg/generation"
	"synthv/pkg/llm"
	"synthv/pkg/llm/gemini"
	"synthv/pkg/llm/prompts"
	"synthv/pkg/logging"
	"synthv/pkg/probe"
	"synthv/pkg/request"
	"synthv/pkg/storyboard"
	"synthv/pkg/store"
	"synthv/pkg/telemetry"
	"synthv/pkg/tracker"
	"synthv/pkg/version"
)

const defaultConfigPath = "configs/synthv.yaml"

var (
	configPath = flag.String("config", defaultConfigPath, "Path to the config file")
	initConfig = flag.Bool("init-config", false, "Generate default config file and exit")
)

func main() {
	flag.Parse()

	if *initConfig {
		if err := config.GenerateDefault(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Config file generated: %s\n", *configPath)
		return
	}

	// A missing .env is fine; the key may come from the real environment or the UI.
	_ = godotenv.Load()

	if err := run(context.Background(), *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL ERROR: Application failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	appCfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cleanupLogs, err := logging.Init(&appCfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer cleanupLogs()

	slog.Info("synthv started", "version", version.Version)

	shutdownTracer, err := telemetry.InitTracer(appCfg.Telemetry, os.Stdout)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdownTracer(sctx); err != nil {
			slog.Warn("Tracer shutdown failed", "error", err)
		}
	}()

	dbConn, st, err := initDB(appCfg)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	prov := config.NewProvider(appCfg, st)
	fallback := credential.EnvSource{Keys: appCfg.Gemini.EnvKeys}
	tr := tracker.New()
	dial := gemini.NewDialer(appCfg.Gemini, appCfg.Log.Prompts.Path, tr)

	results := probe.Run(ctx, []probe.Probe{
		probe.WritableDir("Data directory", filepath.Dir(appCfg.DB.Path)),
		probe.Credential(prov.RememberedAPIKey(ctx), fallback),
		probe.Provider(dial, credential.Resolve(prov.RememberedAPIKey(ctx), fallback)),
	})
	if err := probe.AnalyzeResults(results); err != nil {
		return fmt.Errorf("startup checks failed: %w", err)
	}

	svcs, err := initServices(appCfg, prov, dial, fallback, tr)
	if err != nil {
		return err
	}

	return runServer(ctx, appCfg, svcs, prov, st, fallback, tr)
}

func initDB(appCfg *config.Config) (*db.DB, store.Store, error) {
	dbConn, err := db.Init(appCfg.DB.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return dbConn, store.NewSQLiteStore(dbConn), nil
}

// Services holds the generation components shared by every session.
type Services struct {
	Registry  *artifact.Registry
	Jobs      *generation.Orchestrator
	Batches   *generation.Coordinator
	Assistant *storyboard.Assistant
}

func initServices(cfg *config.Config, prov config.Provider, dial llm.Dialer, fallback credential.Source, tr *tracker.Tracker) (*Services, error) {
	catalog, err := config.LoadCatalog(cfg.Storyboard.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	promptMgr, err := prompts.NewManager(cfg.Storyboard.PromptsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize prompt manager: %w", err)
	}

	reg := artifact.NewRegistry()
	jobs := &generation.Orchestrator{
		Dial:     dial,
		Fetcher:  &generation.Fetcher{Client: request.New(tr, cfg.Request.Timeout.Std()), Registry: reg},
		Registry: reg,
		Poller:   generation.NewPoller(cfg.Poll),
		Fallback: fallback,
		Settings: prov,
	}

	return &Services{
		Registry: reg,
		Jobs:     jobs,
		Batches:  &generation.Coordinator{Jobs: jobs},
		Assistant: &storyboard.Assistant{
			Dial:     dial,
			Fallback: fallback,
			Prompts:  promptMgr,
			Catalog:  catalog,
			Config:   cfg.Storyboard,
		},
	}, nil
}

func runServer(ctx context.Context, cfg *config.Config, svcs *Services, prov config.Provider, st store.Store, fallback credential.Source, tr *tracker.Tracker) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	shutdownFunc := func() { quit <- syscall.SIGTERM }

	sessions := api.NewSessions(cfg.Session.TTL.Std(), svcs.Registry, prov)
	defer sessions.Close()
	go sweepSessions(ctx, sessions, time.Minute)

	srv := api.NewServer(cfg.Server.Address, cfg.Server.StaticDir, api.Handlers{
		Sessions:   api.NewSessionHandler(sessions, st, fallback),
		Generation: api.NewGenerationHandler(ctx, sessions, svcs.Jobs, svcs.Batches, int64(cfg.Reference.MaxSize)),
		Storyboard: api.NewStoryboardHandler(ctx, sessions, svcs.Assistant, svcs.Batches),
		Events:     api.NewEventsHandler(sessions),
		Artifacts:  api.NewArtifactHandler(svcs.Registry),
		Config:     api.NewConfigHandler(st, prov),
		Stats:      api.NewStatsHandler(tr, sessions, svcs.Registry),
	}, shutdownFunc)

	srv.Handler = loggingMiddleware(srv.Handler)
	return runServerLifecycle(ctx, srv, quit)
}

// sweepSessions evicts idle sessions so their artifacts are released even when no requests arrive.
func sweepSessions(ctx context.Context, sessions *api.Sessions, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			sessions.Cleanup()
		}
	}
}

func runServerLifecycle(ctx context.Context, srv *http.Server, quit chan os.Signal) error {
	slog.Info("Starting server", "addr", srv.Addr)
	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()
	select {
	case <-quit:
		slog.Info("Shutting down server...")
	case <-ctx.Done():
		slog.Info("Context cancelled, shutting down...")
	case err := <-serverErrors:
		return fmt.Errorf("server failed: %w", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("Request Processed", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
