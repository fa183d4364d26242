package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/manthysbr/librarian/internal/adapters/duckdb"
	"github.com/manthysbr/librarian/internal/adapters/providers"
	appconfig "github.com/manthysbr/librarian/internal/config"
	"github.com/manthysbr/librarian/internal/core/domain"
	"github.com/manthysbr/librarian/internal/core/services"
	"github.com/manthysbr/librarian/pkg/kernel"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger.Info("starting librarian kernel")

	if err := run(logger); err != nil {
		logger.Error("kernel startup failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		cancel()
	}()

	dbPath := os.Getenv("LIBRARIAN_DB_PATH")
	if dbPath == "" {
		dbPath = "librarian.db"
	}
	corpusPath := os.Getenv("LIBRARIAN_CORPUS_PATH")
	if corpusPath == "" {
		corpusPath = "./aw-library"
	}
	if info, err := os.Stat(corpusPath); err != nil || !info.IsDir() {
		return fmt.Errorf("corpus path %s is not a directory", corpusPath)
	}

	repo, err := duckdb.NewRepository(dbPath)
	if err != nil {
		return fmt.Errorf("failed to init repository: %w", err)
	}
	defer repo.Close()

	// Initialize encryption for API key storage
	secretKey, err := appconfig.NewSecretKey()
	if err != nil {
		return fmt.Errorf("failed to init secret key: %w", err)
	}

	// Settings store: loads persisted config from DuckDB with encrypted secrets
	settingsStore, err := appconfig.NewSettingsStore(logger, repo, secretKey)
	if err != nil {
		return fmt.Errorf("failed to init settings store: %w", err)
	}

	config := settingsStore.GetConfig()

	chatModel, err := providers.Build(config)
	if err != nil {
		return fmt.Errorf("failed to build chat model from config: %w", err)
	}

	registry, err := services.NewCorpusRegistry(corpusPath)
	if err != nil {
		return fmt.Errorf("failed to build corpus tools: %w", err)
	}

	eventBus := services.NewEventBus(logger)
	matcher := services.NewMatcher(chatModel, registry, corpusPath, config.Loop, logger, eventBus)
	runner := services.NewRunner(matcher, repo, corpusPath, config.Loop.MaxConcurrentSteps, logger)

	// One-shot mode: match a single intent document from disk and exit.
	if inputPath := os.Getenv("LIBRARIAN_INPUT"); inputPath != "" {
		return runOnce(ctx, logger, runner, inputPath, os.Getenv("LIBRARIAN_OUTPUT"))
	}

	apiServer := kernel.NewServer(logger, runner, eventBus, settingsStore, registry, repo)

	addr := os.Getenv("LIBRARIAN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	// CORS Configuration
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:5174"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	httpServer := &http.Server{
		Addr:    addr,
		Handler: c.Handler(apiServer.Handler()),
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting api server", "addr", addr, "corpus", corpusPath, "model", chatModel.ModelID())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// runOnce matches one intent document from a file and writes the run to
// outputPath (or stdout when empty).
func runOnce(ctx context.Context, logger *slog.Logger, runner *services.Runner, inputPath, outputPath string) error {
	raw, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("read intent document: %w", err)
	}
	var doc domain.IntentDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse intent document: %w", err)
	}

	run, err := runner.Run(ctx, doc)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}
	if outputPath == "" {
		fmt.Println(string(out))
		return nil
	}
	if err := os.WriteFile(outputPath, append(out, '\n'), 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	logger.Info("run written", "run_id", run.ID, "output", outputPath)
	return nil
}
