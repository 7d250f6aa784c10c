package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/querywright/querywright/internal/api"
	"github.com/querywright/querywright/internal/auth"
	"github.com/querywright/querywright/internal/config"
	"github.com/querywright/querywright/internal/db"
	"github.com/querywright/querywright/internal/executor"
	"github.com/querywright/querywright/internal/knowledge"
	"github.com/querywright/querywright/internal/llm"
	"github.com/querywright/querywright/internal/observability"
	"github.com/querywright/querywright/internal/schema"
	"github.com/querywright/querywright/internal/writer"
)

func main() {
	cfg, err := config.LoadFromEnv("querywright-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	target, err := db.Open(context.Background(), db.Config{
		Driver:   cfg.Target.Driver,
		Path:     cfg.Target.Path,
		ReadOnly: cfg.Target.ReadOnly,
	})
	if err != nil {
		logger.Error("failed to open target database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = target.Close() }()

	catalog := schema.NewCatalog()
	if err := catalog.Load(context.Background(), target.DB, target.Dialect); err != nil {
		logger.Error("failed to load schema", slog.Any("error", err))
		os.Exit(1)
	}

	client, err := llm.NewOpenAIClient(llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	})
	if err != nil {
		logger.Error("failed to initialize llm client", slog.Any("error", err))
		os.Exit(1)
	}

	exec := executor.New(target.DB)

	var base *knowledge.Base
	var store *knowledge.Store
	if cfg.Knowledge.Enabled {
		store, err = knowledge.OpenStore(cfg.Knowledge.Path)
		if err != nil {
			logger.Error("failed to open knowledge store", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = store.Close() }()
		base = knowledge.NewBase(store, client, cfg.LLM.EmbedModel)
	}

	writerCfg := writer.Config{
		Chat:            client,
		Model:           cfg.LLM.Model,
		Dialect:         target.Dialect,
		Catalog:         catalog,
		Validator:       exec,
		Logger:          logger,
		MaxAttempts:     cfg.Writer.MaxAttempts,
		ContextExamples: cfg.Writer.ContextExamples,
	}
	if base != nil {
		writerCfg.Knowledge = base
	}
	queryWriter, err := writer.New(writerCfg)
	if err != nil {
		logger.Error("failed to initialize query writer", slog.Any("error", err))
		os.Exit(1)
	}

	deps := api.Dependencies{
		Logger:   logger,
		Writer:   queryWriter,
		Executor: exec,
		Catalog:  catalog,
		Readiness: api.CombineReadinessChecks(
			api.CheckTargetConfig(cfg),
			api.CheckLLMConfig(cfg),
			api.CheckDatabase(target.DB.PingContext),
		),
		DependencyTimeout: time.Second,
	}
	if store != nil {
		deps.Knowledge = store
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
