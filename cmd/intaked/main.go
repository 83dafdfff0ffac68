package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"

	"github.com/tbxark/intakeagent/archive"
	"github.com/tbxark/intakeagent/config"
	"github.com/tbxark/intakeagent/dialogue"
	"github.com/tbxark/intakeagent/extract"
	"github.com/tbxark/intakeagent/server"
	"github.com/tbxark/intakeagent/session"
	"github.com/tbxark/intakeagent/simcache"
)

func main() {
	if err := run(context.Background()); err != nil {
		log.Fatalf("intaked: %v", err)
	}
}

func run(ctx context.Context) error {
	slog.SetLogLoggerLevel(slog.LevelInfo)
	cfg := config.Load()

	prompts, err := dialogue.LoadPromptConfig(cfg.PromptFile)
	if err != nil {
		return err
	}

	chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		BaseURL: cfg.BaseURL,
	})
	if err != nil {
		return err
	}

	extractor, err := extract.NewToolBasedExtractor(ctx, chatModel)
	if err != nil {
		return err
	}
	generator, err := dialogue.NewToolBasedGenerator(ctx, chatModel, prompts)
	if err != nil {
		return err
	}

	embedder := simcache.NewOpenAIEmbedder(cfg.APIKey, cfg.BaseURL, cfg.EmbedModel)
	cache := simcache.New(embedder, simcache.NewMemoryIndex(), cfg.CacheRadius)

	store, err := session.NewStore(session.Config{
		Extractor:       extractor,
		Generator:       generator,
		Cache:           cache,
		Archiver:        archive.NewFileArchiver(cfg.ArchiveDir),
		Prompts:         prompts,
		Threshold:       cfg.Threshold,
		GenerateTimeout: cfg.GenerateTimeout,
		HistoryWindow:   cfg.HistoryWindow,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.IdleTimeout > 0 {
		go sweepIdle(ctx, store, cfg.IdleTimeout)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.New(store, cfg.AllowedOrigin).Router(),
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("intaked listening", "addr", srv.Addr, "model", cfg.Model, "embed_model", cfg.EmbedModel)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func sweepIdle(ctx context.Context, store *session.Store, maxIdle time.Duration) {
	ticker := time.NewTicker(maxIdle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			store.CloseIdle(maxIdle)
		}
	}
}
