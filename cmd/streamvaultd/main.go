// Package main implements the entry point for the streaming service.
// It initializes all components and starts the HTTP server.
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

	"github.com/DCspare/StreamVault/internal/config"
	"github.com/DCspare/StreamVault/internal/event"
	"github.com/DCspare/StreamVault/internal/ingest"
	"github.com/DCspare/StreamVault/internal/media"
	"github.com/DCspare/StreamVault/internal/metrics"
	"github.com/DCspare/StreamVault/internal/secret"
	"github.com/DCspare/StreamVault/internal/server"
	"github.com/DCspare/StreamVault/internal/storage"
	"github.com/DCspare/StreamVault/internal/stream"
	"github.com/DCspare/StreamVault/internal/telegram/botclient"
	"github.com/DCspare/StreamVault/internal/telegram/sessionpool"
	"github.com/DCspare/StreamVault/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if cfg.Env == "dev" {
		logLevel = slog.LevelDebug
	}
	baseHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(secret.NewMaskingHandler(baseHandler))
	slog.SetDefault(logger)

	_, err = telemetry.InitTracer(cfg.OTelServiceName)
	if err != nil {
		logger.Error("failed to initialize OpenTelemetry tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.ShutdownTracer(ctx)
	}()

	var store storage.Store
	if cfg.DatabaseDSN != "" {
		store, err = storage.NewPostgres(context.Background(), cfg.DatabaseDSN)
		if err != nil {
			logger.Error("failed to initialize postgres storage", "error", err)
			os.Exit(1)
		}
	} else {
		store = storage.NewMemory()
	}

	pub := event.NewPublisher(cfg.NATSURL)
	defer pub.Close()

	botCfg := botclient.Config{
		BotToken:         cfg.TGBotToken,
		ProxyURL:         cfg.ProxyURL,
		BlobFetchTimeout: time.Duration(cfg.BlobFetchTimeoutSeconds) * time.Second,
		Logger:           logger,
		SessionFilePath:  cfg.SessionFilePath,
	}
	client, err := botclient.New(botCfg)
	if err != nil {
		logger.Error("failed to construct telegram client", "error", err)
		os.Exit(1)
	}
	if err := client.Start(context.Background()); err != nil {
		logger.Error("failed to start telegram client", "error", err)
		os.Exit(1)
	}
	if err := client.VerifyChannelAccess(context.Background(), cfg.ArchiveChannelID); err != nil {
		logger.Error("archive channel presence check failed", "channel_id", cfg.ArchiveChannelID, "error", err)
		os.Exit(1)
	}

	pool := sessionpool.New(client)
	engine := stream.New(client, pool, metrics.NewMetrics(), logger)

	var thumbnails ingest.ThumbnailUploader
	if cfg.S3Bucket != "" {
		s3Client, err := media.NewS3Client(cfg.S3Endpoint, cfg.S3Region, cfg.S3Bucket, cfg.S3AccessKey, cfg.S3SecretKey)
		if err != nil {
			logger.Warn("failed to initialize S3 client, thumbnails disabled", "error", err)
		} else {
			thumbnails = ingest.NewThumbnailUploader(s3Client)
		}
	}

	// fetcher is nil: the yt-dlp-backed external-URL fetcher is an
	// external-binary collaborator, out of this module's scope (see
	// ingest.YtDLPFetcher's doc comment). External-URL ingest is
	// disabled until a concrete fetcher is wired in.
	indexer := ingest.New(client, store, pub, nil, thumbnails, ingest.Config{
		ArchiveChannelID: cfg.ArchiveChannelID,
		MaxFileSizeMB:    cfg.MaxFileSizeMB,
		MaxDurationHours: cfg.MaxDurationHours,
		Logger:           logger,
	})

	dispatchCtx, cancelDispatch := context.WithCancel(context.Background())
	defer cancelDispatch()
	dispatcher := ingest.NewDispatcher(indexer, client, logger)
	updates, err := client.Listen(dispatchCtx)
	if err != nil {
		logger.Error("failed to start telegram update listener", "error", err)
		os.Exit(1)
	}
	go func() {
		for update := range updates {
			msg := ingest.IncomingMessage{
				UserID: update.UserID,
				ChatID: update.ChatID,
				MsgID:  update.MsgID,
				Text:   update.Text,
			}
			if update.Document != nil {
				msg.Document = &ingest.IncomingDocument{
					FileID:    update.Document.FileID,
					SizeBytes: update.Document.SizeBytes,
					MimeType:  update.Document.MimeType,
					FileName:  update.Document.FileName,
				}
			}
			dispatcher.Handle(dispatchCtx, msg)
		}
	}()

	mux := server.New(store, engine, client, cfg.PublicBaseURL, cfg.CORSAllowedOrigins, logger)

	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
		// WriteTimeout is intentionally left unset: a streamed response
		// can legitimately run far longer than any fixed timeout, and
		// net/http does not let a handler reset it mid-flight.
	}

	go func() {
		logger.Info("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
		os.Exit(1)
	}

	if closer, ok := store.(interface{ Close() }); ok {
		closer.Close()
	}

	logger.Info("server exited")
}
