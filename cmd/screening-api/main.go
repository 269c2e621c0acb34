package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/careforge/trialscreen/internal/config"
	"github.com/careforge/trialscreen/internal/httpapi"
	"github.com/careforge/trialscreen/internal/retrieval"
	"github.com/careforge/trialscreen/internal/screening"
	"github.com/careforge/trialscreen/internal/trialstore"
)

func main() {
	log := logrus.New()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	configureLogging(log, cfg.Logging)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.Telemetry.OTLPEndpoint != "" {
		shutdown, err := setupTracing(ctx, cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			log.Fatalf("initializing tracing: %v", err)
		}
		defer shutdown()
	}

	store, err := trialstore.NewStore(cfg.Database.Path)
	if err != nil {
		log.Fatalf("opening trial store (%s): %v", cfg.Database.Path, err)
	}
	defer store.Close()
	log.WithField("path", cfg.Database.Path).Info("trial store ready")

	var retriever screening.Retriever
	if cfg.Retrieval.BaseURL != "" {
		client, err := retrieval.NewClient(retrieval.Config{
			BaseURL:    cfg.Retrieval.BaseURL,
			APIKey:     cfg.Retrieval.APIKey,
			RatePerSec: cfg.Retrieval.RatePerSec,
			CacheSize:  cfg.Retrieval.CacheSize,
			Logger:     log,
		})
		if err != nil {
			log.Fatalf("initializing retrieval client: %v", err)
		}
		retriever = client
		log.WithField("base_url", cfg.Retrieval.BaseURL).Info("medical knowledge retrieval enabled")
	} else {
		log.Warn("retrieval base URL not set, screening runs without medical context")
	}

	var primary screening.StageRunner
	if gen, err := screening.NewAnthropicGeneratorFromEnv(); err != nil {
		log.WithError(err).Warn("generative backend unavailable, using rule-based screening only")
	} else {
		exec := screening.NewStageExecutor(screening.NewBreakerGenerator(gen), cfg.Screening.LLMTimeout)
		primary = screening.NewLLMStageRunner(exec)
		log.Info("generative screening backend enabled")
	}

	pipeline := screening.NewPipeline(primary, retriever, store, cfg.ScreeningOptions())
	handler := httpapi.NewServer(pipeline, store, httpapi.NewChromiumPDFRenderer(), log)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("screening API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		log.Fatalf("server error: %v", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
}

func configureLogging(log *logrus.Logger, cfg config.LoggingConfig) {
	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	if strings.EqualFold(cfg.Format, "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
}

func setupTracing(ctx context.Context, endpoint string) (func(), error) {
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName("trialscreen-api"),
	))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(flushCtx)
	}, nil
}
