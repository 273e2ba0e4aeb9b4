package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/go-commerce-erpsync/internal/app"
	"github.com/imrishuroy/go-commerce-erpsync/internal/config"
	"github.com/imrishuroy/go-commerce-erpsync/internal/logger"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}
	zl, err := logger.NewZapLogger(cfg.App.LogLevel)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, zl, nil)
	if err != nil {
		log.Fatalf("failed to build backends: %v", err)
	}
	syncer, err := a.Syncer()
	if err != nil {
		log.Fatalf("failed to init syncer: %v", err)
	}
	w := a.Worker(syncer)

	// If RUN_LOCAL=true, long-poll the queue instead of waiting for Lambda events.
	if cfg.Server.RunLocal || os.Getenv("RUN_LOCAL") == "true" {
		if cfg.Queue.Backend != app.BackendSQS {
			log.Fatalf("the standalone worker needs queue.backend=sqs; the memory queue is drained by the api process")
		}
		go a.Metrics.Run(ctx, cfg.Metrics.Interval)
		go func() {
			<-ctx.Done()
			w.Stop()
		}()
		if err := w.Run(ctx); err != nil {
			log.Fatalf("worker error: %v", err)
		}
		return
	}

	p := NewProcessor(w, zl)
	lambda.Start(func(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
		resp, err := p.Handle(ctx, ev)
		if ferr := a.Metrics.Flush(ctx); ferr != nil {
			zl.Warnf(ctx, "[metrics] flush: %v", ferr)
		}
		return resp, err
	})
}
