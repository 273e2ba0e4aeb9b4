package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-commerce-erpsync/internal/app"
	"github.com/imrishuroy/go-commerce-erpsync/internal/config"
	"github.com/imrishuroy/go-commerce-erpsync/internal/handlers"
	"github.com/imrishuroy/go-commerce-erpsync/internal/logger"
	"github.com/imrishuroy/go-commerce-erpsync/internal/worker"
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
	svc, err := a.WebhookService()
	if err != nil {
		log.Fatalf("failed to init webhook service: %v", err)
	}

	if gin.Mode() == gin.DebugMode && !cfg.Server.RunLocal {
		gin.SetMode(gin.ReleaseMode)
	}
	r := handlers.SetupRouter(handlers.HandlerConfig{
		Webhooks:   svc,
		Queue:      a.Queue,
		Metrics:    a.Metrics,
		AdminToken: cfg.Server.AdminToken,
		Logger:     zl,
	})

	runLocal := cfg.Server.RunLocal || os.Getenv("RUN_LOCAL") == "true"

	// a memory queue only exists inside this process, so it is drained here too
	var w *worker.Worker
	if runLocal || cfg.Queue.Backend == app.BackendMemory {
		syncer, err := a.Syncer()
		if err != nil {
			log.Fatalf("failed to init syncer: %v", err)
		}
		w = a.Worker(syncer)
		go func() {
			if err := w.Run(ctx); err != nil {
				zl.Errorf(ctx, "[worker] %v", err)
			}
		}()
		go a.Metrics.Run(ctx, cfg.Metrics.Interval)
	}

	if runLocal {
		serve(ctx, cfg.Server.Addr, r, w, zl)
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (interface{}, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}

// serve runs the HTTP server until ctx is cancelled, then stops the worker.
func serve(ctx context.Context, addr string, h http.Handler, w *worker.Worker, zl logger.Logger) {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		zl.Infof(ctx, "running local server on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Errorf(ctx, "server failed: %v", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Warnf(shutdownCtx, "server shutdown: %v", err)
	}
	if w != nil {
		w.Stop()
	}
	zl.Infof(shutdownCtx, "shutdown complete")
}
