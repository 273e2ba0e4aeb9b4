// Package app builds the service's backends from configuration. Every binary
// wires itself through here so the api, the worker and syncctl agree on
// where queues, markers and archives live.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/imrishuroy/go-commerce-erpsync/internal/archive"
	"github.com/imrishuroy/go-commerce-erpsync/internal/aws"
	"github.com/imrishuroy/go-commerce-erpsync/internal/config"
	"github.com/imrishuroy/go-commerce-erpsync/internal/docsync"
	"github.com/imrishuroy/go-commerce-erpsync/internal/erp"
	"github.com/imrishuroy/go-commerce-erpsync/internal/idempotency"
	"github.com/imrishuroy/go-commerce-erpsync/internal/jobs"
	"github.com/imrishuroy/go-commerce-erpsync/internal/logger"
	"github.com/imrishuroy/go-commerce-erpsync/internal/metrics"
	"github.com/imrishuroy/go-commerce-erpsync/internal/storefront"
	"github.com/imrishuroy/go-commerce-erpsync/internal/webhook"
	"github.com/imrishuroy/go-commerce-erpsync/internal/worker"
)

// Backend names accepted in config.
const (
	BackendMemory   = "memory"
	BackendSQS      = "sqs"
	BackendFile     = "file"
	BackendDynamoDB = "dynamodb"
)

// ClientsFunc loads AWS clients. Tests replace it.
type ClientsFunc func(ctx context.Context) (*aws.AWSClients, error)

// App holds the backends shared by the binaries.
type App struct {
	Config  *config.Config
	Logger  logger.Logger
	Queue   jobs.Queue
	Markers idempotency.Store
	Sink    archive.Sink
	Metrics *metrics.Recorder

	clients *aws.AWSClients
}

// Build creates the queue, marker store, archive sink and metrics recorder.
// AWS clients are only loaded when a configured backend needs them.
func Build(ctx context.Context, cfg *config.Config, log logger.Logger, loadClients ClientsFunc) (*App, error) {
	if loadClients == nil {
		loadClients = aws.NewAWSClients
	}
	if log == nil {
		log = logger.NewNop()
	}
	a := &App{Config: cfg, Logger: log}

	needAWS := cfg.Queue.Backend == BackendSQS ||
		cfg.Markers.Backend == BackendDynamoDB ||
		cfg.Webhook.ArchiveS3Bucket != "" ||
		cfg.Metrics.Namespace != ""
	if needAWS {
		clients, err := loadClients(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to init aws clients: %w", err)
		}
		a.clients = clients
	}

	switch cfg.Queue.Backend {
	case BackendSQS:
		a.Queue = jobs.NewSQSQueue(a.clients.SQS, cfg.Queue.QueueURL)
	default:
		a.Queue = jobs.NewMemoryQueue()
	}

	switch cfg.Markers.Backend {
	case BackendDynamoDB:
		a.Markers = idempotency.NewDynamoStore(a.clients.DynamoDB, cfg.Markers.Table)
	case BackendMemory:
		log.Warnf(ctx, "[app] markers are in memory; a restart forgets every completed stage")
		a.Markers = idempotency.NewMemoryStore()
	default:
		store, err := idempotency.NewFileStore(cfg.Markers.Dir)
		if err != nil {
			return nil, err
		}
		a.Markers = store
	}

	switch {
	case cfg.Webhook.ArchiveS3Bucket != "":
		a.Sink = archive.NewS3Sink(a.clients.S3, cfg.Webhook.ArchiveS3Bucket, cfg.Webhook.ArchiveS3Prefix)
	case cfg.Webhook.ArchiveDir != "":
		sink, err := archive.NewFileSink(cfg.Webhook.ArchiveDir)
		if err != nil {
			return nil, err
		}
		a.Sink = sink
	}

	mopts := metrics.Options{Namespace: cfg.Metrics.Namespace, Depth: a.Queue.Len, Logger: log}
	if a.clients != nil {
		mopts.CloudWatch = a.clients.CloudWatch
	}
	a.Metrics = metrics.New(mopts)
	return a, nil
}

// WebhookService builds the ingress service over the app's queue and sink.
func (a *App) WebhookService() (*webhook.Service, error) {
	if a.Config.Webhook.Secret == "" {
		a.Logger.Warnf(context.Background(), "[app] no webhook secret configured; every signed delivery will be rejected")
	}
	return webhook.NewService(webhook.Options{
		Secret:    a.Config.Webhook.Secret,
		Sink:      a.Sink,
		Queue:     a.Queue,
		Logger:    a.Logger,
		DepthWarn: a.Config.Queue.DepthWarn,
	})
}

// Syncer builds the document state machine against the configured ERP and shop.
func (a *App) Syncer() (*docsync.Syncer, error) {
	ec := a.Config.ERP
	if ec.BaseURL == "" {
		return nil, errors.New("erp.base_url is required to sync documents")
	}
	opts := docsync.Options{
		ERP: erp.NewHTTPClient(erp.Config{
			BaseURL:   ec.BaseURL,
			APIKey:    ec.APIKey,
			APISecret: ec.APISecret,
			Timeout:   ec.Timeout,
			RateLimit: ec.RateLimit,
			Burst:     ec.Burst,
		}),
		Markers:  a.Markers,
		Queue:    a.Queue,
		Logger:   a.Logger,
		Settings: docsync.SettingsFromConfig(ec),
	}
	if sc := a.Config.Storefront; sc.BaseURL != "" {
		opts.Storefront = storefront.NewClient(storefront.Config{
			BaseURL:        sc.BaseURL,
			ConsumerKey:    sc.ConsumerKey,
			ConsumerSecret: sc.ConsumerSecret,
			Timeout:        sc.Timeout,
			RateLimit:      sc.RateLimit,
		})
	} else {
		a.Logger.Warnf(context.Background(), "[app] no storefront configured; reference-only jobs and paid cancellations will fail")
	}
	return docsync.New(opts), nil
}

// Worker builds a queue consumer around handler.
func (a *App) Worker(handler worker.Handler) *worker.Worker {
	wc := a.Config.Worker
	return worker.New(worker.Options{
		Queue:        a.Queue,
		Handler:      handler,
		Logger:       a.Logger,
		Metrics:      a.Metrics,
		JobTimeout:   wc.JobTimeout,
		MaxAttempts:  wc.MaxAttempts,
		RetryBackoff: wc.RetryBackoff,
	})
}
