package main

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-lambda-go/events"

	"github.com/imrishuroy/go-commerce-erpsync/internal/jobs"
	"github.com/imrishuroy/go-commerce-erpsync/internal/logger"
	"github.com/imrishuroy/go-commerce-erpsync/internal/worker"
)

// envelopeProcessor is satisfied by *worker.Worker.
type envelopeProcessor interface {
	Process(ctx context.Context, env jobs.Envelope) worker.Outcome
}

// Processor adapts SQS batches delivered by Lambda to the worker.
type Processor struct {
	worker envelopeProcessor
	log    logger.Logger
}

// NewProcessor creates a Processor around w.
func NewProcessor(w envelopeProcessor, log logger.Logger) *Processor {
	if log == nil {
		log = logger.NewNop()
	}
	return &Processor{worker: w, log: log}
}

// Handle processes each record in order. Retries are scheduled by the worker
// as new delayed messages, so handled records are always deleted. Only bodies
// that are not envelopes are reported back; SQS redrives them to the DLQ.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	p.log.Infof(ctx, "[worker] received %d SQS messages", len(ev.Records))
	for _, rec := range ev.Records {
		var env jobs.Envelope
		if err := json.Unmarshal([]byte(rec.Body), &env); err != nil {
			p.log.Errorf(ctx, "[worker] invalid message body %s: %v", rec.MessageId, err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
			continue
		}
		out := p.worker.Process(ctx, env)
		p.log.Debugf(ctx, "[worker] message %s %s", rec.MessageId, out)
	}
	return resp, nil
}
