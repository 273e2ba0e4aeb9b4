// Package metrics counts job outcomes and ships them to CloudWatch.
package metrics

import (
	"context"
	"fmt"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/atomic"

	"github.com/imrishuroy/go-commerce-erpsync/internal/aws"
	"github.com/imrishuroy/go-commerce-erpsync/internal/logger"
)

// Metric names published under the configured namespace.
const (
	MetricProcessed  = "JobsProcessed"
	MetricFailed     = "JobsFailed"
	MetricRetried    = "JobsRetried"
	MetricDropped    = "JobsDropped"
	MetricQueueDepth = "QueueDepth"
)

// DepthFunc reports the current queue length.
type DepthFunc func(ctx context.Context) (int, error)

type Options struct {
	CloudWatch aws.CloudWatchAPI
	Namespace  string
	Depth      DepthFunc
	Logger     logger.Logger
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Processed int64
	Failed    int64
	Retried   int64
	Dropped   int64
}

// Recorder is safe for concurrent use. Without a namespace or CloudWatch
// client it only counts.
type Recorder struct {
	processed *atomic.Int64
	failed    *atomic.Int64
	retried   *atomic.Int64
	dropped   *atomic.Int64

	// unflushed deltas
	pending [4]*atomic.Int64

	cw        aws.CloudWatchAPI
	namespace string
	depth     DepthFunc
	log       logger.Logger
	nowFunc   func() time.Time
}

func New(opts Options) *Recorder {
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	r := &Recorder{
		processed: atomic.NewInt64(0),
		failed:    atomic.NewInt64(0),
		retried:   atomic.NewInt64(0),
		dropped:   atomic.NewInt64(0),
		cw:        opts.CloudWatch,
		namespace: opts.Namespace,
		depth:     opts.Depth,
		log:       log,
		nowFunc:   time.Now,
	}
	for i := range r.pending {
		r.pending[i] = atomic.NewInt64(0)
	}
	return r
}

func (r *Recorder) Processed() { r.processed.Inc(); r.pending[0].Inc() }
func (r *Recorder) Failed()    { r.failed.Inc(); r.pending[1].Inc() }
func (r *Recorder) Retried()   { r.retried.Inc(); r.pending[2].Inc() }
func (r *Recorder) Dropped()   { r.dropped.Inc(); r.pending[3].Inc() }

// Snapshot returns the totals since start.
func (r *Recorder) Snapshot() Snapshot {
	return Snapshot{
		Processed: r.processed.Load(),
		Failed:    r.failed.Load(),
		Retried:   r.retried.Load(),
		Dropped:   r.dropped.Load(),
	}
}

// Enabled reports whether Flush publishes anything.
func (r *Recorder) Enabled() bool { return r.cw != nil && r.namespace != "" }

// Flush publishes the counts accumulated since the previous flush plus the
// current queue depth. Counts are restored if the publish fails.
func (r *Recorder) Flush(ctx context.Context) error {
	if !r.Enabled() {
		return nil
	}
	names := [4]string{MetricProcessed, MetricFailed, MetricRetried, MetricDropped}
	var deltas [4]int64
	for i, c := range r.pending {
		deltas[i] = c.Swap(0)
	}

	now := r.nowFunc()
	data := make([]cwtypes.MetricDatum, 0, len(names)+1)
	for i, name := range names {
		data = append(data, cwtypes.MetricDatum{
			MetricName: sdkaws.String(name),
			Value:      sdkaws.Float64(float64(deltas[i])),
			Unit:       cwtypes.StandardUnitCount,
			Timestamp:  sdkaws.Time(now),
		})
	}
	if r.depth != nil {
		if n, err := r.depth(ctx); err != nil {
			r.log.Warnf(ctx, "[metrics] queue depth unavailable: %v", err)
		} else {
			data = append(data, cwtypes.MetricDatum{
				MetricName: sdkaws.String(MetricQueueDepth),
				Value:      sdkaws.Float64(float64(n)),
				Unit:       cwtypes.StandardUnitCount,
				Timestamp:  sdkaws.Time(now),
			})
		}
	}

	_, err := r.cw.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  sdkaws.String(r.namespace),
		MetricData: data,
	})
	if err != nil {
		for i, c := range r.pending {
			c.Add(deltas[i])
		}
		return fmt.Errorf("put metric data failed: %w", err)
	}
	return nil
}

// Run flushes every interval until ctx is done, then flushes once more.
func (r *Recorder) Run(ctx context.Context, interval time.Duration) {
	if !r.Enabled() || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := r.Flush(flushCtx); err != nil {
				r.log.Warnf(flushCtx, "[metrics] final flush: %v", err)
			}
			cancel()
			return
		case <-ticker.C:
			if err := r.Flush(ctx); err != nil {
				r.log.Warnf(ctx, "[metrics] flush: %v", err)
			}
		}
	}
}
