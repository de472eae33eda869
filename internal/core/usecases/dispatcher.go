package usecases

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/buildingai/buildingai/internal/core/domain"
	"github.com/buildingai/buildingai/internal/core/ports"
	"github.com/buildingai/buildingai/internal/pkg/logging"
	"github.com/buildingai/buildingai/internal/pkg/metrics"
	"github.com/buildingai/buildingai/internal/pkg/telemetry"
)

// DefaultRequestTimeout bounds a single sub-region request.
const DefaultRequestTimeout = 500 * time.Second

// DispatcherConfig configures the endpoint pool.
type DispatcherConfig struct {
	Endpoints       []string
	RequestTimeout  time.Duration
	UseV51          bool
	RatePerEndpoint float64 // requests per second per endpoint, 0 disables pacing
}

// Dispatcher fans sub-regions out to the detection endpoint pool and
// collects whatever comes back.
type Dispatcher struct {
	client    ports.DetectionClient
	endpoints []string
	timeout   time.Duration
	useV51    bool
	limiters  []*rate.Limiter
	progress  ports.EventPublisher
}

// NewDispatcher creates a new Dispatcher. progress may be nil.
func NewDispatcher(client ports.DetectionClient, cfg DispatcherConfig, progress ports.EventPublisher) *Dispatcher {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	d := &Dispatcher{
		client:    client,
		endpoints: append([]string(nil), cfg.Endpoints...),
		timeout:   timeout,
		useV51:    cfg.UseV51,
		progress:  progress,
	}
	if cfg.RatePerEndpoint > 0 {
		d.limiters = make([]*rate.Limiter, len(d.endpoints))
		for i := range d.limiters {
			d.limiters[i] = rate.NewLimiter(rate.Limit(cfg.RatePerEndpoint), 1)
		}
	}
	return d
}

// Endpoints returns the configured endpoint pool.
func (d *Dispatcher) Endpoints() []string {
	return append([]string(nil), d.endpoints...)
}

// Endpoint returns the endpoint a sub-region index is routed to.
func (d *Dispatcher) Endpoint(index int) string {
	return d.endpoints[index%len(d.endpoints)]
}

// Dispatch sends every sub-region concurrently and waits for all of them.
func (d *Dispatcher) Dispatch(ctx context.Context, subRegions []domain.SubRegion, threshold float64) ([]domain.DetectionResult, error) {
	return d.DispatchRun(ctx, "", subRegions, threshold)
}

// DispatchRun is Dispatch with progress events tagged by runID.
//
// Each request runs under its own timeout; a failing request never cancels
// its siblings. Failed sub-regions are logged and left out of the result,
// which is ordered by sub-region index. Only when every request fails is a
// *domain.TotalFailureError returned.
func (d *Dispatcher) DispatchRun(ctx context.Context, runID string, subRegions []domain.SubRegion, threshold float64) ([]domain.DetectionResult, error) {
	if len(subRegions) == 0 {
		return nil, domain.InvalidInput("no sub-regions to dispatch")
	}
	if len(d.endpoints) == 0 {
		return nil, domain.InvalidInput("endpoint pool is empty")
	}

	log := logging.FromContext(ctx)
	total := len(subRegions)
	results := make([]*domain.DetectionResult, total)
	failures := make([]error, total)
	var settled atomic.Int32

	var g errgroup.Group
	for i, sub := range subRegions {
		g.Go(func() error {
			endpoint := d.Endpoint(i)
			res, err := d.send(ctx, i, endpoint, sub, threshold)
			if err != nil {
				failures[i] = &domain.SubRegionError{Index: i, Endpoint: endpoint, Err: err}
				log.Warn("sub-region failed",
					"sub_region", i,
					"endpoint", endpoint,
					"error", err,
				)
			} else {
				results[i] = res
			}
			d.report(ctx, runID, i, endpoint, failures[i], int(settled.Add(1)), total)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]domain.DetectionResult, 0, total)
	var errs []error
	for i := range results {
		if results[i] != nil {
			out = append(out, *results[i])
		} else {
			errs = append(errs, failures[i])
		}
	}

	if len(out) == 0 {
		return nil, &domain.TotalFailureError{SubRegions: total, Failures: errs}
	}
	return out, nil
}

func (d *Dispatcher) send(ctx context.Context, i int, endpoint string, sub domain.SubRegion, threshold float64) (*domain.DetectionResult, error) {
	ctx, span := telemetry.Tracer().Start(ctx, telemetry.SpanSubRegion)
	defer span.End()
	span.SetAttributes(
		attribute.Int(telemetry.AttrSubRegion, i),
		attribute.String(telemetry.AttrEndpoint, endpoint),
	)

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if d.limiters != nil {
		if err := d.limiters[i%len(d.limiters)].Wait(ctx); err != nil {
			d.observe(endpoint, 0, err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	start := time.Now()
	res, err := d.client.Detect(ctx, endpoint, domain.DetectionRequest{
		SubRegion:     sub,
		Threshold:     threshold,
		EndpointIndex: i % len(d.endpoints),
		UseV51:        d.useV51,
	})
	if err == nil && res == nil {
		err = errors.New("empty response")
	}
	d.observe(endpoint, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	res.SubRegion = i
	res.Endpoint = endpoint
	span.SetAttributes(attribute.Int(telemetry.AttrFeatureCount, len(res.Features)))
	return res, nil
}

func (d *Dispatcher) observe(endpoint string, elapsed time.Duration, err error) {
	outcome := "ok"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}
	metrics.SubRegionRequests.WithLabelValues(endpoint, outcome).Inc()
	if elapsed > 0 {
		metrics.SubRegionDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
	}
}

func (d *Dispatcher) report(ctx context.Context, runID string, i int, endpoint string, failure error, settled, total int) {
	if d.progress == nil {
		return
	}
	ev := &domain.ProgressEvent{
		RunID:     runID,
		SubRegion: i,
		Endpoint:  endpoint,
		OK:        failure == nil,
		Settled:   settled,
		Total:     total,
		Percent:   float64(settled) / float64(total) * 100,
		Time:      time.Now().UTC(),
	}
	if failure != nil {
		ev.Error = failure.Error()
	}
	if err := d.progress.PublishProgress(context.WithoutCancel(ctx), ev); err != nil {
		slog.Debug("publish progress failed", "run_id", runID, "error", err)
	}
}
