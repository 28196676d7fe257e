package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/psantana5/sdd-inspector/pkg/logging"
	"github.com/psantana5/sdd-inspector/pkg/metrics"
	"github.com/psantana5/sdd-inspector/pkg/models"
	"github.com/psantana5/sdd-inspector/pkg/wire"
)

// WorkerError attributes a stream failure to its camera group
type WorkerError struct {
	Group string
	Err   error
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("camera group %s: %v", e.Group, e.Err)
}

func (e *WorkerError) Unwrap() error { return e.Err }

// Aggregator merges the result streams of one job's workers
type Aggregator struct {
	progress *atomic.Int64
	metrics  *metrics.Collector
	logger   *logging.Logger
}

// NewAggregator creates an aggregator that bumps progress once per record
func NewAggregator(progress *atomic.Int64, collector *metrics.Collector, logger *logging.Logger) *Aggregator {
	if progress == nil {
		progress = new(atomic.Int64)
	}
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &Aggregator{progress: progress, metrics: collector, logger: logger}
}

// Collect consumes events until n sentinels have arrived and returns the
// records in arrival order. It returns early only on a worker error or when
// ctx ends; a deadline is reported as ErrWorkerTimeout.
func (a *Aggregator) Collect(ctx context.Context, events <-chan Event, n int) ([]models.MetricRecord, error) {
	var records []models.MetricRecord
	received := make(map[string]int)
	done := 0

	for done < n {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return records, fmt.Errorf("%w: %d/%d groups finished", ErrWorkerTimeout, done, n)
			}
			return records, ctx.Err()

		case ev := <-events:
			if ev.Err != nil {
				return records, &WorkerError{Group: ev.Group, Err: ev.Err}
			}
			switch ev.Msg.Kind {
			case wire.KindRecord:
				rec := *ev.Msg.Record
				records = append(records, rec)
				received[ev.Group]++
				a.progress.Add(1)
				a.metrics.ImageProcessed(rec.CameraID, rec.Result)
			case wire.KindDone:
				done++
				if ev.Msg.Processed != received[ev.Group] {
					a.logger.Warn("Group processed count differs from records received", map[string]interface{}{
						"group":     ev.Group,
						"processed": ev.Msg.Processed,
						"received":  received[ev.Group],
					})
				}
				a.logger.Debug("Group finished", map[string]interface{}{
					"group":   ev.Group,
					"records": received[ev.Group],
					"pending": n - done,
				})
			default:
				a.logger.Warn("Ignoring unknown message", map[string]interface{}{"group": ev.Group, "kind": ev.Msg.Kind.String()})
			}
		}
	}
	return records, nil
}
