package metrics

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

const namespace = "sdd"

// Collector owns the inspector's Prometheus metrics. A nil *Collector is
// valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	jobsTotal       *prometheus.CounterVec
	jobDuration     prometheus.Histogram
	imagesTotal     *prometheus.CounterVec
	queueLength     prometheus.Gauge
	working         prometheus.Gauge
	workerFailures  *prometheus.CounterVec
	filesRenamed    prometheus.Counter
	stagingRemovals *prometheus.CounterVec
	lineSignals     *prometheus.CounterVec

	httpRequests     *prometheus.CounterVec
	httpResponseSize *prometheus.HistogramVec
}

// NewCollector creates a collector with its own registry
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Inspection jobs finished, by final status",
		}, []string{"status"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time from worker spawn to result table written",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		imagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "images_total",
			Help:      "Images processed, by camera and result (0 normal, 1 defect, -1 quarantine)",
		}, []string{"camera", "result"}),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_length",
			Help:      "Jobs waiting in the FIFO",
		}),
		working: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "working",
			Help:      "1 while a job is being processed",
		}),
		workerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_failures_total",
			Help:      "Camera group worker failures, by group and reason",
		}, []string{"group", "reason"}),
		filesRenamed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "defect_files_renamed_total",
			Help:      "Defect images renamed with the _x suffix",
		}),
		stagingRemovals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "staging_removals_total",
			Help:      "Staging directory removals, by outcome",
		}, []string{"outcome"}),
		lineSignals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "line_signals_total",
			Help:      "Line signal messages received, by outcome",
		}, []string{"outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served by the API",
		}, []string{"method", "route", "code"}),
		httpResponseSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response sizes of the API",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 7),
		}, []string{"method", "route"}),
	}

	c.registry.MustRegister(
		c.jobsTotal, c.jobDuration, c.imagesTotal, c.queueLength, c.working,
		c.workerFailures, c.filesRenamed, c.stagingRemovals, c.lineSignals,
		c.httpRequests, c.httpResponseSize,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry exposes the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// WriteText dumps every metric family as text
func (c *Collector) WriteText(w io.Writer) error {
	families, err := c.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("failed to encode %s: %w", mf.GetName(), err)
		}
	}
	_, err = w.Write(buf.Bytes())
	return err
}

// JobFinished records a terminal job
func (c *Collector) JobFinished(status string, d time.Duration) {
	if c == nil {
		return
	}
	c.jobsTotal.WithLabelValues(status).Inc()
	c.jobDuration.Observe(d.Seconds())
}

// ImageProcessed records one result row
func (c *Collector) ImageProcessed(camera int, result int8) {
	if c == nil {
		return
	}
	c.imagesTotal.WithLabelValues(strconv.Itoa(camera), strconv.Itoa(int(result))).Inc()
}

// SetQueueLength updates the FIFO depth
func (c *Collector) SetQueueLength(n int) {
	if c == nil {
		return
	}
	c.queueLength.Set(float64(n))
}

// SetWorking mirrors the working status event
func (c *Collector) SetWorking(working bool) {
	if c == nil {
		return
	}
	if working {
		c.working.Set(1)
	} else {
		c.working.Set(0)
	}
}

// WorkerFailure records a crashed or timed out group
func (c *Collector) WorkerFailure(group, reason string) {
	if c == nil {
		return
	}
	c.workerFailures.WithLabelValues(group, reason).Inc()
}

// FilesRenamed adds renamed defect files
func (c *Collector) FilesRenamed(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.filesRenamed.Add(float64(n))
}

// StagingRemoved records a cleanup outcome
func (c *Collector) StagingRemoved(ok bool) {
	if c == nil {
		return
	}
	outcome := "removed"
	if !ok {
		outcome = "failed"
	}
	c.stagingRemovals.WithLabelValues(outcome).Inc()
}

// LineSignal records what a bus message led to, e.g. enqueued or malformed
func (c *Collector) LineSignal(outcome string) {
	if c == nil {
		return
	}
	c.lineSignals.WithLabelValues(outcome).Inc()
}
