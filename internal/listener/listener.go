// Package listener turns line signals into inspection jobs. A job is created
// when the piece has cleared both HMD sensors while the line is online, for
// the product most recently announced out of band.
package listener

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/psantana5/sdd-inspector/internal/bus"
	"github.com/psantana5/sdd-inspector/pkg/logging"
	"github.com/psantana5/sdd-inspector/pkg/metrics"
	"github.com/psantana5/sdd-inspector/pkg/models"
)

// DefaultPollInterval bounds how long Run waits before re-checking for shutdown
const DefaultPollInterval = time.Second

// Outcomes of a line signal message, as counted in metrics
const (
	OutcomeEnqueued  = "enqueued"
	OutcomeIdle      = "idle"
	OutcomeNoProduct = "no_product"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeMalformed = "malformed"
	OutcomeRejected  = "rejected"
)

var dateRe = regexp.MustCompile(`^\d{14}$`)

// Submitter accepts jobs; the scheduler implements it
type Submitter interface {
	Submit(desc models.JobDescriptor) (*models.Job, error)
}

// Signal is the line signal payload. All three flags must be present.
type Signal struct {
	HMD1     *bool `json:"hmd_signal_1_on"`
	HMD2     *bool `json:"hmd_signal_2_on"`
	Online   *bool `json:"online_signal_on"`
	FMLength *int  `json:"fm_length,omitempty"`
}

// Complete reports whether every flag was sent
func (s Signal) Complete() bool {
	return s.HMD1 != nil && s.HMD2 != nil && s.Online != nil
}

// Ready reports the job gate: both sensors clear and the line online
func (s Signal) Ready() bool {
	return s.Complete() && !*s.HMD1 && !*s.HMD2 && *s.Online
}

// DecodeSignal parses a payload. Single quotes are accepted in place of
// double quotes since some publishers send Python dict literals.
func DecodeSignal(payload []byte) (Signal, error) {
	var s Signal
	normalized := bytes.ReplaceAll(payload, []byte("'"), []byte(`"`))
	if err := json.Unmarshal(normalized, &s); err != nil {
		return s, fmt.Errorf("invalid line signal %q: %w", payload, err)
	}
	return s, nil
}

// Product is the out-of-band descriptor of the piece being rolled
type Product struct {
	Date   string `json:"date"`
	Height int    `json:"mt_stand_height"`
	Width  int    `json:"mt_stand_width"`
}

// Config holds the listener settings
type Config struct {
	Topic        string
	InputRoot    string
	OutputRoot   string
	SaveVisual   bool
	FMLength     int
	PollInterval time.Duration
}

// Listener consumes line signals and submits jobs
type Listener struct {
	config  Config
	sub     bus.Subscriber
	submit  Submitter
	metrics *metrics.Collector
	logger  *logging.Logger

	mu       sync.Mutex
	pending  *Product
	lastDate string
}

// New creates a listener reading from sub
func New(cfg Config, sub bus.Subscriber, submit Submitter, collector *metrics.Collector, logger *logging.Logger) *Listener {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.FMLength <= 0 {
		cfg.FMLength = models.DefaultFMLength
	}
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &Listener{config: cfg, sub: sub, submit: submit, metrics: collector, logger: logger}
}

// SetPendingProduct records the product the next ready signal creates a job
// for. It stays pending until replaced.
func (l *Listener) SetPendingProduct(date string, height, width int) error {
	if !dateRe.MatchString(date) {
		return fmt.Errorf("invalid product date %q: want YYYYMMDDHHMMSS", date)
	}
	if height <= 0 || width <= 0 {
		return fmt.Errorf("invalid stand size %dx%d", width, height)
	}
	l.mu.Lock()
	l.pending = &Product{Date: date, Height: height, Width: width}
	l.mu.Unlock()
	l.logger.Info("Product pending, waiting for line signal", map[string]interface{}{
		"date": date, "height": height, "width": width,
	})
	return nil
}

// Pending returns the current product, if any
func (l *Listener) Pending() (Product, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending == nil {
		return Product{}, false
	}
	return *l.pending, true
}

// Run receives until ctx is cancelled (nil) or the transport fails (error).
// Malformed messages are logged and skipped.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.Info("Line signal listener started", map[string]interface{}{"topic": l.config.Topic})
	for {
		msg, ok, err := l.sub.Receive(ctx, l.config.PollInterval)
		if ctx.Err() != nil {
			l.logger.Info("Line signal listener stopped")
			return nil
		}
		if err != nil {
			if errors.Is(err, bus.ErrClosed) {
				return nil
			}
			return fmt.Errorf("line signal transport failed: %w", err)
		}
		if !ok {
			continue
		}
		l.Handle(msg)
	}
}

// Handle processes one bus message and reports what it led to
func (l *Listener) Handle(msg bus.Message) string {
	outcome := l.handle(msg)
	l.metrics.LineSignal(outcome)
	return outcome
}

func (l *Listener) handle(msg bus.Message) string {
	if l.config.Topic != "" && msg.Topic != l.config.Topic {
		return OutcomeIgnored
	}
	sig, err := DecodeSignal(msg.Payload)
	if err != nil {
		l.logger.Error("Failed to decode line signal", map[string]interface{}{"error": err.Error()})
		return OutcomeMalformed
	}
	if !sig.Complete() {
		return OutcomeIgnored
	}
	l.logger.Debug("Line signal", map[string]interface{}{
		"hmd1": *sig.HMD1, "hmd2": *sig.HMD2, "online": *sig.Online,
	})
	if !sig.Ready() {
		return OutcomeIdle
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pending == nil {
		l.logger.Warn("Line ready but no product announced")
		return OutcomeNoProduct
	}
	p := *l.pending
	if p.Date == l.lastDate {
		l.logger.Warn("Job for product already queued", map[string]interface{}{"date": p.Date})
		return OutcomeDuplicate
	}

	desc, err := models.BuildDescriptor(l.config.InputRoot, l.config.OutputRoot, p.Date, p.Width, p.Height)
	if err != nil {
		l.logger.Error("Invalid pending product", map[string]interface{}{"date": p.Date, "error": err.Error()})
		return OutcomeRejected
	}
	desc.SaveVisual = l.config.SaveVisual
	desc.FMLength = l.config.FMLength
	if sig.FMLength != nil && *sig.FMLength > 0 {
		desc.FMLength = *sig.FMLength
	}

	job, err := l.submit.Submit(desc)
	if err != nil {
		l.logger.Error("Failed to queue job", map[string]interface{}{"date": p.Date, "error": err.Error()})
		return OutcomeRejected
	}
	l.lastDate = p.Date
	l.logger.Info("Job queued", map[string]interface{}{
		"job_id": job.Descriptor.ID,
		"date":   p.Date,
		"input":  desc.InputDir,
	})
	return OutcomeEnqueued
}
