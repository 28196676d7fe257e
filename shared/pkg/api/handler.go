// Package api exposes the inspector over HTTP: product announcements, manual
// job submission, the job ledger and pipeline status.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/psantana5/sdd-inspector/pkg/logging"
	"github.com/psantana5/sdd-inspector/pkg/models"
	"github.com/psantana5/sdd-inspector/pkg/scheduler"
	"github.com/psantana5/sdd-inspector/pkg/store"
)

// Pipeline is the scheduler surface the API drives
type Pipeline interface {
	Submit(desc models.JobDescriptor) (*models.Job, error)
	Working() bool
	QueueLength() int
	Progress() int64
	Current() string
}

// ProductSink receives the out-of-band product descriptor
type ProductSink interface {
	SetPendingProduct(date string, height, width int) error
}

// Paths are the roots used to resolve a job's directories from its product
type Paths struct {
	InputRoot  string
	OutputRoot string
}

var dateRe = regexp.MustCompile(`^\d{14}$`)

// Handler serves the API routes
type Handler struct {
	pipeline Pipeline
	ledger   store.Store
	products ProductSink
	paths    Paths
	logger   *logging.Logger
}

// NewHandler creates a handler. products may be nil when no listener runs.
func NewHandler(p Pipeline, ledger store.Store, products ProductSink, paths Paths, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &Handler{pipeline: p, ledger: ledger, products: products, paths: paths, logger: logger}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/product", h.SetProduct).Methods("POST")
	r.HandleFunc("/jobs", h.CreateJob).Methods("POST")
	r.HandleFunc("/jobs", h.ListJobs).Methods("GET")
	r.HandleFunc("/jobs/{id}", h.GetJob).Methods("GET")
	r.HandleFunc("/status", h.Status).Methods("GET")
	r.HandleFunc("/health", h.Health).Methods("GET")
}

// ProductRequest is the out-of-band product descriptor
type ProductRequest struct {
	Date   string `json:"date"`
	Height int    `json:"mt_stand_height"`
	Width  int    `json:"mt_stand_width"`
}

// SetProduct records the product the next line signal will create a job for
func (h *Handler) SetProduct(w http.ResponseWriter, r *http.Request) {
	if h.products == nil {
		http.Error(w, "No line listener running", http.StatusServiceUnavailable)
		return
	}
	var req ProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !dateRe.MatchString(req.Date) {
		http.Error(w, "date must be YYYYMMDDHHMMSS", http.StatusBadRequest)
		return
	}
	if err := h.products.SetPendingProduct(req.Date, req.Height, req.Width); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusAccepted, req)
}

// JobRequest submits a job directly. Directories default to the configured roots.
type JobRequest struct {
	Date       string `json:"date"`
	Width      int    `json:"mt_stand_width"`
	Height     int    `json:"mt_stand_height"`
	InputDir   string `json:"sdd_in_path,omitempty"`
	OutputDir  string `json:"sdd_out_path,omitempty"`
	SaveVisual bool   `json:"save_visual"`
	FMLength   int    `json:"fm_length,omitempty"`
}

// CreateJob enqueues a job, e.g. to re-run a product whose staging was kept
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	desc, err := models.BuildDescriptor(h.paths.InputRoot, h.paths.OutputRoot, req.Date, req.Width, req.Height)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.InputDir != "" {
		desc.InputDir = req.InputDir
	}
	if req.OutputDir != "" {
		desc.OutputDir = req.OutputDir
	}
	desc.SaveVisual = req.SaveVisual
	if req.FMLength > 0 {
		desc.FMLength = req.FMLength
	}

	job, err := h.pipeline.Submit(desc)
	switch {
	case errors.Is(err, store.ErrJobExists):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, scheduler.ErrStopped):
		http.Error(w, "Scheduler is shutting down", http.StatusServiceUnavailable)
		return
	case err != nil:
		h.logger.Error("Failed to submit job", map[string]interface{}{"error": err.Error()})
		http.Error(w, "Failed to submit job", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

// ListJobs lists the ledger newest first. ?status= filters, ?limit= truncates.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	status := models.JobStatus(r.URL.Query().Get("status"))
	jobs, err := h.ledger.GetJobs(status)
	if err != nil {
		h.logger.Error("Failed to list jobs", map[string]interface{}{"error": err.Error()})
		http.Error(w, "Failed to list jobs", http.StatusInternalServerError)
		return
	}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit > 0 && limit < len(jobs) {
		jobs = jobs[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GetJob returns a job by ID, or by product timestamp when the key is 14 digits
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["id"]

	var job *models.Job
	var err error
	if dateRe.MatchString(key) {
		job, err = h.ledger.GetJobByDate(key)
	} else {
		job, err = h.ledger.GetJob(key)
	}
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			http.Error(w, "Job not found", http.StatusNotFound)
			return
		}
		h.logger.Error("Failed to get job", map[string]interface{}{"job": key, "error": err.Error()})
		http.Error(w, "Failed to get job", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// StatusResponse is the pipeline snapshot
type StatusResponse struct {
	Working     bool   `json:"working"`
	QueueLength int    `json:"queue_length"`
	Progress    int64  `json:"progress"`
	CurrentJob  string `json:"current_job,omitempty"`
}

// Status reports whether a job is in flight and how far the pipeline got
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Working:     h.pipeline.Working(),
		QueueLength: h.pipeline.QueueLength(),
		Progress:    h.pipeline.Progress(),
		CurrentJob:  h.pipeline.Current(),
	})
}

// Health reports ledger reachability
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.HealthCheck(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
