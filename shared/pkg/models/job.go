package models

import (
	"fmt"
	"math"
	"path/filepath"
	"time"
)

// JobStatus represents the status of an inspection job
type JobStatus string

// DefaultFMLength is the downstream length parameter used when the line
// signal does not carry one.
const DefaultFMLength = 100

// JobDescriptor describes one inspection pass for one physical product.
// It is immutable once enqueued.
type JobDescriptor struct {
	ID         string `json:"id"`
	Timestamp  string `json:"date"` // YYYYMMDDHHMMSS
	Width      int    `json:"mt_stand_width"`
	Height     int    `json:"mt_stand_height"`
	InputDir   string `json:"sdd_in_path"`
	OutputDir  string `json:"sdd_out_path"`
	SaveVisual bool   `json:"save_visual"`
	FMLength   int    `json:"fm_length"`
}

// JobDir returns the relative directory of a job: <YYYYMMDD>/<date>_<w>x<h>
func JobDir(date string, width, height int) (string, error) {
	if len(date) < 8 {
		return "", fmt.Errorf("invalid job timestamp %q: want YYYYMMDDHHMMSS", date)
	}
	return filepath.Join(date[0:8], fmt.Sprintf("%s_%dx%d", date, width, height)), nil
}

// BuildDescriptor resolves a product's staging and output directories
// under the configured roots
func BuildDescriptor(inputRoot, outputRoot, date string, width, height int) (JobDescriptor, error) {
	if width <= 0 || height <= 0 {
		return JobDescriptor{}, fmt.Errorf("invalid stand size %dx%d", width, height)
	}
	dir, err := JobDir(date, width, height)
	if err != nil {
		return JobDescriptor{}, err
	}
	return JobDescriptor{
		Timestamp: date,
		Width:     width,
		Height:    height,
		InputDir:  filepath.Join(inputRoot, dir),
		OutputDir: filepath.Join(outputRoot, dir),
		FMLength:  DefaultFMLength,
	}, nil
}

// CSVPath returns the result table path for the job
func (j *JobDescriptor) CSVPath() string {
	return filepath.Join(j.OutputDir, "result.csv")
}

// Job is the ledger entry tracking a descriptor through the pipeline
type Job struct {
	Descriptor       JobDescriptor     `json:"descriptor"`
	Status           JobStatus         `json:"status"`
	Images           int               `json:"images"`
	Defects          int               `json:"defects"`
	Quarantined      int               `json:"quarantined"`
	CSVPath          string            `json:"csv_path,omitempty"`
	Error            string            `json:"error,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	StartedAt        *time.Time        `json:"started_at,omitempty"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
	StateTransitions []StateTransition `json:"state_transitions,omitempty"`
}

// StateTransition tracks job state changes with timestamps
type StateTransition struct {
	From      JobStatus `json:"from"`
	To        JobStatus `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// Result values of a MetricRecord
const (
	ResultNormal     int8 = 0
	ResultDefect     int8 = 1
	ResultQuarantine int8 = -1
)

// MetricRecord is the per-image outcome emitted by a camera group worker.
// PixelSum is kept as float64 so quarantine rows can carry NaN.
type MetricRecord struct {
	Filename      string  `msgpack:"f" json:"filename"`
	CameraID      int     `msgpack:"c" json:"camera_id"`
	MAE           float64 `msgpack:"mae" json:"mae"`
	SSIM          float64 `msgpack:"ssim" json:"ssim"`
	GradMAE       float64 `msgpack:"grad" json:"grad_mae"`
	LaplacianDiff float64 `msgpack:"lap" json:"laplacian_diff"`
	PixelSum      float64 `msgpack:"pix" json:"pixel_sum"`
	Result        int8    `msgpack:"r" json:"result"`
}

// QuarantineRecord builds the record for an image that failed processing
func QuarantineRecord(filename string, cameraID int) MetricRecord {
	nan := math.NaN()
	if filename == "" {
		filename = "unknown"
	}
	return MetricRecord{
		Filename:      filename,
		CameraID:      cameraID,
		MAE:           nan,
		SSIM:          nan,
		GradMAE:       nan,
		LaplacianDiff: nan,
		PixelSum:      nan,
		Result:        ResultQuarantine,
	}
}

// Features returns the classifier input vector [MAE, SSIM, GradMAE, LaplacianDiff, PixelSum]
func (r MetricRecord) Features() [5]float64 {
	return [5]float64{r.MAE, r.SSIM, r.GradMAE, r.LaplacianDiff, r.PixelSum}
}

// StatusEvent is published when the pipeline starts or stops working on a job
type StatusEvent struct {
	Working bool   `json:"working"`
	JobID   string `json:"-"`
}

// CompletionEvent is published once a job's result table is written
type CompletionEvent struct {
	JobID    string `json:"job_id"`
	CSVPath  string `json:"csv_path"`
	FMLength int    `json:"fm_length"`
}
