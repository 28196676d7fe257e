// Package config loads the inspector configuration from flags, the config
// file, SDD_* environment variables and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/psantana5/sdd-inspector/internal/worker"
	"github.com/psantana5/sdd-inspector/pkg/classifier"
	"github.com/psantana5/sdd-inspector/pkg/models"
	"github.com/psantana5/sdd-inspector/pkg/quality"
	"github.com/psantana5/sdd-inspector/pkg/scheduler"
	"github.com/psantana5/sdd-inspector/pkg/tracing"
	"github.com/psantana5/sdd-inspector/pkg/wrapper"
)

// EnvPrefix is prepended to every environment override, e.g. SDD_PATHS_INPUT_ROOT
const EnvPrefix = "SDD"

// ErrModelMissing is returned when a configured model artifact is not on disk
var ErrModelMissing = errors.New("model file missing")

// Config is the effective inspector configuration
type Config struct {
	Paths        Paths               `mapstructure:"paths" yaml:"paths" json:"paths"`
	CameraGroups models.CameraGroups `mapstructure:"camera_groups" yaml:"camera_groups" json:"camera_groups"`
	Pipeline     Pipeline            `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline"`
	Metric       Metric              `mapstructure:"metric" yaml:"metric" json:"metric"`
	Classifier   Classifier          `mapstructure:"classifier" yaml:"classifier" json:"classifier"`
	Bus          Bus                 `mapstructure:"bus" yaml:"bus" json:"bus"`
	API          API                 `mapstructure:"api" yaml:"api" json:"api"`
	Store        Store               `mapstructure:"store" yaml:"store" json:"store"`
	Tracing      Tracing             `mapstructure:"tracing" yaml:"tracing" json:"tracing"`
	Log          Log                 `mapstructure:"log" yaml:"log" json:"log"`
}

// Paths are the filesystem roots
type Paths struct {
	InputRoot  string `mapstructure:"input_root" yaml:"input_root" json:"input_root"`
	OutputRoot string `mapstructure:"output_root" yaml:"output_root" json:"output_root"`
	ModelRoot  string `mapstructure:"model_root" yaml:"model_root" json:"model_root"`
}

// Pipeline controls job execution and the camera group workers
type Pipeline struct {
	SaveVisual    bool          `mapstructure:"save_visual" yaml:"save_visual" json:"save_visual"`
	FMLength      int           `mapstructure:"fm_length" yaml:"fm_length" json:"fm_length"`
	WorkerTimeout time.Duration `mapstructure:"worker_timeout" yaml:"worker_timeout" json:"worker_timeout"`
	KillGrace     time.Duration `mapstructure:"kill_grace" yaml:"kill_grace" json:"kill_grace"`
	Concurrency   int           `mapstructure:"concurrency" yaml:"concurrency" json:"concurrency"` // 0 means min(NumCPU, 8)
	Extensions    []string      `mapstructure:"extensions" yaml:"extensions" json:"extensions"`
	FlipCameras   []int         `mapstructure:"flip_cameras" yaml:"flip_cameras" json:"flip_cameras"`
	IndexFrom     int           `mapstructure:"index_from" yaml:"index_from" json:"index_from"`
	IndexTo       int           `mapstructure:"index_to" yaml:"index_to" json:"index_to"` // 0 disables the index filter
	InProcess     bool          `mapstructure:"in_process" yaml:"in_process" json:"in_process"`
	CPUOnly       bool          `mapstructure:"cpu_only" yaml:"cpu_only" json:"cpu_only"` // in-process sessions skip CUDA
	NicePriority  int           `mapstructure:"nice" yaml:"nice" json:"nice"`
	MemoryLimitMB int64         `mapstructure:"memory_limit_mb" yaml:"memory_limit_mb" json:"memory_limit_mb"`
}

// Metric mirrors quality.Options
type Metric struct {
	Threshold     int     `mapstructure:"threshold" yaml:"threshold" json:"threshold"`
	Percentile    bool    `mapstructure:"percentile" yaml:"percentile" json:"percentile"`
	PercentileP   float64 `mapstructure:"percentile_p" yaml:"percentile_p" json:"percentile_p"`
	Floor         int     `mapstructure:"floor" yaml:"floor" json:"floor"`
	Opening       bool    `mapstructure:"opening" yaml:"opening" json:"opening"`
	KernelW       int     `mapstructure:"kernel_w" yaml:"kernel_w" json:"kernel_w"`
	KernelH       int     `mapstructure:"kernel_h" yaml:"kernel_h" json:"kernel_h"`
	MinArea       int     `mapstructure:"min_area" yaml:"min_area" json:"min_area"`
	HighPass      bool    `mapstructure:"highpass" yaml:"highpass" json:"highpass"`
	HighPassSigma float64 `mapstructure:"hp_sigma" yaml:"hp_sigma" json:"hp_sigma"`
}

// Classifier selects the defect classifier
type Classifier struct {
	Kind  string `mapstructure:"kind" yaml:"kind" json:"kind"`
	Model string `mapstructure:"model" yaml:"model" json:"model"` // relative paths resolve under paths.model_root
}

// Bus is the line signal transport
type Bus struct {
	Transport    string        `mapstructure:"transport" yaml:"transport" json:"transport"`
	Endpoint     string        `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
	Topic        string        `mapstructure:"topic" yaml:"topic" json:"topic"`
	ClientID     string        `mapstructure:"client_id" yaml:"client_id" json:"client_id"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval" json:"poll_interval"`
}

// API is the HTTP surface
type API struct {
	Addr       string  `mapstructure:"addr" yaml:"addr" json:"addr"`
	APIKey     string  `mapstructure:"api_key" yaml:"api_key" json:"-"`
	APIKeyHash string  `mapstructure:"api_key_hash" yaml:"api_key_hash" json:"-"`
	RateLimit  float64 `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"` // requests per second, 0 disables
	RateBurst  int     `mapstructure:"rate_burst" yaml:"rate_burst" json:"rate_burst"`
}

// Store is the job ledger backend
type Store struct {
	Type          string `mapstructure:"type" yaml:"type" json:"type"`
	DSN           string `mapstructure:"dsn" yaml:"dsn" json:"-"`
	RetentionDays int    `mapstructure:"retention_days" yaml:"retention_days" json:"retention_days"`
}

// Tracing mirrors tracing.Config
type Tracing struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Endpoint    string `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name" json:"service_name"`
	Environment string `mapstructure:"environment" yaml:"environment" json:"environment"`
}

// Log controls the process logger
type Log struct {
	Level string `mapstructure:"level" yaml:"level" json:"level"`
	JSON  bool   `mapstructure:"json" yaml:"json" json:"json"`
	File  bool   `mapstructure:"file" yaml:"file" json:"file"`
}

// SetDefaults registers every key with its default so env overrides and
// `config show` see the complete key set
func SetDefaults(v *viper.Viper) {
	v.SetDefault("paths.input_root", "/data/sdd/local_storage")
	v.SetDefault("paths.output_root", "/data/sdd/nas_storage")
	v.SetDefault("paths.model_root", "/opt/sdd/models")

	v.SetDefault("pipeline.save_visual", false)
	v.SetDefault("pipeline.fm_length", models.DefaultFMLength)
	v.SetDefault("pipeline.worker_timeout", scheduler.DefaultWorkerTimeout)
	v.SetDefault("pipeline.kill_grace", scheduler.DefaultKillGrace)
	v.SetDefault("pipeline.concurrency", 0)
	v.SetDefault("pipeline.extensions", []string{"*.jpg", "*.jpeg", "*.JPG", "*.JPEG"})
	v.SetDefault("pipeline.flip_cameras", []int{6, 7, 8, 9, 10})
	v.SetDefault("pipeline.index_from", 0)
	v.SetDefault("pipeline.index_to", 0)
	v.SetDefault("pipeline.in_process", false)
	v.SetDefault("pipeline.cpu_only", false)
	v.SetDefault("pipeline.nice", 0)
	v.SetDefault("pipeline.memory_limit_mb", 0)

	d := quality.DefaultOptions()
	v.SetDefault("metric.threshold", d.Threshold)
	v.SetDefault("metric.percentile", d.UsePercentile)
	v.SetDefault("metric.percentile_p", d.Percentile)
	v.SetDefault("metric.floor", d.ThresholdFloor)
	v.SetDefault("metric.opening", d.Opening)
	v.SetDefault("metric.kernel_w", d.KernelWidth)
	v.SetDefault("metric.kernel_h", d.KernelHeight)
	v.SetDefault("metric.min_area", d.MinArea)
	v.SetDefault("metric.highpass", d.HighPass)
	v.SetDefault("metric.hp_sigma", d.HighPassSigma)

	v.SetDefault("classifier.kind", classifier.KindXGBoost)
	v.SetDefault("classifier.model", classifier.DefaultModelFile)

	v.SetDefault("bus.transport", "zmq")
	v.SetDefault("bus.endpoint", "tcp://127.0.0.1:5401")
	v.SetDefault("bus.topic", "ni_daq_controller/line_signal")
	v.SetDefault("bus.client_id", "sdd-inspector")
	v.SetDefault("bus.poll_interval", time.Second)

	v.SetDefault("api.addr", ":8090")
	v.SetDefault("api.api_key", "")
	v.SetDefault("api.api_key_hash", "")
	v.SetDefault("api.rate_limit", 0)
	v.SetDefault("api.rate_burst", 20)

	v.SetDefault("store.type", "sqlite")
	v.SetDefault("store.dsn", "sdd-jobs.db")
	v.SetDefault("store.retention_days", 30)

	tc := tracing.DefaultConfig()
	v.SetDefault("tracing.enabled", tc.Enabled)
	v.SetDefault("tracing.endpoint", tc.OTLPEndpoint)
	v.SetDefault("tracing.service_name", tc.ServiceName)
	v.SetDefault("tracing.environment", tc.Environment)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("log.file", false)
}

// BindEnv turns on SDD_ environment overrides and loads envFiles (default .env)
// into the process environment. A missing .env file is not an error.
func BindEnv(v *viper.Viper, envFiles ...string) error {
	if len(envFiles) == 0 {
		if _, err := os.Stat(".env"); err == nil {
			envFiles = []string{".env"}
		}
	}
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return fmt.Errorf("failed to load env file: %w", err)
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return nil
}

// Load decodes v into a Config. An empty camera group table falls back to the
// production defaults under paths.model_root.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if len(cfg.CameraGroups) == 0 {
		cfg.CameraGroups = models.DefaultCameraGroups(cfg.Paths.ModelRoot)
	} else {
		for i := range cfg.CameraGroups {
			cfg.CameraGroups[i].ModelPath = cfg.resolveModel(cfg.CameraGroups[i].ModelPath)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration with every default applied and no overrides
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := Load(v)
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

func (c *Config) resolveModel(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Paths.ModelRoot, path)
}

// Validate checks the structural settings. Files on disk are checked by CheckModels.
func (c *Config) Validate() error {
	if err := c.CameraGroups.Validate(); err != nil {
		return fmt.Errorf("invalid camera_groups: %w", err)
	}
	switch c.Classifier.Kind {
	case classifier.KindXGBoost, classifier.KindLogistic:
	default:
		return fmt.Errorf("invalid classifier.kind %q", c.Classifier.Kind)
	}
	switch c.Bus.Transport {
	case "zmq", "mqtt":
	default:
		return fmt.Errorf("invalid bus.transport %q (want zmq or mqtt)", c.Bus.Transport)
	}
	if c.Pipeline.FMLength <= 0 {
		return fmt.Errorf("pipeline.fm_length must be positive, got %d", c.Pipeline.FMLength)
	}
	if c.Pipeline.WorkerTimeout <= 0 {
		return fmt.Errorf("pipeline.worker_timeout must be positive, got %s", c.Pipeline.WorkerTimeout)
	}
	if c.Pipeline.IndexTo > 0 && c.Pipeline.IndexFrom > c.Pipeline.IndexTo {
		return fmt.Errorf("pipeline.index_from %d is after index_to %d", c.Pipeline.IndexFrom, c.Pipeline.IndexTo)
	}
	if c.Metric.KernelW <= 0 || c.Metric.KernelH <= 0 {
		return fmt.Errorf("metric kernel must be positive, got %dx%d", c.Metric.KernelW, c.Metric.KernelH)
	}
	return nil
}

// CheckModels verifies that every group model and, for xgboost, the
// classifier artifact exist. All missing files are reported together.
func (c *Config) CheckModels() error {
	var missing []string
	for _, path := range c.CameraGroups.Models() {
		if !fileExists(path) {
			missing = append(missing, path)
		}
	}
	if c.Classifier.Kind == classifier.KindXGBoost && !fileExists(c.ClassifierPath()) {
		missing = append(missing, c.ClassifierPath())
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrModelMissing, strings.Join(missing, ", "))
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// ClassifierPath is the resolved classifier artifact path
func (c *Config) ClassifierPath() string {
	return c.resolveModel(c.Classifier.Model)
}

// MetricOptions converts the metric section to quality.Options
func (c *Config) MetricOptions() quality.Options {
	return quality.Options{
		Threshold:      c.Metric.Threshold,
		UsePercentile:  c.Metric.Percentile,
		Percentile:     c.Metric.PercentileP,
		ThresholdFloor: c.Metric.Floor,
		Opening:        c.Metric.Opening,
		KernelWidth:    c.Metric.KernelW,
		KernelHeight:   c.Metric.KernelH,
		MinArea:        c.Metric.MinArea,
		HighPass:       c.Metric.HighPass,
		HighPassSigma:  c.Metric.HighPassSigma,
	}
}

// SchedulerConfig builds the scheduler settings
func (c *Config) SchedulerConfig() scheduler.Config {
	cfg := scheduler.DefaultConfig(c.CameraGroups)
	cfg.WorkerTimeout = c.Pipeline.WorkerTimeout
	if c.Pipeline.KillGrace > 0 {
		cfg.KillGrace = c.Pipeline.KillGrace
	}
	return cfg
}

// TracingConfig converts the tracing section
func (c *Config) TracingConfig() tracing.Config {
	tc := tracing.DefaultConfig()
	tc.Enabled = c.Tracing.Enabled
	tc.OTLPEndpoint = c.Tracing.Endpoint
	tc.ServiceName = c.Tracing.ServiceName
	tc.Environment = c.Tracing.Environment
	return tc
}

// Concurrency is the per-worker pool width
func (c *Config) Concurrency() int {
	if c.Pipeline.Concurrency > 0 {
		return c.Pipeline.Concurrency
	}
	n := runtime.NumCPU()
	if n > 8 {
		n = 8
	}
	return n
}

// WorkerSettings builds the settings every camera group worker runs with
func (c *Config) WorkerSettings() worker.Settings {
	return worker.Settings{
		Concurrency:    c.Concurrency(),
		Extensions:     c.Pipeline.Extensions,
		FlipCameras:    c.Pipeline.FlipCameras,
		Index:          worker.IndexRange{From: c.Pipeline.IndexFrom, To: c.Pipeline.IndexTo},
		Metric:         c.MetricOptions(),
		ClassifierKind: c.Classifier.Kind,
		ClassifierPath: c.ClassifierPath(),
	}
}

// Constraints are the OS limits applied to worker processes
func (c *Config) Constraints() *wrapper.Constraints {
	return &wrapper.Constraints{
		NicePriority:  c.Pipeline.NicePriority,
		MemoryLimitMB: c.Pipeline.MemoryLimitMB,
	}
}
