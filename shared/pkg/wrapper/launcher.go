// Package wrapper runs camera group workers as child processes in their own
// process group, one per group per job.
package wrapper

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/psantana5/sdd-inspector/pkg/logging"
	"github.com/psantana5/sdd-inspector/pkg/scheduler"
)

// ProcessLauncher re-executes a binary as a camera group worker. The child
// writes framed results on stdout and logs on stderr.
type ProcessLauncher struct {
	Executable  string
	BaseArgs    []string // Placed before the group flags, e.g. {"worker"}
	ExtraArgs   []string // Appended after the group flags
	Env         []string // Added to the parent environment
	Constraints *Constraints

	cgroup *CgroupManager
	logger *logging.Logger
}

// NewProcessLauncher creates a launcher for executable; "" means the running binary
func NewProcessLauncher(executable string, logger *logging.Logger) (*ProcessLauncher, error) {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	if executable == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve own executable: %w", err)
		}
		executable = self
	}
	return &ProcessLauncher{
		Executable:  executable,
		BaseArgs:    []string{"worker"},
		Constraints: DefaultConstraints(),
		cgroup:      NewCgroupManager("sdd-worker", logger),
		logger:      logger,
	}, nil
}

// Args builds the worker command line for spec
func (l *ProcessLauncher) Args(spec scheduler.GroupSpec) []string {
	cams := make([]string, len(spec.Group.CameraIDs))
	for i, id := range spec.Group.CameraIDs {
		cams[i] = strconv.Itoa(id)
	}

	args := append([]string{}, l.BaseArgs...)
	args = append(args,
		"--job-id", spec.JobID,
		"--group", spec.Group.Name,
		"--model", spec.Group.ModelPath,
		"--cams", strings.Join(cams, ","),
		"--gpu", strconv.Itoa(spec.Group.GPU),
		"--input", spec.InputDir,
		"--output", spec.OutputDir,
	)
	if spec.SaveVisual {
		args = append(args, "--save-visual")
	}
	return append(args, l.ExtraArgs...)
}

// visibleDevices pins a worker to one GPU. A cpu group sees no device.
func visibleDevices(gpu int) string {
	if gpu < 0 {
		return "-1"
	}
	return strconv.Itoa(gpu)
}

// Launch starts the worker and pumps its stdout into out
func (l *ProcessLauncher) Launch(ctx context.Context, spec scheduler.GroupSpec, out chan<- scheduler.Event) (scheduler.Process, error) {
	cmd := exec.Command(l.Executable, l.Args(spec)...)
	// own process group so Kill reaches everything the worker started
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = append(os.Environ(), l.Env...)
	cmd.Env = append(cmd.Env, "CUDA_VISIBLE_DEVICES="+visibleDevices(spec.Group.GPU))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}

	w := &Worker{
		cmd:     cmd,
		pid:     cmd.Process.Pid,
		group:   spec.Group.Name,
		started: time.Now(),
		pumped:  make(chan struct{}),
		logged:  make(chan struct{}),
		logger: l.logger.WithFields(map[string]interface{}{
			"group": spec.Group.Name,
			"pid":   cmd.Process.Pid,
		}),
	}
	l.applyConstraints(w, spec.JobID)

	go func() {
		defer close(w.pumped)
		scheduler.Pump(ctx, spec.Group.Name, stdout, out)
	}()
	go func() {
		defer close(w.logged)
		w.forwardStderr(stderr)
	}()

	w.logger.Debug("Worker started", map[string]interface{}{"gpu": spec.Group.GPU, "cams": spec.Group.CameraIDs})
	return w, nil
}

func (l *ProcessLauncher) applyConstraints(w *Worker, jobID string) {
	c := l.Constraints
	if c == nil {
		return
	}
	c.Validate()

	if c.NeedsCgroup() {
		path, err := l.cgroup.Create(jobID+"-"+w.group, c)
		if err != nil {
			w.logger.Warn("Failed to create cgroup", map[string]interface{}{"error": err.Error()})
		} else if err := l.cgroup.Attach(path, w.pid); err != nil {
			w.logger.Warn("Failed to attach worker to cgroup", map[string]interface{}{"error": err.Error()})
		} else {
			w.cgroupPath = path
			w.cgroup = l.cgroup
		}
	}
	if err := ApplyNicePriority(w.pid, c.NicePriority); err != nil {
		w.logger.Warn("Failed to set nice priority", map[string]interface{}{"error": err.Error()})
	}
	if err := ApplyOOMScoreAdj(w.pid, c.OOMScoreAdj); err != nil {
		w.logger.Warn("Failed to set OOM score", map[string]interface{}{"error": err.Error()})
	}
}

// Worker is a running camera group worker process
type Worker struct {
	cmd        *exec.Cmd
	pid        int
	group      string
	started    time.Time
	cgroup     *CgroupManager
	cgroupPath string
	logger     *logging.Logger

	pumped chan struct{}
	logged chan struct{}

	waitOnce sync.Once
	waitErr  error
	status   ExitStatus
}

// PID returns the worker's process id, which is also its process group id
func (w *Worker) PID() int { return w.pid }

// Kill sends SIGKILL to the worker's whole process group
func (w *Worker) Kill() error {
	if err := syscall.Kill(-w.pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		return fmt.Errorf("failed to kill process group %d: %w", w.pid, err)
	}
	return nil
}

// Wait drains the worker's output and reaps it. It is safe to call more than once.
func (w *Worker) Wait() error {
	w.waitOnce.Do(func() {
		<-w.pumped
		<-w.logged
		err := w.cmd.Wait()
		w.status = ClassifyExit(err)
		if err != nil {
			w.waitErr = fmt.Errorf("worker %s exited: %s (code %d%s)", w.group, w.status.Reason, w.status.Code, signalSuffix(w.status))
		}
		if w.cgroup != nil {
			if err := w.cgroup.Remove(w.cgroupPath); err != nil {
				w.logger.Warn("Failed to remove cgroup", map[string]interface{}{"error": err.Error()})
			}
		}
		w.logger.Debug("Worker exited", map[string]interface{}{
			"reason":   string(w.status.Reason),
			"code":     w.status.Code,
			"duration": time.Since(w.started).String(),
		})
	})
	return w.waitErr
}

// ExitStatus returns the classified exit, valid after Wait
func (w *Worker) ExitStatus() ExitStatus { return w.status }

func (w *Worker) forwardStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			w.logger.Info(line)
		}
	}
	_, _ = io.Copy(io.Discard, r)
}

func signalSuffix(s ExitStatus) string {
	if s.Signal == "" {
		return ""
	}
	return ", " + s.Signal
}
