package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/sdd-inspector/pkg/models"
	"github.com/psantana5/sdd-inspector/pkg/results"
	"github.com/psantana5/sdd-inspector/pkg/store"
	"github.com/psantana5/sdd-inspector/pkg/wire"
)

func testGroups() models.CameraGroups {
	return models.CameraGroups{
		{Name: "g1", ModelPath: "/models/a.onnx", CameraIDs: []int{1, 5}, GPU: 0},
		{Name: "g2", ModelPath: "/models/b.onnx", CameraIDs: []int{2, 4}, GPU: 1},
	}
}

type harness struct {
	sched    *Scheduler
	launcher *fakeLauncher
	cleaner  *fakeCleaner
	ledger   store.Store
}

func newHarness(t *testing.T, behaviors map[string]behavior, mutate func(*Config)) *harness {
	t.Helper()
	cfg := DefaultConfig(testGroups())
	if mutate != nil {
		mutate(&cfg)
	}
	h := &harness{
		launcher: newFakeLauncher(behaviors),
		cleaner:  &fakeCleaner{},
		ledger:   store.NewMemoryStore(),
	}
	s, err := New(cfg, Deps{
		Launcher: h.launcher,
		Ledger:   h.ledger,
		Cleaner:  h.cleaner,
	})
	require.NoError(t, err)
	h.sched = s
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return h
}

func testDescriptor(t *testing.T, id, date string) models.JobDescriptor {
	t.Helper()
	root := t.TempDir()
	dir, err := models.JobDir(date, 350, 350)
	require.NoError(t, err)
	desc := models.JobDescriptor{
		ID:        id,
		Timestamp: date,
		Width:     350,
		Height:    350,
		InputDir:  filepath.Join(root, "in", dir),
		OutputDir: filepath.Join(root, "out", dir),
		FMLength:  models.DefaultFMLength,
	}
	require.NoError(t, os.MkdirAll(desc.InputDir, 0755))
	return desc
}

func waitStatus(t *testing.T, s *Scheduler, want bool) models.StatusEvent {
	t.Helper()
	select {
	case ev := <-s.StatusEvents():
		require.Equal(t, want, ev.Working, "unexpected status event order")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for Working=%v", want)
	}
	return models.StatusEvent{}
}

func stop(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(DefaultConfig(nil), Deps{Launcher: newFakeLauncher(nil)})
	assert.Error(t, err)

	_, err = New(DefaultConfig(testGroups()), Deps{})
	assert.Error(t, err)
}

func TestSchedulerCompletesJob(t *testing.T) {
	h := newHarness(t, map[string]behavior{
		"g1": emit(3, 0),
		"g2": emit(4, 1, 2),
	}, nil)
	desc := testDescriptor(t, "job-1", "20250401182801")

	// a defect image the renamer should mark
	camDir := filepath.Join(desc.OutputDir, "camera_1")
	require.NoError(t, os.MkdirAll(camDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(camDir, "1_0.jpg"), []byte("x"), 0644))

	h.sched.Start()
	_, err := h.sched.Submit(desc)
	require.NoError(t, err)

	ev := waitStatus(t, h.sched, true)
	assert.Equal(t, "job-1", ev.JobID)

	select {
	case done := <-h.sched.CompletionEvents():
		assert.Equal(t, desc.CSVPath(), done.CSVPath)
		assert.Equal(t, models.DefaultFMLength, done.FMLength)
		assert.Equal(t, "job-1", done.JobID)
	case <-time.After(5 * time.Second):
		t.Fatal("no completion event")
	}
	waitStatus(t, h.sched, false)
	stop(t, h.sched)

	records, err := results.ReadCSV(desc.CSVPath())
	require.NoError(t, err)
	assert.Len(t, records, 7)
	assert.EqualValues(t, 7, h.sched.Progress())

	assert.FileExists(t, filepath.Join(camDir, "1_0_x.jpg"))
	assert.NoFileExists(t, filepath.Join(camDir, "1_0.jpg"))
	assert.Equal(t, []string{desc.InputDir}, h.cleaner.cleaned())

	job, err := h.ledger.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 7, job.Images)
	assert.Equal(t, 3, job.Defects)
	assert.Equal(t, desc.CSVPath(), job.CSVPath)

	specs := h.launcher.specs()
	require.Len(t, specs, 2)
	for _, spec := range specs {
		assert.Equal(t, desc.InputDir, spec.InputDir)
		assert.Equal(t, desc.OutputDir, spec.OutputDir)
	}
	assert.False(t, h.sched.Working())
}

func TestSchedulerZeroImages(t *testing.T) {
	h := newHarness(t, map[string]behavior{"g1": emit(0), "g2": emit(0)}, nil)
	desc := testDescriptor(t, "empty", "20250401182801")

	h.sched.Start()
	_, err := h.sched.Submit(desc)
	require.NoError(t, err)
	waitStatus(t, h.sched, true)
	waitStatus(t, h.sched, false)
	stop(t, h.sched)

	data, err := os.ReadFile(desc.CSVPath())
	require.NoError(t, err)
	assert.Equal(t, strings.Join(results.Header, ",")+"\n", string(data))
}

func TestSchedulerWorkerCrash(t *testing.T) {
	h := newHarness(t, map[string]behavior{
		"g1": hang(),
		"g2": crash(2),
	}, nil)
	desc := testDescriptor(t, "job-crash", "20250401182801")

	h.sched.Start()
	_, err := h.sched.Submit(desc)
	require.NoError(t, err)
	waitStatus(t, h.sched, true)
	waitStatus(t, h.sched, false)
	stop(t, h.sched)

	select {
	case ev := <-h.sched.CompletionEvents():
		t.Fatalf("unexpected completion event %+v", ev)
	default:
	}
	assert.NoFileExists(t, desc.CSVPath())
	assert.Empty(t, h.cleaner.cleaned(), "staging must be preserved")
	assert.DirExists(t, desc.InputDir)

	for _, p := range h.launcher.processes() {
		assert.GreaterOrEqual(t, p.kills.Load(), int32(1), "pid %d not killed", p.pid)
	}

	job, err := h.ledger.GetJob("job-crash")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, ErrWorkerCrashed.Error())
	assert.Contains(t, job.Error, "g2")
}

func TestSchedulerCrashDoesNotWaitKillGrace(t *testing.T) {
	h := newHarness(t, map[string]behavior{
		"g1": flood(),
		"g2": crash(0),
	}, func(c *Config) {
		c.KillGrace = 30 * time.Second
	})
	desc := testDescriptor(t, "job-flood", "20250401182801")

	h.sched.Start()
	start := time.Now()
	_, err := h.sched.Submit(desc)
	require.NoError(t, err)
	waitStatus(t, h.sched, true)
	waitStatus(t, h.sched, false)
	assert.Less(t, time.Since(start), 3*time.Second, "abort waited for the kill grace period")
	stop(t, h.sched)

	for _, p := range h.launcher.processes() {
		select {
		case <-p.done:
		default:
			t.Errorf("pid %d still running after abort", p.pid)
		}
	}

	job, err := h.ledger.GetJob("job-flood")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
}

func TestSchedulerWorkerTimeout(t *testing.T) {
	h := newHarness(t, map[string]behavior{
		"g1": emit(2),
		"g2": hang(),
	}, func(c *Config) {
		c.WorkerTimeout = 50 * time.Millisecond
		c.KillGrace = time.Second
	})
	desc := testDescriptor(t, "job-timeout", "20250401182801")

	h.sched.Start()
	_, err := h.sched.Submit(desc)
	require.NoError(t, err)
	waitStatus(t, h.sched, true)
	waitStatus(t, h.sched, false)
	stop(t, h.sched)

	job, err := h.ledger.GetJob("job-timeout")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, ErrWorkerTimeout.Error())
	assert.NoFileExists(t, desc.CSVPath())
	assert.Empty(t, h.cleaner.cleaned())
}

func TestSchedulerLaunchFailure(t *testing.T) {
	h := newHarness(t, map[string]behavior{"g1": hang()}, nil)
	desc := testDescriptor(t, "job-launch", "20250401182801")

	h.sched.Start()
	_, err := h.sched.Submit(desc)
	require.NoError(t, err)
	waitStatus(t, h.sched, true)
	waitStatus(t, h.sched, false)
	stop(t, h.sched)

	procs := h.launcher.processes()
	require.Len(t, procs, 1)
	assert.Equal(t, int32(1), procs[0].kills.Load())

	job, _ := h.ledger.GetJob("job-launch")
	assert.Equal(t, models.JobStatusFailed, job.Status)
}

// The second job must not spawn anything until the first one's table is
// written and its staging cleanup requested.
func TestSchedulerSequentialJobs(t *testing.T) {
	h := newHarness(t, map[string]behavior{"g1": emit(2), "g2": emit(1)}, nil)
	first := testDescriptor(t, "job-1", "20250401182801")
	second := testDescriptor(t, "job-2", "20250401183000")

	var mu sync.Mutex
	var violations []string
	h.launcher.onLaunch = func(spec GroupSpec) {
		if spec.JobID != "job-2" {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if _, err := os.Stat(first.CSVPath()); err != nil {
			violations = append(violations, "job-2 launched before job-1 table was written")
		}
		cleaned := h.cleaner.cleaned()
		if len(cleaned) == 0 || cleaned[0] != first.InputDir {
			violations = append(violations, "job-2 launched before job-1 cleanup")
		}
	}

	_, err := h.sched.Submit(first)
	require.NoError(t, err)
	_, err = h.sched.Submit(second)
	require.NoError(t, err)
	assert.Equal(t, 2, h.sched.QueueLength())

	h.sched.Start()
	for i := 0; i < 2; i++ {
		waitStatus(t, h.sched, true)
		waitStatus(t, h.sched, false)
	}
	stop(t, h.sched)

	mu.Lock()
	assert.Empty(t, violations)
	mu.Unlock()

	specs := h.launcher.specs()
	require.Len(t, specs, 4)
	assert.Equal(t, "job-1", specs[0].JobID)
	assert.Equal(t, "job-1", specs[1].JobID)
	assert.Equal(t, "job-2", specs[2].JobID)
	assert.Equal(t, []string{first.InputDir, second.InputDir}, h.cleaner.cleaned())
	assert.EqualValues(t, 6, h.sched.Progress())
}

func TestSchedulerStopDrainsCurrentJob(t *testing.T) {
	release := make(chan struct{})
	gated := func(w *wire.Writer, spec GroupSpec, killed <-chan struct{}) {
		select {
		case <-release:
		case <-killed:
			return
		}
		emit(1)(w, spec, killed)
	}
	h := newHarness(t, map[string]behavior{"g1": gated, "g2": emit(1)}, nil)
	first := testDescriptor(t, "job-1", "20250401182801")
	second := testDescriptor(t, "job-2", "20250401183000")

	h.sched.Start()
	_, err := h.sched.Submit(first)
	require.NoError(t, err)
	waitStatus(t, h.sched, true)
	_, err = h.sched.Submit(second)
	require.NoError(t, err)

	stopped := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stopped <- h.sched.Stop(ctx)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a job was running")
	case <-time.After(50 * time.Millisecond):
	}
	_, err = h.sched.Submit(testDescriptor(t, "job-3", "20250401183500"))
	assert.ErrorIs(t, err, ErrStopped)

	close(release)
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}

	job1, _ := h.ledger.GetJob("job-1")
	assert.Equal(t, models.JobStatusCompleted, job1.Status)
	job2, _ := h.ledger.GetJob("job-2")
	assert.Equal(t, models.JobStatusFailed, job2.Status)
	assert.Equal(t, ErrStopped.Error(), job2.Error)

	for _, spec := range h.launcher.specs() {
		assert.NotEqual(t, "job-2", spec.JobID)
	}
}

func TestSchedulerStatusEventsNeverBlock(t *testing.T) {
	h := newHarness(t, map[string]behavior{"g1": emit(1), "g2": emit(1)}, func(c *Config) {
		c.EventBuffer = 1
	})
	h.sched.Start()
	for i, date := range []string{"20250401182801", "20250401182802", "20250401182803"} {
		_, err := h.sched.Submit(testDescriptor(t, "job-"+string(rune('a'+i)), date))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		jobs, _ := h.ledger.GetJobs(models.JobStatusCompleted)
		return len(jobs) == 3
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSubmitAssignsIDAndRejectsDuplicates(t *testing.T) {
	h := newHarness(t, map[string]behavior{}, nil)
	desc := testDescriptor(t, "", "20250401182801")
	desc.FMLength = 0

	job, err := h.sched.Submit(desc)
	require.NoError(t, err)
	assert.NotEmpty(t, job.Descriptor.ID)
	assert.Equal(t, models.DefaultFMLength, job.Descriptor.FMLength)

	dup := desc
	dup.ID = job.Descriptor.ID
	_, err = h.sched.Submit(dup)
	assert.ErrorIs(t, err, store.ErrJobExists)
	assert.Equal(t, 1, h.sched.QueueLength())
}
