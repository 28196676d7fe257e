package scheduler

import (
	"testing"
	"time"

	"github.com/psantana5/sdd-inspector/pkg/models"
	"github.com/psantana5/sdd-inspector/pkg/store"
)

func seedJob(t *testing.T, st store.Store, id, date string, created time.Time, path ...models.JobStatus) {
	t.Helper()
	job := models.NewJob(models.JobDescriptor{ID: id, Timestamp: date})
	job.CreatedAt = created
	for _, to := range path {
		if err := job.Transition(to, ""); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
	if err := st.CreateJob(job); err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func TestRecoveryManager_FailInterrupted(t *testing.T) {
	st := store.NewMemoryStore()
	now := time.Now()
	seedJob(t, st, "running", "20250401100000", now, models.JobStatusRunning)
	seedJob(t, st, "aggregating", "20250401100100", now, models.JobStatusRunning, models.JobStatusAggregating)
	seedJob(t, st, "done", "20250401100200", now, models.JobStatusRunning, models.JobStatusAggregating, models.JobStatusCompleted)
	seedJob(t, st, "queued", "20250401100300", now)

	rm := NewRecoveryManager(st, nil)
	failed, err := rm.FailInterrupted()
	if err != nil {
		t.Fatalf("FailInterrupted: %v", err)
	}
	if failed != 2 {
		t.Errorf("Expected 2 failed jobs, got %d", failed)
	}

	tests := []struct {
		id   string
		want models.JobStatus
	}{
		{"running", models.JobStatusFailed},
		{"aggregating", models.JobStatusFailed},
		{"done", models.JobStatusCompleted},
		{"queued", models.JobStatusQueued},
	}
	for _, tt := range tests {
		job, err := st.GetJob(tt.id)
		if err != nil {
			t.Fatalf("GetJob(%s): %v", tt.id, err)
		}
		if job.Status != tt.want {
			t.Errorf("%s: status %s, want %s", tt.id, job.Status, tt.want)
		}
		if tt.want == models.JobStatusFailed && job.Error != InterruptedReason {
			t.Errorf("%s: error %q, want %q", tt.id, job.Error, InterruptedReason)
		}
	}
}

func TestSchedulerRecoverRequeuesOldestFirst(t *testing.T) {
	st := store.NewMemoryStore()
	now := time.Now()
	seedJob(t, st, "newer", "20250401100500", now)
	seedJob(t, st, "older", "20250401100000", now.Add(-time.Minute))
	seedJob(t, st, "stuck", "20250401090000", now.Add(-time.Hour), models.JobStatusRunning)

	s, err := New(DefaultConfig(testGroups()), Deps{Launcher: newFakeLauncher(nil), Ledger: st})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	failed, requeued, err := s.Recover()
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if failed != 1 || requeued != 2 {
		t.Errorf("Recover = (%d, %d), want (1, 2)", failed, requeued)
	}

	pending := s.queue.Drain()
	if len(pending) != 2 || pending[0].ID != "older" || pending[1].ID != "newer" {
		t.Errorf("requeued order = %+v", pending)
	}
}
