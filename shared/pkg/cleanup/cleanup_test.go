package cleanup

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"strings"
	"time"

	"github.com/psantana5/sdd-inspector/pkg/metrics"
	"github.com/psantana5/sdd-inspector/pkg/models"
)

func TestStagingCleanerRemovesTree(t *testing.T) {
	root := filepath.Join(t.TempDir(), "20240101", "20240101120000_100x200")
	cam := filepath.Join(root, "camera_3")
	if err := os.MkdirAll(cam, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cam, "3_0001.jpg"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	c := NewStagingCleaner(nil)
	c.Clean(root)
	c.Wait()

	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Errorf("staging path still exists: %v", err)
	}
	if removed, failed := c.Stats(); removed != 1 || failed != 0 {
		t.Errorf("stats = %d/%d, want 1/0", removed, failed)
	}
}

func TestStagingCleanerMissingPath(t *testing.T) {
	c := NewStagingCleaner(nil)
	err := c.Remove(context.Background(), filepath.Join(t.TempDir(), "gone"))
	if err == nil {
		t.Fatal("expected error for missing path")
	}
	if _, failed := c.Stats(); failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
}

func TestStagingCleanerReadOnlyDir(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	root := filepath.Join(t.TempDir(), "job")
	cam := filepath.Join(root, "camera_1")
	if err := os.MkdirAll(cam, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cam, "1_1.jpg"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(cam, 0555); err != nil {
		t.Fatal(err)
	}

	c := NewStagingCleaner(nil)
	c.backoff = time.Millisecond
	if err := c.Remove(context.Background(), root); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Error("read-only tree not removed")
	}
}

type fakeStore struct {
	mu      sync.Mutex
	jobs    []models.Job
	deleted []string
	vacuums int
}

func (f *fakeStore) GetJobs(status models.JobStatus) ([]models.Job, error) {
	var out []models.Job
	for _, j := range f.jobs {
		if j.Status == status {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteJob(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeStore) Vacuum() error {
	f.vacuums++
	return nil
}

func TestRetentionPrunesOldFinishedJobs(t *testing.T) {
	old := time.Now().Add(-40 * 24 * time.Hour)
	recent := time.Now().Add(-time.Hour)

	job := func(id string, status models.JobStatus, created time.Time) models.Job {
		return models.Job{Descriptor: models.JobDescriptor{ID: id}, Status: status, CreatedAt: created}
	}
	store := &fakeStore{jobs: []models.Job{
		job("old-done", models.JobStatusCompleted, old),
		job("old-failed", models.JobStatusFailed, old),
		job("new-done", models.JobStatusCompleted, recent),
		job("old-running", models.JobStatusRunning, old),
	}}

	rm := NewRetentionManager(DefaultRetentionConfig(), store, nil)
	if n := rm.PruneNow(); n != 2 {
		t.Errorf("PruneNow = %d, want 2", n)
	}
	if len(store.deleted) != 2 || store.deleted[0] != "old-done" || store.deleted[1] != "old-failed" {
		t.Errorf("deleted = %v", store.deleted)
	}

	rm.VacuumNow()
	if stats := rm.GetStats(); stats.TotalJobsDeleted != 2 || stats.TotalVacuumRuns != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestStagingCleanerCountsOutcomes(t *testing.T) {
	root := t.TempDir()
	staging := filepath.Join(root, "job")
	if err := os.MkdirAll(staging, 0755); err != nil {
		t.Fatal(err)
	}

	c := NewStagingCleaner(nil)
	c.Metrics = metrics.NewCollector()
	c.Clean(staging)
	c.Clean(filepath.Join(root, "missing"))
	c.Wait()

	var buf bytes.Buffer
	if err := c.Metrics.WriteText(&buf); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`sdd_staging_removals_total{outcome="removed"} 1`,
		`sdd_staging_removals_total{outcome="failed"} 1`,
	} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}
