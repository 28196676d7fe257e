package cleanup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/psantana5/sdd-inspector/pkg/logging"
	"github.com/psantana5/sdd-inspector/pkg/metrics"
	"github.com/psantana5/sdd-inspector/pkg/retry"
)

// Staging removal policy
const (
	StagingAttempts = 3
	StagingBackoff  = 100 * time.Millisecond
)

// StagingCleaner deletes a job's input images after the job completed.
// Removals run in the background; Wait blocks until they are done.
type StagingCleaner struct {
	Metrics *metrics.Collector

	attempts int
	backoff  time.Duration
	logger   *logging.Logger
	wg       sync.WaitGroup

	mu      sync.Mutex
	removed int64
	failed  int64
}

// NewStagingCleaner creates a cleaner with the default retry policy
func NewStagingCleaner(logger *logging.Logger) *StagingCleaner {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &StagingCleaner{attempts: StagingAttempts, backoff: StagingBackoff, logger: logger}
}

// Clean schedules removal of path and returns immediately
func (c *StagingCleaner) Clean(path string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_ = c.Remove(context.Background(), path)
	}()
}

// Remove deletes path synchronously. Read-only entries are made writable
// before each retry. A missing path is logged once and not retried.
func (c *StagingCleaner) Remove(ctx context.Context, path string) error {
	if _, err := os.Lstat(path); err != nil {
		c.logger.Error("Staging path does not exist", map[string]interface{}{"path": path})
		c.count(false)
		return fmt.Errorf("staging path %s: %w", path, err)
	}

	attempt := 0
	err := retry.DoNotify(ctx, retry.Fixed(c.attempts, c.backoff), func() error {
		attempt++
		if attempt > 1 {
			makeWritable(path)
		}
		err := os.RemoveAll(path)
		if err == nil {
			return nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}, func(n int, err error, next time.Duration) {
		c.logger.Warn("Staging removal failed, retrying", map[string]interface{}{
			"path": path, "attempt": n, "error": err.Error(),
		})
	})

	if err != nil {
		c.logger.Error("Failed to remove staging directory", map[string]interface{}{"path": path, "error": err.Error()})
		c.count(false)
		return err
	}

	c.logger.Info("Staging directory removed", map[string]interface{}{"path": path})
	c.count(true)
	return nil
}

// Wait blocks until every scheduled removal finished
func (c *StagingCleaner) Wait() {
	c.wg.Wait()
}

// Close waits for pending removals
func (c *StagingCleaner) Close() error {
	c.Wait()
	return nil
}

// Stats returns how many removals succeeded and failed
func (c *StagingCleaner) Stats() (removed, failed int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removed, c.failed
}

func (c *StagingCleaner) count(ok bool) {
	c.mu.Lock()
	if ok {
		c.removed++
	} else {
		c.failed++
	}
	c.mu.Unlock()
	c.Metrics.StagingRemoved(ok)
}

// makeWritable adds owner write permission to every directory under root
func makeWritable(root string) {
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if info, err := d.Info(); err == nil && info.Mode().Perm()&0200 == 0 {
			_ = os.Chmod(p, info.Mode().Perm()|0700)
		}
		return nil
	})
}
