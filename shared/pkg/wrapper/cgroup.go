package wrapper

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/psantana5/sdd-inspector/pkg/logging"
)

// CgroupManager places workers in per-job cgroup v2 leaves.
// On hosts without a writable unified hierarchy every call is a no-op.
type CgroupManager struct {
	root      string
	namespace string
	available bool
	logger    *logging.Logger
}

// NewCgroupManager creates a manager rooted at /sys/fs/cgroup
func NewCgroupManager(namespace string, logger *logging.Logger) *CgroupManager {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	root := "/sys/fs/cgroup"
	_, err := os.Stat(filepath.Join(root, "cgroup.controllers"))
	cm := &CgroupManager{root: root, namespace: namespace, available: err == nil, logger: logger}
	if !cm.available {
		logger.Debug("cgroup v2 not available, worker limits limited to nice and oom score")
	}
	return cm
}

// Available reports whether cgroups can be used
func (cm *CgroupManager) Available() bool { return cm.available }

// Create makes the leaf for name and writes the limits. It returns "" when
// cgroups are unavailable or permission is denied.
func (cm *CgroupManager) Create(name string, c *Constraints) (string, error) {
	if !cm.available || c == nil || !c.NeedsCgroup() {
		return "", nil
	}

	path := filepath.Join(cm.root, fmt.Sprintf("%s-%s", cm.namespace, name))
	if err := os.MkdirAll(path, 0755); err != nil {
		if os.IsPermission(err) {
			cm.logger.Warn("Cannot create cgroup (permission denied)", map[string]interface{}{"path": path})
			return "", nil
		}
		return "", fmt.Errorf("failed to create cgroup: %w", err)
	}

	if c.MemoryLimitMB > 0 {
		cm.write(path, "memory.max", strconv.FormatInt(c.MemoryLimitMB*1024*1024, 10))
	}
	if c.CPUWeight > 0 && c.CPUWeight != 100 {
		cm.write(path, "cpu.weight", strconv.Itoa(c.CPUWeight))
	}
	return path, nil
}

func (cm *CgroupManager) write(dir, file, value string) {
	if err := os.WriteFile(filepath.Join(dir, file), []byte(value), 0644); err != nil {
		cm.logger.Warn("Failed to apply cgroup limit", map[string]interface{}{"file": file, "error": err.Error()})
	}
}

// Attach moves pid into the cgroup at path
func (cm *CgroupManager) Attach(path string, pid int) error {
	if path == "" {
		return nil
	}
	if err := os.WriteFile(filepath.Join(path, "cgroup.procs"), []byte(strconv.Itoa(pid)), 0644); err != nil {
		return fmt.Errorf("failed to attach pid %d to cgroup: %w", pid, err)
	}
	return nil
}

// Remove deletes an empty cgroup leaf
func (cm *CgroupManager) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove cgroup: %w", err)
	}
	return nil
}

// ApplyNicePriority renices pid. Negative values silently need root.
func ApplyNicePriority(pid, niceness int) error {
	if niceness == 0 {
		return nil
	}
	if err := syscall.Setpriority(syscall.PRIO_PROCESS, pid, niceness); err != nil {
		if niceness < 0 && os.Geteuid() != 0 {
			return nil
		}
		return fmt.Errorf("failed to set process priority: %w", err)
	}
	return nil
}

// ApplyOOMScoreAdj writes /proc/<pid>/oom_score_adj
func ApplyOOMScoreAdj(pid, score int) error {
	if score == 0 {
		return nil
	}
	file := fmt.Sprintf("/proc/%d/oom_score_adj", pid)
	if err := os.WriteFile(file, []byte(strconv.Itoa(score)), 0644); err != nil {
		if score < 0 && os.Geteuid() != 0 {
			return nil
		}
		return fmt.Errorf("failed to set OOM score: %w", err)
	}
	return nil
}
