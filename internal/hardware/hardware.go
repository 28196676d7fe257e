// Package hardware describes the inspection host: CPU, memory, disks under
// the storage roots, and the NVIDIA GPUs the camera groups are pinned to.
package hardware

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/psantana5/sdd-inspector/pkg/resources"
)

// GPU is one device as reported by nvidia-smi
type GPU struct {
	Index    int    `json:"index" yaml:"index"`
	Name     string `json:"name" yaml:"name"`
	MemoryMB int    `json:"memory_mb" yaml:"memory_mb"`
}

// Disk is the usage of the filesystem holding a storage root
type Disk struct {
	Path        string  `json:"path" yaml:"path"`
	TotalBytes  uint64  `json:"total_bytes" yaml:"total_bytes"`
	FreeBytes   uint64  `json:"free_bytes" yaml:"free_bytes"`
	UsedPercent float64 `json:"used_percent" yaml:"used_percent"`
}

// Info is a snapshot of the host
type Info struct {
	Hostname   string `json:"hostname" yaml:"hostname"`
	OS         string `json:"os" yaml:"os"`
	Platform   string `json:"platform" yaml:"platform"`
	Arch       string `json:"arch" yaml:"arch"`
	CPUModel   string `json:"cpu_model" yaml:"cpu_model"`
	CPUThreads int    `json:"cpu_threads" yaml:"cpu_threads"`
	RAMBytes   uint64 `json:"ram_bytes" yaml:"ram_bytes"`
	RAMFree    uint64 `json:"ram_available_bytes" yaml:"ram_available_bytes"`
	GPUs       []GPU  `json:"gpus" yaml:"gpus"`
	Disks      []Disk `json:"disks" yaml:"disks"`
}

// Detector gathers host information. QueryGPUs is replaceable for tests.
type Detector struct {
	QueryGPUs func(ctx context.Context) ([]byte, error)
	Timeout   time.Duration
}

// NewDetector returns a detector that shells out to nvidia-smi
func NewDetector() *Detector {
	return &Detector{QueryGPUs: nvidiaSMI, Timeout: 5 * time.Second}
}

// Detect collects the host snapshot. Missing GPUs or unreadable paths are
// not errors; only the fields that could be read are filled.
func (p *Detector) Detect(ctx context.Context, paths ...string) *Info {
	info := &Info{
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		CPUThreads: runtime.NumCPU(),
		CPUModel:   "Unknown",
	}

	if h, err := host.InfoWithContext(ctx); err == nil {
		info.Hostname = h.Hostname
		info.Platform = strings.TrimSpace(h.Platform + " " + h.PlatformVersion)
	}
	if cpus, err := cpu.InfoWithContext(ctx); err == nil && len(cpus) > 0 {
		info.CPUModel = cpus[0].ModelName
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.RAMBytes = vm.Total
		info.RAMFree = vm.Available
	}
	for _, path := range paths {
		if u, err := disk.UsageWithContext(ctx, path); err == nil {
			info.Disks = append(info.Disks, Disk{
				Path:        path,
				TotalBytes:  u.Total,
				FreeBytes:   u.Free,
				UsedPercent: u.UsedPercent,
			})
		}
	}

	gpus, err := p.GPUs(ctx)
	if err == nil {
		info.GPUs = gpus
	}
	return info
}

// GPUs lists the NVIDIA devices, or an error when nvidia-smi is unavailable
func (p *Detector) GPUs(ctx context.Context) ([]GPU, error) {
	if p.QueryGPUs == nil {
		return nil, fmt.Errorf("no GPU query configured")
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	out, err := p.QueryGPUs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query GPUs: %w", err)
	}
	return ParseGPUs(out)
}

// Register records the detected GPUs with the reservation manager so camera
// groups can be validated against real device indices. It returns how many
// were registered.
func (p *Detector) Register(ctx context.Context, m *resources.Manager) (int, error) {
	gpus, err := p.GPUs(ctx)
	if err != nil {
		return 0, err
	}
	for _, g := range gpus {
		m.RegisterGPU(g.Index, g.Name, g.MemoryMB)
	}
	return len(gpus), nil
}

// ParseGPUs reads `nvidia-smi --query-gpu=index,name,memory.total
// --format=csv,noheader,nounits` output
func ParseGPUs(out []byte) ([]GPU, error) {
	var gpus []GPU
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 3 {
			return nil, fmt.Errorf("unexpected nvidia-smi line %q", line)
		}
		index, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			return nil, fmt.Errorf("invalid GPU index in %q: %w", line, err)
		}
		memMB, err := strconv.Atoi(strings.TrimSpace(fields[len(fields)-1]))
		if err != nil {
			// [N/A] on some boards
			memMB = 0
		}
		name := strings.TrimSpace(strings.Join(fields[1:len(fields)-1], ","))
		gpus = append(gpus, GPU{Index: index, Name: name, MemoryMB: memMB})
	}
	return gpus, scanner.Err()
}

func nvidiaSMI(ctx context.Context) ([]byte, error) {
	return exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=index,name,memory.total",
		"--format=csv,noheader,nounits").Output()
}
