package resources

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/psantana5/sdd-inspector/pkg/models"
)

// Reservation pins one camera group of a job to a GPU
type Reservation struct {
	JobID string    `json:"job_id"`
	Group string    `json:"group"`
	GPU   int       `json:"gpu"`
	Since time.Time `json:"since"`
}

// GPUState is a GPU known to the manager and the groups currently on it
type GPUState struct {
	Index    int      `json:"index"`
	Name     string   `json:"name,omitempty"`
	MemoryMB int      `json:"memory_mb,omitempty"`
	Groups   []string `json:"groups"`
}

// Manager tracks which camera groups run on which GPU. Several groups may
// share a device; the assignment itself is static configuration.
type Manager struct {
	mu           sync.RWMutex
	gpus         map[int]*GPUState
	reservations map[string][]Reservation // jobID -> reservations
}

// NewManager creates a manager with no registered devices. Until a GPU is
// registered any index is accepted.
func NewManager() *Manager {
	return &Manager{
		gpus:         make(map[int]*GPUState),
		reservations: make(map[string][]Reservation),
	}
}

// RegisterGPU records a detected device
func (m *Manager) RegisterGPU(index int, name string, memoryMB int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gpus[index] = &GPUState{Index: index, Name: name, MemoryMB: memoryMB}
}

// Detected reports whether device detection registered anything
func (m *Manager) Detected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.gpus) > 0
}

// Validate checks every group's GPU against the registered devices
func (m *Manager) Validate(groups models.CameraGroups) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.gpus) == 0 {
		return nil
	}
	for _, g := range groups {
		if g.GPU < 0 {
			continue
		}
		if _, ok := m.gpus[g.GPU]; !ok {
			return fmt.Errorf("camera group %s assigned to gpu %d, host has %d device(s)", g.Name, g.GPU, len(m.gpus))
		}
	}
	return nil
}

// Reserve records that group runs for jobID on its configured GPU
func (m *Manager) Reserve(jobID string, group models.CameraGroupConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, known := m.gpus[group.GPU]
	if len(m.gpus) > 0 && !known && group.GPU >= 0 {
		return fmt.Errorf("gpu %d not found", group.GPU)
	}
	for _, r := range m.reservations[jobID] {
		if r.Group == group.Name {
			return fmt.Errorf("group %s already reserved for job %s", group.Name, jobID)
		}
	}

	m.reservations[jobID] = append(m.reservations[jobID], Reservation{
		JobID: jobID,
		Group: group.Name,
		GPU:   group.GPU,
		Since: time.Now(),
	})
	if known {
		state.Groups = append(state.Groups, group.Name)
	}
	return nil
}

// Release frees every reservation of jobID and returns how many there were
func (m *Manager) Release(jobID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := m.reservations[jobID]
	for _, r := range res {
		state, ok := m.gpus[r.GPU]
		if !ok {
			continue
		}
		for i, name := range state.Groups {
			if name == r.Group {
				state.Groups = append(state.Groups[:i], state.Groups[i+1:]...)
				break
			}
		}
	}
	delete(m.reservations, jobID)
	return len(res)
}

// GetReservations returns a copy of a job's reservations
func (m *Manager) GetReservations(jobID string) []Reservation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Reservation, len(m.reservations[jobID]))
	copy(out, m.reservations[jobID])
	return out
}

// Snapshot returns every registered GPU sorted by index
func (m *Manager) Snapshot() []GPUState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]GPUState, 0, len(m.gpus))
	for _, g := range m.gpus {
		cp := *g
		cp.Groups = append([]string{}, g.Groups...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
