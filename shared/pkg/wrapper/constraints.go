package wrapper

// Constraints are OS-level limits applied to every camera group worker
type Constraints struct {
	NicePriority  int   // -20 to 19, 0 leaves the priority alone
	OOMScoreAdj   int   // -1000 to 1000, 0 leaves the score alone
	MemoryLimitMB int64 // cgroup v2 memory.max, 0 = unlimited
	CPUWeight     int   // cgroup v2 cpu.weight (1-10000), 0 or 100 = default
}

// DefaultConstraints leaves workers unconstrained
func DefaultConstraints() *Constraints {
	return &Constraints{}
}

// NeedsCgroup reports whether any limit requires a cgroup
func (c *Constraints) NeedsCgroup() bool {
	return c.MemoryLimitMB > 0 || (c.CPUWeight > 0 && c.CPUWeight != 100)
}

// Validate clamps every field into its kernel range
func (c *Constraints) Validate() {
	c.NicePriority = clamp(c.NicePriority, -20, 19)
	c.OOMScoreAdj = clamp(c.OOMScoreAdj, -1000, 1000)
	if c.MemoryLimitMB < 0 {
		c.MemoryLimitMB = 0
	}
	if c.CPUWeight != 0 {
		c.CPUWeight = clamp(c.CPUWeight, 1, 10000)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
