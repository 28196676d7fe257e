package models

import (
	"fmt"
	"time"
)

// Job states
const (
	JobStatusQueued      JobStatus = "queued"      // Waiting in the FIFO
	JobStatusRunning     JobStatus = "running"     // Camera group workers spawned
	JobStatusAggregating JobStatus = "aggregating" // All sentinels received, writing results
	JobStatusCompleted   JobStatus = "completed"   // CSV written, cleanup triggered
	JobStatusFailed      JobStatus = "failed"      // Worker crash, timeout or write error
)

// validTransitions maps from-state to allowed to-states
var validTransitions = map[JobStatus]map[JobStatus]bool{
	JobStatusQueued: {
		JobStatusRunning: true,
		JobStatusFailed:  true, // validation failed before spawn
	},
	JobStatusRunning: {
		JobStatusAggregating: true,
		JobStatusFailed:      true,
	},
	JobStatusAggregating: {
		JobStatusCompleted: true,
		JobStatusFailed:    true,
	},
	// Terminal states
	JobStatusCompleted: {},
	JobStatusFailed:    {},
}

// ValidateTransition checks if a state transition is valid
func ValidateTransition(from, to JobStatus) error {
	allowedStates, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}

	if !allowedStates[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}

	return nil
}

// IsTerminalState returns true if the state is terminal (no further transitions)
func IsTerminalState(state JobStatus) bool {
	return state == JobStatusCompleted || state == JobStatusFailed
}

// IsActiveState returns true if the job currently holds the pipeline
func IsActiveState(state JobStatus) bool {
	return state == JobStatusRunning || state == JobStatusAggregating
}

// Transition moves the job to a new state, recording the change and
// stamping StartedAt/CompletedAt
func (j *Job) Transition(to JobStatus, reason string) error {
	if err := ValidateTransition(j.Status, to); err != nil {
		return err
	}
	now := time.Now()
	j.StateTransitions = append(j.StateTransitions, StateTransition{
		From:      j.Status,
		To:        to,
		Timestamp: now,
		Reason:    reason,
	})
	j.Status = to
	switch {
	case to == JobStatusRunning:
		j.StartedAt = &now
	case IsTerminalState(to):
		j.CompletedAt = &now
		if to == JobStatusFailed {
			j.Error = reason
		}
	}
	return nil
}

// NewJob wraps a descriptor in a queued ledger entry
func NewJob(desc JobDescriptor) *Job {
	return &Job{Descriptor: desc, Status: JobStatusQueued, CreatedAt: time.Now()}
}
