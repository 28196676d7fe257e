package models

import (
	"math"
	"path/filepath"
	"testing"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    JobStatus
		to      JobStatus
		wantErr bool
	}{
		// Valid transitions
		{"Queued to Running", JobStatusQueued, JobStatusRunning, false},
		{"Queued to Failed", JobStatusQueued, JobStatusFailed, false},
		{"Running to Aggregating", JobStatusRunning, JobStatusAggregating, false},
		{"Running to Failed", JobStatusRunning, JobStatusFailed, false},
		{"Aggregating to Completed", JobStatusAggregating, JobStatusCompleted, false},
		{"Aggregating to Failed", JobStatusAggregating, JobStatusFailed, false},

		// Invalid transitions
		{"Queued to Completed", JobStatusQueued, JobStatusCompleted, true},
		{"Queued to Aggregating", JobStatusQueued, JobStatusAggregating, true},
		{"Running to Completed", JobStatusRunning, JobStatusCompleted, true},
		{"Completed to Running", JobStatusCompleted, JobStatusRunning, true},
		{"Failed to Queued", JobStatusFailed, JobStatusQueued, true},
		{"Unknown source", JobStatus("paused"), JobStatusRunning, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTransition(%v, %v) error = %v, wantErr %v",
					tt.from, tt.to, err, tt.wantErr)
			}
		})
	}
}

func TestIsTerminalState(t *testing.T) {
	tests := []struct {
		name     string
		state    JobStatus
		expected bool
	}{
		{"Completed is terminal", JobStatusCompleted, true},
		{"Failed is terminal", JobStatusFailed, true},
		{"Queued is not terminal", JobStatusQueued, false},
		{"Running is not terminal", JobStatusRunning, false},
		{"Aggregating is not terminal", JobStatusAggregating, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsTerminalState(tt.state)
			if result != tt.expected {
				t.Errorf("IsTerminalState(%v) = %v, want %v", tt.state, result, tt.expected)
			}
		})
	}
}

func TestIsActiveState(t *testing.T) {
	tests := []struct {
		state    JobStatus
		expected bool
	}{
		{JobStatusQueued, false},
		{JobStatusRunning, true},
		{JobStatusAggregating, true},
		{JobStatusCompleted, false},
	}

	for _, tt := range tests {
		if got := IsActiveState(tt.state); got != tt.expected {
			t.Errorf("IsActiveState(%v) = %v, want %v", tt.state, got, tt.expected)
		}
	}
}

func TestJobDir(t *testing.T) {
	dir, err := JobDir("20250401182801", 350, 350)
	if err != nil {
		t.Fatalf("JobDir returned error: %v", err)
	}
	want := filepath.Join("20250401", "20250401182801_350x350")
	if dir != want {
		t.Errorf("JobDir = %q, want %q", dir, want)
	}

	// width comes first in the directory name
	dir, _ = JobDir("20250804095316", 200, 350)
	if filepath.Base(dir) != "20250804095316_200x350" {
		t.Errorf("unexpected width/height order: %q", dir)
	}

	if _, err := JobDir("2025", 1, 1); err == nil {
		t.Error("expected error for short timestamp")
	}
}

func TestQuarantineRecord(t *testing.T) {
	rec := QuarantineRecord("", 3)
	if rec.Filename != "unknown" {
		t.Errorf("Filename = %q, want unknown", rec.Filename)
	}
	if rec.Result != ResultQuarantine {
		t.Errorf("Result = %d, want %d", rec.Result, ResultQuarantine)
	}
	for i, v := range rec.Features() {
		if !math.IsNaN(v) {
			t.Errorf("feature %d = %v, want NaN", i, v)
		}
	}
}

func TestDefaultCameraGroups(t *testing.T) {
	groups := DefaultCameraGroups("/models")
	if err := groups.Validate(); err != nil {
		t.Fatalf("default groups invalid: %v", err)
	}
	if len(groups) != 5 {
		t.Fatalf("expected 5 groups, got %d", len(groups))
	}

	cams := groups.Cameras()
	for i, id := range cams {
		if id != i+1 {
			t.Fatalf("cameras = %v, want 1..10", cams)
		}
	}

	if gpus := groups.GPUs(); len(gpus) != 2 || gpus[0] != 0 || gpus[1] != 1 {
		t.Errorf("GPUs() = %v, want [0 1]", gpus)
	}
	if models := groups.Models(); len(models) != 3 {
		t.Errorf("Models() = %v, want 3 distinct models", models)
	}

	var group38 *CameraGroupConfig
	for i := range groups {
		if groups[i].Name == "vae_group_3_8.onnx" {
			group38 = &groups[i]
		}
	}
	if group38 == nil || group38.GPU != 0 || group38.ModelPath != filepath.Join("/models", "vae_group_3_8.onnx") {
		t.Errorf("unexpected vae_group_3_8 entry: %+v", group38)
	}
}

func TestCameraGroupsValidate(t *testing.T) {
	tests := []struct {
		name    string
		groups  CameraGroups
		wantErr bool
	}{
		{"empty", CameraGroups{}, true},
		{"missing name", CameraGroups{{ModelPath: "a.onnx", CameraIDs: []int{1}}}, true},
		{"missing model", CameraGroups{{Name: "a", CameraIDs: []int{1}}}, true},
		{"no cameras", CameraGroups{{Name: "a", ModelPath: "a.onnx"}}, true},
		{"negative gpu", CameraGroups{{Name: "a", ModelPath: "a.onnx", CameraIDs: []int{1}, GPU: -2}}, true},
		{"cpu group", CameraGroups{{Name: "a", ModelPath: "a.onnx", CameraIDs: []int{1}, GPU: -1}}, false},
		{"duplicate name", CameraGroups{
			{Name: "a", ModelPath: "a.onnx", CameraIDs: []int{1}},
			{Name: "a", ModelPath: "b.onnx", CameraIDs: []int{2}},
		}, true},
		{"camera claimed twice", CameraGroups{
			{Name: "a", ModelPath: "a.onnx", CameraIDs: []int{1, 2}},
			{Name: "b", ModelPath: "a.onnx", CameraIDs: []int{2}},
		}, true},
		{"shared model", CameraGroups{
			{Name: "a", ModelPath: "a.onnx", CameraIDs: []int{1}},
			{Name: "b", ModelPath: "a.onnx", CameraIDs: []int{2}, GPU: 1},
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.groups.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestJobTransition(t *testing.T) {
	job := NewJob(JobDescriptor{ID: "j1", Timestamp: "20240101120000"})

	if err := job.Transition(JobStatusCompleted, ""); err == nil {
		t.Fatal("queued -> completed should be rejected")
	}
	for _, to := range []JobStatus{JobStatusRunning, JobStatusAggregating, JobStatusCompleted} {
		if err := job.Transition(to, ""); err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}
	if job.StartedAt == nil || job.CompletedAt == nil {
		t.Error("timestamps not set")
	}
	if len(job.StateTransitions) != 3 {
		t.Errorf("got %d transitions, want 3", len(job.StateTransitions))
	}

	failed := NewJob(JobDescriptor{ID: "j2"})
	_ = failed.Transition(JobStatusRunning, "")
	if err := failed.Transition(JobStatusFailed, "worker crashed"); err != nil {
		t.Fatal(err)
	}
	if failed.Error != "worker crashed" {
		t.Errorf("Error = %q", failed.Error)
	}
}

func TestBuildDescriptor(t *testing.T) {
	desc, err := BuildDescriptor("/data/in", "/data/out", "20250401182801", 350, 350)
	if err != nil {
		t.Fatalf("BuildDescriptor: %v", err)
	}
	if desc.InputDir != "/data/in/20250401/20250401182801_350x350" {
		t.Errorf("InputDir = %s", desc.InputDir)
	}
	if desc.OutputDir != "/data/out/20250401/20250401182801_350x350" {
		t.Errorf("OutputDir = %s", desc.OutputDir)
	}
	if desc.FMLength != DefaultFMLength {
		t.Errorf("FMLength = %d", desc.FMLength)
	}

	if _, err := BuildDescriptor("/in", "/out", "2025", 350, 350); err == nil {
		t.Error("short timestamp accepted")
	}
	if _, err := BuildDescriptor("/in", "/out", "20250401182801", 0, 350); err == nil {
		t.Error("zero width accepted")
	}
}
