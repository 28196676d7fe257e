package models

import (
	"fmt"
	"path/filepath"
	"sort"
)

// CameraGroupConfig binds a set of cameras to one reconstruction model and one GPU
type CameraGroupConfig struct {
	Name      string `json:"name" yaml:"name" mapstructure:"name"`
	ModelPath string `json:"model" yaml:"model" mapstructure:"model"`
	CameraIDs []int  `json:"cams" yaml:"cams" mapstructure:"cams"`
	GPU       int    `json:"gpu" yaml:"gpu" mapstructure:"gpu"`
}

// CameraGroups is the immutable group table handed to the scheduler
type CameraGroups []CameraGroupConfig

// DefaultCameraGroups returns the production table for ten cameras.
// The first two models are split by camera subset so they run as two workers each.
func DefaultCameraGroups(modelRoot string) CameraGroups {
	m := func(name string) string { return filepath.Join(modelRoot, name) }
	return CameraGroups{
		{Name: "vae_group_1_10_5_6.onnx_part1", ModelPath: m("vae_group_1_10_5_6.onnx"), CameraIDs: []int{1, 5}, GPU: 0},
		{Name: "vae_group_1_10_5_6.onnx_part2", ModelPath: m("vae_group_1_10_5_6.onnx"), CameraIDs: []int{6, 10}, GPU: 0},
		{Name: "vae_group_2_9_4_7.onnx_part1", ModelPath: m("vae_group_2_9_4_7.onnx"), CameraIDs: []int{2, 4}, GPU: 1},
		{Name: "vae_group_2_9_4_7.onnx_part2", ModelPath: m("vae_group_2_9_4_7.onnx"), CameraIDs: []int{7, 9}, GPU: 1},
		{Name: "vae_group_3_8.onnx", ModelPath: m("vae_group_3_8.onnx"), CameraIDs: []int{3, 8}, GPU: 0},
	}
}

// Validate checks that names are unique and that no camera is claimed twice
func (g CameraGroups) Validate() error {
	if len(g) == 0 {
		return fmt.Errorf("no camera groups configured")
	}
	names := make(map[string]bool, len(g))
	owner := make(map[int]string)
	for _, group := range g {
		if group.Name == "" {
			return fmt.Errorf("camera group with model %q has no name", group.ModelPath)
		}
		if names[group.Name] {
			return fmt.Errorf("duplicate camera group %q", group.Name)
		}
		names[group.Name] = true
		if group.ModelPath == "" {
			return fmt.Errorf("camera group %q has no model", group.Name)
		}
		if len(group.CameraIDs) == 0 {
			return fmt.Errorf("camera group %q has no cameras", group.Name)
		}
		if group.GPU < -1 {
			return fmt.Errorf("camera group %q has gpu index %d, want >= 0 or -1 for cpu", group.Name, group.GPU)
		}
		for _, id := range group.CameraIDs {
			if prev, ok := owner[id]; ok {
				return fmt.Errorf("camera %d assigned to both %q and %q", id, prev, group.Name)
			}
			owner[id] = group.Name
		}
	}
	return nil
}

// Cameras returns every camera id covered by the table, ascending
func (g CameraGroups) Cameras() []int {
	var ids []int
	for _, group := range g {
		ids = append(ids, group.CameraIDs...)
	}
	sort.Ints(ids)
	return ids
}

// GPUs returns the distinct GPU indexes referenced by the table, ascending
func (g CameraGroups) GPUs() []int {
	seen := make(map[int]bool)
	var gpus []int
	for _, group := range g {
		if !seen[group.GPU] {
			seen[group.GPU] = true
			gpus = append(gpus, group.GPU)
		}
	}
	sort.Ints(gpus)
	return gpus
}

// Models returns the distinct model paths referenced by the table
func (g CameraGroups) Models() []string {
	seen := make(map[string]bool)
	var models []string
	for _, group := range g {
		if !seen[group.ModelPath] {
			seen[group.ModelPath] = true
			models = append(models, group.ModelPath)
		}
	}
	return models
}
