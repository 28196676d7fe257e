package worker

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// DefaultExtensions are the glob patterns enumerated in each camera directory
var DefaultExtensions = []string{"*.jpg", "*.jpeg", "*.JPG", "*.JPEG"}

// DefaultFlipCameras are mounted mirrored and are flipped before inference
var DefaultFlipCameras = []int{6, 7, 8, 9, 10}

// Task is one image to inspect
type Task struct {
	CameraID int
	Path     string
}

// IndexRange keeps only images whose index lies in [From, To]. A zero To disables it.
type IndexRange struct {
	From int
	To   int
}

// Enabled reports whether the range filters anything
func (r IndexRange) Enabled() bool { return r.To > 0 }

// Contains reports whether the image index is inside the range
func (r IndexRange) Contains(index int) bool {
	return index >= r.From && index <= r.To
}

var (
	trailingIndex = regexp.MustCompile(`_(\d+)$`)
	digitRun      = regexp.MustCompile(`\d+`)
)

// ImageIndex extracts the frame index from a file name: the trailing _<n> of
// the stem, otherwise the second run of digits
func ImageIndex(filename string) (int, bool) {
	stem := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	if m := trailingIndex.FindStringSubmatch(stem); m != nil {
		n, err := strconv.Atoi(m[1])
		return n, err == nil
	}
	runs := digitRun.FindAllString(stem, 2)
	if len(runs) < 2 {
		return 0, false
	}
	n, err := strconv.Atoi(runs[1])
	return n, err == nil
}

// Enumerate lists <inputDir>/camera_<id>/<pattern> for every camera, in
// camera order. Within a camera, paths are de-duplicated across patterns and
// sorted. A missing camera directory yields no tasks.
func Enumerate(inputDir string, cams []int, patterns []string, index IndexRange) ([]Task, error) {
	if len(patterns) == 0 {
		patterns = DefaultExtensions
	}
	var tasks []Task
	for _, cam := range cams {
		dir := filepath.Join(inputDir, fmt.Sprintf("camera_%d", cam))
		seen := make(map[string]struct{})
		var paths []string
		for _, pattern := range patterns {
			matches, err := filepath.Glob(filepath.Join(dir, pattern))
			if err != nil {
				return nil, fmt.Errorf("bad image pattern %q: %w", pattern, err)
			}
			for _, path := range matches {
				if _, dup := seen[path]; dup {
					continue
				}
				seen[path] = struct{}{}
				if index.Enabled() {
					n, ok := ImageIndex(path)
					if !ok || !index.Contains(n) {
						continue
					}
				}
				paths = append(paths, path)
			}
		}
		sort.Strings(paths)
		for _, path := range paths {
			tasks = append(tasks, Task{CameraID: cam, Path: path})
		}
	}
	return tasks, nil
}
