package results

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/psantana5/sdd-inspector/pkg/logging"
)

// DefectSuffix is appended to the stem of a renamed defect image
const DefectSuffix = "_x"

// DefaultRenameWorkers bounds concurrent renames
const DefaultRenameWorkers = 4

// Renamer marks defect images in the output tree by renaming them in place
type Renamer struct {
	Workers int
	logger  *logging.Logger
}

// NewRenamer creates a renamer with the default worker count
func NewRenamer(logger *logging.Logger) *Renamer {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &Renamer{Workers: DefaultRenameWorkers, logger: logger}
}

// RenameStats reports one renaming pass
type RenameStats struct {
	Renamed int `json:"renamed"`
	Total   int `json:"total"`
}

// Rename reads the table at csvPath and renames
// <outDir>/camera_<prefix>/<file> to <stem>_x<ext> for every row flagged 1.
// Rows that cannot be renamed are skipped, so a second pass renames nothing.
func (r *Renamer) Rename(ctx context.Context, csvPath, outDir string) (RenameStats, error) {
	rows, err := readRawRows(csvPath)
	if err != nil {
		return RenameStats{}, err
	}

	workers := r.Workers
	if workers <= 0 {
		workers = DefaultRenameWorkers
	}

	var renamed atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, row := range rows {
		row := row
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			ok, err := RenameRow(row, outDir)
			if err != nil {
				r.logger.Warn("Rename failed", map[string]interface{}{"file": row[0], "error": err.Error()})
			}
			if ok {
				renamed.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return RenameStats{}, err
	}

	stats := RenameStats{Renamed: int(renamed.Load()), Total: len(rows)}
	r.logger.Info(fmt.Sprintf("%d/%d file(s) are renamed for self-explanatory", stats.Renamed, stats.Total),
		map[string]interface{}{"csv": csvPath})
	return stats, nil
}

// RenameRow applies the rename rule to one table row. It returns false
// without error for rows that are not flagged or whose source is absent.
func RenameRow(row []string, outDir string) (bool, error) {
	if len(row) == 0 {
		return false, nil
	}
	filename := strings.TrimSpace(row[0])
	if strings.TrimSpace(row[len(row)-1]) != "1" {
		return false, nil
	}

	prefix, _, ok := strings.Cut(filename, "_")
	if !ok {
		return false, nil
	}

	dir := filepath.Join(outDir, "camera_"+prefix)
	src := filepath.Join(dir, filename)
	if info, err := os.Stat(src); err != nil || !info.Mode().IsRegular() {
		return false, nil
	}

	ext := filepath.Ext(filename)
	dst := filepath.Join(dir, strings.TrimSuffix(filename, ext)+DefectSuffix+ext)
	if _, err := os.Lstat(dst); err == nil {
		return false, nil
	}

	if err := os.Rename(src, dst); err != nil {
		return false, fmt.Errorf("rename %s: %w", src, err)
	}
	return true, nil
}

// readRawRows returns the data rows without interpreting metric columns
func readRawRows(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open results: %w", err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1

	if _, err := cr.Read(); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	var rows [][]string
	for {
		row, err := cr.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read results: %w", err)
		}
		rows = append(rows, row)
	}
}
