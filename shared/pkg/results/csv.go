// Package results persists the per-image result table of a job and applies
// the post-job defect renaming.
package results

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/psantana5/sdd-inspector/pkg/models"
)

// Header is the first row of every result table
var Header = []string{"filename", "MAE", "SSIM", "Grad_MAE", "Laplacian_Diff", "Pixel_Sum", "result"}

// FileName is the table name inside a job's output directory
const FileName = "result.csv"

// WriteCSV writes the records in the given order, creating parent directories.
// The file is written to a temp name and renamed so readers never see a partial table.
func WriteCSV(path string, records []models.MetricRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create results directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".result-*.csv")
	if err != nil {
		return fmt.Errorf("failed to create results file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, records); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close results file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move results file into place: %w", err)
	}
	return nil
}

// Encode writes the header and one row per record
func Encode(w io.Writer, records []models.MetricRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, r := range records {
		if err := cw.Write(Row(r)); err != nil {
			return fmt.Errorf("failed to write row for %s: %w", r.Filename, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Row renders a record as table cells
func Row(r models.MetricRecord) []string {
	pix := "nan"
	if !math.IsNaN(r.PixelSum) {
		pix = strconv.FormatInt(int64(r.PixelSum), 10)
	}
	return []string{
		r.Filename,
		formatFloat(r.MAE),
		formatFloat(r.SSIM),
		formatFloat(r.GradMAE),
		formatFloat(r.LaplacianDiff),
		pix,
		strconv.Itoa(int(r.Result)),
	}
}

func formatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ReadCSV parses a result table back into records. CameraID is recovered
// from the filename prefix and is 0 when the name has none.
func ReadCSV(path string) ([]models.MetricRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open results: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads a table produced by Encode
func Decode(r io.Reader) ([]models.MetricRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)

	head, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if strings.Join(head, ",") != strings.Join(Header, ",") {
		return nil, fmt.Errorf("unexpected header %v", head)
	}

	var out []models.MetricRecord
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rec, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, rec)
	}
}

func parseRow(row []string) (models.MetricRecord, error) {
	rec := models.MetricRecord{Filename: strings.TrimSpace(row[0])}
	rec.CameraID, _ = CameraID(rec.Filename)

	targets := []*float64{&rec.MAE, &rec.SSIM, &rec.GradMAE, &rec.LaplacianDiff, &rec.PixelSum}
	for i, dst := range targets {
		v, err := strconv.ParseFloat(strings.TrimSpace(row[i+1]), 64)
		if err != nil {
			return rec, fmt.Errorf("column %s: %w", Header[i+1], err)
		}
		*dst = v
	}

	res, err := strconv.ParseInt(strings.TrimSpace(row[6]), 10, 8)
	if err != nil {
		return rec, fmt.Errorf("column result: %w", err)
	}
	rec.Result = int8(res)
	return rec, nil
}

// CameraID returns the numeric prefix before the first underscore
func CameraID(filename string) (int, bool) {
	prefix, _, ok := strings.Cut(filepath.Base(filename), "_")
	if !ok {
		return 0, false
	}
	id, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Summary counts a table's outcomes
type Summary struct {
	Total       int         `json:"total" yaml:"total"`
	Normal      int         `json:"normal" yaml:"normal"`
	Defects     int         `json:"defects" yaml:"defects"`
	Quarantined int         `json:"quarantined" yaml:"quarantined"`
	PerCamera   map[int]int `json:"defects_per_camera,omitempty" yaml:"defects_per_camera,omitempty"`
}

// Summarize tallies records by result
func Summarize(records []models.MetricRecord) Summary {
	s := Summary{Total: len(records), PerCamera: make(map[int]int)}
	for _, r := range records {
		switch r.Result {
		case models.ResultDefect:
			s.Defects++
			s.PerCamera[r.CameraID]++
		case models.ResultQuarantine:
			s.Quarantined++
		default:
			s.Normal++
		}
	}
	return s
}
