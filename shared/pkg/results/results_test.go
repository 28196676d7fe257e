package results

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/sdd-inspector/pkg/models"
)

func sampleRecords() []models.MetricRecord {
	return []models.MetricRecord{
		{Filename: "3_0001.jpg", CameraID: 3, MAE: 0.0125, SSIM: 0.91, GradMAE: 0.02, LaplacianDiff: 1e-05, PixelSum: 240, Result: 1},
		{Filename: "3_0002.jpg", CameraID: 3, MAE: 0.01, SSIM: 0.95, GradMAE: 0.01, LaplacianDiff: 0.0001, PixelSum: 0, Result: 0},
		models.QuarantineRecord("8_0003.jpg", 8),
	}
}

func TestEncodeFormat(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, sampleRecords()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "filename,MAE,SSIM,Grad_MAE,Laplacian_Diff,Pixel_Sum,result", lines[0])
	assert.Equal(t, "3_0001.jpg,0.0125,0.91,0.02,1e-05,240,1", lines[1])
	assert.Equal(t, "3_0002.jpg,0.01,0.95,0.01,0.0001,0,0", lines[2])
	assert.Equal(t, "8_0003.jpg,nan,nan,nan,nan,nan,-1", lines[3])
}

func TestWriteReadRoundTripKeepsOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", FileName)
	in := sampleRecords()
	require.NoError(t, WriteCSV(path, in))

	out, err := ReadCSV(path)
	require.NoError(t, err)
	require.Len(t, out, len(in))
	for i := range in {
		assert.Equal(t, in[i].Filename, out[i].Filename)
		assert.Equal(t, in[i].Result, out[i].Result)
		assert.Equal(t, in[i].CameraID, out[i].CameraID)
	}
	assert.True(t, math.IsNaN(out[2].MAE))

	s := Summarize(out)
	assert.Equal(t, Summary{Total: 3, Normal: 1, Defects: 1, Quarantined: 1, PerCamera: map[int]int{3: 1}}, s)
}

func TestDecodeRejectsBadHeader(t *testing.T) {
	_, err := Decode(strings.NewReader("a,b,c,d,e,f,g\n"))
	assert.Error(t, err)
}

func TestCameraID(t *testing.T) {
	tests := []struct {
		name string
		id   int
		ok   bool
	}{
		{"3_0001.jpg", 3, true},
		{"10_a_b.jpg", 10, true},
		{"noprefix.jpg", 0, false},
		{"cam_1.jpg", 0, false},
	}
	for _, tt := range tests {
		id, ok := CameraID(tt.name)
		if id != tt.id || ok != tt.ok {
			t.Errorf("CameraID(%q) = %d,%v want %d,%v", tt.name, id, ok, tt.id, tt.ok)
		}
	}
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("img"), 0644))
}

func TestRenamerIsIdempotent(t *testing.T) {
	out := t.TempDir()
	csvPath := filepath.Join(out, FileName)

	records := []models.MetricRecord{
		{Filename: "3_0001.jpg", Result: 1, PixelSum: 300},
		{Filename: "3_0002.jpg", Result: 0},
		{Filename: "8_0003.jpeg", Result: 1, PixelSum: 120},
		{Filename: "8_missing.jpg", Result: 1, PixelSum: 120},
		{Filename: "nounderscore.jpg", Result: 1, PixelSum: 120},
		models.QuarantineRecord("3_0004.jpg", 3),
	}
	require.NoError(t, WriteCSV(csvPath, records))
	touch(t, filepath.Join(out, "camera_3", "3_0001.jpg"))
	touch(t, filepath.Join(out, "camera_3", "3_0002.jpg"))
	touch(t, filepath.Join(out, "camera_8", "8_0003.jpeg"))

	r := NewRenamer(nil)
	stats, err := r.Rename(context.Background(), csvPath, out)
	require.NoError(t, err)
	assert.Equal(t, RenameStats{Renamed: 2, Total: 6}, stats)

	assert.FileExists(t, filepath.Join(out, "camera_3", "3_0001_x.jpg"))
	assert.FileExists(t, filepath.Join(out, "camera_8", "8_0003_x.jpeg"))
	assert.FileExists(t, filepath.Join(out, "camera_3", "3_0002.jpg"))
	assert.NoFileExists(t, filepath.Join(out, "camera_3", "3_0001.jpg"))

	again, err := r.Rename(context.Background(), csvPath, out)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Renamed)
}

func TestRenameRowKeepsExistingDestination(t *testing.T) {
	out := t.TempDir()
	touch(t, filepath.Join(out, "camera_5", "5_1.jpg"))
	touch(t, filepath.Join(out, "camera_5", "5_1_x.jpg"))

	ok, err := RenameRow([]string{"5_1.jpg", "0.1", "1"}, out)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.FileExists(t, filepath.Join(out, "camera_5", "5_1.jpg"))
}

func TestRenameMissingCSV(t *testing.T) {
	_, err := NewRenamer(nil).Rename(context.Background(), filepath.Join(t.TempDir(), "none.csv"), t.TempDir())
	assert.Error(t, err)
}
