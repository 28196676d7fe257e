package cmd

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/sdd-inspector/internal/vision"
	"github.com/psantana5/sdd-inspector/pkg/models"
	"github.com/psantana5/sdd-inspector/pkg/results"
)

func TestParseCams(t *testing.T) {
	tests := []struct {
		in      string
		want    []int
		wantErr bool
	}{
		{"3,8", []int{3, 8}, false},
		{" 1 , 6 ,", []int{1, 6}, false},
		{"5", []int{5}, false},
		{"", nil, true},
		{"3,x", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseCams(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBaseURL(t *testing.T) {
	t.Cleanup(func() { apiURL = "" })

	apiURL = "http://inspector:8090/"
	got, err := baseURL()
	require.NoError(t, err)
	assert.Equal(t, "http://inspector:8090", got)
}

func TestResultsShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "20250401182801_350x350.csv")
	require.NoError(t, results.WriteCSV(path, []models.MetricRecord{
		{Filename: "3_0001.jpg", CameraID: 3, Result: 0},
		{Filename: "3_0002.jpg", CameraID: 3, Result: 1},
		models.QuarantineRecord("8_0001.jpg", 8),
	}))

	rootCmd.SetArgs([]string{"results", "show", path})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	assert.NoError(t, rootCmd.Execute())

	rootCmd.SetArgs([]string{"results", "show", filepath.Join(t.TempDir(), "missing.csv")})
	assert.Error(t, rootCmd.Execute())
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"serve"}, {"worker"}, {"run"}, {"rename"}, {"results", "show"},
		{"jobs", "list"}, {"jobs", "get"}, {"config", "show"}, {"config", "validate"},
		{"hardware"}, {"logs", "logrotate"}, {"status"}, {"product"}, {"submit"}, {"metrics"},
	} {
		cmd, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestInferenceCommandsRefuseWithoutOpenCV(t *testing.T) {
	if vision.OpenCVAvailable {
		assert.NoError(t, requireInference())
		t.Skip("built with gocv")
	}
	tests := []struct {
		name string
		run  func() error
	}{
		{"serve", func() error { return runServe(serveCmd, nil) }},
		{"run", func() error { return runOnce(runCmd, nil) }},
		{"worker", func() error { return runWorker(workerCmd, nil) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			require.ErrorIs(t, err, vision.ErrOpenCVUnavailable)
			assert.Contains(t, err.Error(), "-tags gocv")
		})
	}
}
