package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(INFO, true)
	l.SetOutput(&buf)

	l.WithField("job_id", "20240101120000").Info("job started", map[string]interface{}{"images": 12})
	l.Debug("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry LogEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "INFO", entry.Level)
	assert.Equal(t, "job started", entry.Message)
	assert.Equal(t, "20240101120000", entry.Fields["job_id"])
	assert.Equal(t, float64(12), entry.Fields["images"])
}

func TestLoggerTextSortsFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(DEBUG, false)
	l.SetOutput(&buf)

	l.WithFields(map[string]interface{}{"group": "group_2", "gpu": 1}).Warn("worker slow")

	assert.Contains(t, buf.String(), "WARN: worker slow gpu=1 group=group_2")
}

func TestChildSharesSinkNotFields(t *testing.T) {
	var buf bytes.Buffer
	parent := NewLogger(INFO, false)
	parent.SetOutput(&buf)

	child := parent.WithField("group", "group_1")
	parent.Info("parent")
	child.Info("child")

	out := buf.String()
	assert.Contains(t, out, "INFO: parent\n")
	assert.Contains(t, out, "INFO: child group=group_1")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DEBUG},
		{"WARNING", WARN},
		{" error ", ERROR},
		{"bogus", INFO},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestFileLoggerWritesUnderLogDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SDD_LOG_DIR", dir)

	var console bytes.Buffer
	l, err := NewFileLoggerWithConsole("worker", "group_1", INFO, false, &console)
	require.NoError(t, err)
	l.Info("frame batch done")
	require.NoError(t, l.Close())

	path := LogPath("worker", "group_1")
	assert.True(t, strings.HasPrefix(path, dir))
	assert.Contains(t, console.String(), "frame batch done")
}

func TestLogrotateConfig(t *testing.T) {
	cfg := GenerateLogrotateConfig("worker")
	assert.Contains(t, cfg, BaseDir+"/worker/*.log")
	assert.Contains(t, cfg, "sdd-worker")
}
