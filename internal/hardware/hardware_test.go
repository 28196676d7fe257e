package hardware

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/sdd-inspector/pkg/resources"
)

const twoGPUs = `0, NVIDIA RTX A4000, 16376
1, NVIDIA RTX A4000, 16376
`

func fixed(out string, err error) func(context.Context) ([]byte, error) {
	return func(context.Context) ([]byte, error) { return []byte(out), err }
}

func TestParseGPUs(t *testing.T) {
	tests := []struct {
		name    string
		out     string
		want    []GPU
		wantErr bool
	}{
		{
			name: "two devices",
			out:  twoGPUs,
			want: []GPU{{0, "NVIDIA RTX A4000", 16376}, {1, "NVIDIA RTX A4000", 16376}},
		},
		{
			name: "memory not available",
			out:  "0, Jetson, [N/A]\n",
			want: []GPU{{0, "Jetson", 0}},
		},
		{
			name: "comma in name",
			out:  "2, Tesla T4, rev A, 15360\n",
			want: []GPU{{2, "Tesla T4, rev A", 15360}},
		},
		{name: "empty", out: "\n"},
		{name: "bad index", out: "x, GPU, 100\n", wantErr: true},
		{name: "short line", out: "0\n", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseGPUs([]byte(tt.out))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRegisterFeedsResourceManager(t *testing.T) {
	p := &Detector{QueryGPUs: fixed(twoGPUs, nil)}
	m := resources.NewManager()

	n, err := p.Register(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, m.Detected())
	assert.Len(t, m.Snapshot(), 2)
}

func TestRegisterWithoutNvidiaSMI(t *testing.T) {
	p := &Detector{QueryGPUs: fixed("", errors.New("executable file not found in $PATH"))}
	m := resources.NewManager()

	_, err := p.Register(context.Background(), m)
	assert.Error(t, err)
	assert.False(t, m.Detected())
}

func TestDetect(t *testing.T) {
	p := &Detector{QueryGPUs: fixed(twoGPUs, nil)}
	dir := t.TempDir()

	info := p.Detect(context.Background(), dir, "/does/not/exist")
	assert.Positive(t, info.CPUThreads)
	assert.NotEmpty(t, info.OS)
	assert.Len(t, info.GPUs, 2)
	require.Len(t, info.Disks, 1)
	assert.Equal(t, dir, info.Disks[0].Path)
	assert.Positive(t, info.Disks[0].TotalBytes)
}
