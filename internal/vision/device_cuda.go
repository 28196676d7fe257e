//go:build gocv && cuda
// +build gocv,cuda

package vision

import (
	"fmt"

	"gocv.io/x/gocv/cuda"
)

// selectDevice makes device current for the calling OS thread
func selectDevice(device int) error {
	if n := cuda.GetCudaEnabledDeviceCount(); device >= n {
		return fmt.Errorf("cuda device %d not available, %d visible", device, n)
	}
	cuda.SetDevice(device)
	return nil
}
