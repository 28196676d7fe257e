//go:build gocv && !cuda
// +build gocv,!cuda

package vision

import "fmt"

// selectDevice without the cuda tag can only use the default device. Child
// workers are pinned with CUDA_VISIBLE_DEVICES and always ask for 0.
func selectDevice(device int) error {
	if device != 0 {
		return fmt.Errorf("cuda device %d needs a build with -tags gocv,cuda", device)
	}
	return nil
}
