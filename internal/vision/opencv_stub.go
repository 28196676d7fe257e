//go:build !gocv
// +build !gocv

package vision

// OpenCVAvailable reports whether the binary was built with the gocv tag
const OpenCVAvailable = false

// DefaultLoader returns the portable loader
func DefaultLoader() Loader { return StdLoader{} }

// OpenSession always fails without OpenCV
func OpenSession(modelPath string, device int) (Session, error) {
	return nil, ErrOpenCVUnavailable
}
