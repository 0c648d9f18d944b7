//go:build !gocv

package detection

// NewYuNet is unavailable without the gocv build tag
func NewYuNet(cfg Config) (Detector, error) {
	return nil, ErrBackendUnavailable
}
