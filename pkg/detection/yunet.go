//go:build gocv

package detection

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// YuNetDetector uses OpenCV's FaceDetectorYN for face detection
type YuNetDetector struct {
	detector gocv.FaceDetectorYN
	config   Config
	mu       sync.Mutex // Protects inference
}

// NewYuNet creates a YuNet face detector from the ONNX model at cfg.ModelPath
func NewYuNet(cfg Config) (Detector, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}

	// input size is updated per image
	detector := gocv.NewFaceDetectorYNWithParams(
		cfg.ModelPath,
		"",
		image.Pt(320, 320),
		float32(max(cfg.Threshold(), 0)),
		0.3,  // NMS threshold
		5000, // Top K
		int(gocv.NetBackendDefault),
		int(gocv.NetTargetCPU),
	)

	return &YuNetDetector{detector: detector, config: cfg}, nil
}

// Detect finds faces in img
func (d *YuNetDetector) Detect(ctx context.Context, img image.Image) ([]Face, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src, scale := downscale(img, d.config.MaxInputDim)
	mat, err := gocv.ImageToMatRGB(src)
	if err != nil {
		return nil, fmt.Errorf("convert image: %w", err)
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.detector.SetInputSize(image.Pt(mat.Cols(), mat.Rows()))

	faces := gocv.NewMat()
	defer faces.Close()
	d.detector.Detect(mat, &faces)

	// rows: x, y, w, h, 5 landmark pairs, score
	out := make([]Face, 0, faces.Rows())
	for r := 0; r < faces.Rows(); r++ {
		out = append(out, Face{
			X:     float64(faces.GetFloatAt(r, 0)) / scale,
			Y:     float64(faces.GetFloatAt(r, 1)) / scale,
			W:     float64(faces.GetFloatAt(r, 2)) / scale,
			H:     float64(faces.GetFloatAt(r, 3)) / scale,
			Score: float64(faces.GetFloatAt(r, 14)),
		})
	}
	return filter(out, d.config.Threshold()), nil
}

// Close releases the detector resources
func (d *YuNetDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.detector.Close()
	return nil
}
