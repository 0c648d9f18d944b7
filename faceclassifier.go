// Package faceclassifier finds a face in camera frames and labels it with a
// vision model.
//
// Every frame is mapped into a fixed crop canvas by an affine transform that
// undoes the sensor rotation and scales the frame to fill (or stretch into)
// the crop. A face detector runs on the crop, the best face box is clamped to
// the classifier input size and the face image is handed to a classifier
// backend (Ollama or a llama.cpp server).
//
// Basic usage:
//
//	fc, err := faceclassifier.New(detection.DefaultConfig(), classifier.DefaultOptions())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer fc.Close()
//
//	res, err := fc.ClassifyFile(context.Background(), "frame.jpg", 90)
//	if err != nil {
//		log.Fatal(err)
//	}
//	for _, r := range res.Recognitions {
//		fmt.Println(r)
//	}
//
// The package consists of these components:
//
//  1. Geometry (pkg/geometry): frame-to-crop transforms and face box clamping
//  2. Detection (pkg/detection): pigo and YuNet face detectors
//  3. Recognizer (pkg/recognizer): classifier backends and hot swapping
//  4. Pipeline (pkg/pipeline): worker pool with drop-newest backpressure
//  5. Web (pkg/web): HTTP and websocket front-end
package faceclassifier

import (
	"context"
	"fmt"
	"image"

	"github.com/menta2k/face-classifier/pkg/classifier"
	"github.com/menta2k/face-classifier/pkg/client"
	"github.com/menta2k/face-classifier/pkg/detection"
	"github.com/menta2k/face-classifier/pkg/frame"
	"github.com/menta2k/face-classifier/pkg/pipeline"
	"github.com/menta2k/face-classifier/pkg/processing"
	"github.com/menta2k/face-classifier/pkg/recognizer"
)

// Version of the face classifier library
const Version = "1.0.0"

// FaceClassifier is a synchronous front-end over a pipeline
type FaceClassifier struct {
	pipeline   *pipeline.Pipeline
	detector   detection.Detector
	classifier client.Classifier
	proc       *processing.Processor
}

// New creates a FaceClassifier with the default pipeline settings
func New(dc detection.Config, opts classifier.Options) (*FaceClassifier, error) {
	return NewWithConfig(pipeline.DefaultConfig(), dc, opts)
}

// NewWithConfig creates a FaceClassifier from explicit settings
func NewWithConfig(pc pipeline.Config, dc detection.Config, opts classifier.Options) (*FaceClassifier, error) {
	det, err := detection.New(dc)
	if err != nil {
		return nil, fmt.Errorf("create detector: %w", err)
	}

	cls, err := recognizer.New(opts)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("create classifier: %w", err)
	}

	fc, err := NewWithComponents(pc, det, cls)
	if err != nil {
		det.Close()
		cls.Close()
		return nil, err
	}
	return fc, nil
}

// NewWithComponents wires caller-supplied detector and classifier
func NewWithComponents(pc pipeline.Config, det detection.Detector, cls client.Classifier) (*FaceClassifier, error) {
	p, err := pipeline.New(pc, det, cls)
	if err != nil {
		return nil, err
	}
	return &FaceClassifier{
		pipeline:   p,
		detector:   det,
		classifier: cls,
		proc:       processing.NewProcessor(),
	}, nil
}

// Pipeline returns the underlying pipeline for streaming use
func (fc *FaceClassifier) Pipeline() *pipeline.Pipeline {
	return fc.pipeline
}

// ClassifyImage runs one image through the pipeline. rotation is the sensor
// rotation in degrees, a multiple of 90.
func (fc *FaceClassifier) ClassifyImage(ctx context.Context, img image.Image, rotation int) pipeline.Result {
	return fc.pipeline.ProcessFrame(ctx, frame.FromImage(img, rotation))
}

// ClassifyFile loads an image from a path or URL and classifies it. The
// returned error is the load error or Result.Err.
func (fc *FaceClassifier) ClassifyFile(ctx context.Context, source string, rotation int) (pipeline.Result, error) {
	img, err := fc.proc.LoadImageSmart(source)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("failed to load image: %w", err)
	}
	res := fc.ClassifyImage(ctx, img, rotation)
	return res, res.Err
}

// Close releases the detector and the classifier
func (fc *FaceClassifier) Close() error {
	fc.pipeline.Close()
	derr := fc.detector.Close()
	cerr := fc.classifier.Close()
	if derr != nil {
		return derr
	}
	return cerr
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
