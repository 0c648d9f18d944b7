package pipeline

import (
	"context"
	"errors"
	"image"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/menta2k/face-classifier/pkg/detection"
	"github.com/menta2k/face-classifier/pkg/frame"
	"github.com/menta2k/face-classifier/pkg/geometry"
	"github.com/menta2k/face-classifier/pkg/types"
)

type fakeDetector struct {
	faces []detection.Face
	err   error
	calls atomic.Int32
}

func (d *fakeDetector) Detect(ctx context.Context, img image.Image) ([]detection.Face, error) {
	d.calls.Add(1)
	if d.err != nil {
		return nil, d.err
	}
	out := make([]detection.Face, len(d.faces))
	copy(out, d.faces)
	return out, nil
}

func (d *fakeDetector) Close() error { return nil }

type fakeClassifier struct {
	err   error
	delay time.Duration
	calls atomic.Int32

	mu      sync.Mutex
	lastDim image.Point
}

func (c *fakeClassifier) Classify(ctx context.Context, img image.Image) (*types.ClassificationResult, error) {
	c.calls.Add(1)
	c.mu.Lock()
	c.lastDim = img.Bounds().Size()
	c.mu.Unlock()
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.err != nil {
		return nil, c.err
	}
	return &types.ClassificationResult{
		Recognitions: []types.Recognition{{Label: "smiling", Confidence: 0.8}},
		Model:        "fake",
	}, nil
}

func (c *fakeClassifier) Close() error { return nil }

func testFrame(rotation int) frame.Frame {
	return frame.New(640, 480, frame.RGB24, make([]byte, 640*480*3), rotation)
}

func bigFace() []detection.Face {
	return []detection.Face{
		{X: 200, Y: 200, W: 50, H: 50, Score: 0.4},
		{X: 10, Y: 10, W: 300, H: 300, Score: 0.9},
	}
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func newTestPipeline(t *testing.T, cfg Config, det *fakeDetector, cls *fakeClassifier) *Pipeline {
	t.Helper()
	p, err := New(cfg, det, cls)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return p
}

func TestProcessFrameClassifiesBestFace(t *testing.T) {
	det := &fakeDetector{faces: bigFace()}
	cls := &fakeClassifier{}
	p := newTestPipeline(t, DefaultConfig(), det, cls)

	res := p.ProcessFrame(context.Background(), testFrame(90))
	if res.Err != nil {
		t.Fatalf("Unexpected error: %v", res.Err)
	}
	if !res.Detected {
		t.Fatal("Expected a detection")
	}

	want := geometry.DetectionBox{X1: 10, Y1: 10, X2: 234, Y2: 234}
	if res.Box != want {
		t.Errorf("Expected box %v, got %v", want, res.Box)
	}
	if res.FaceScore != 0.9 {
		t.Errorf("Expected the higher scoring face, got score %v", res.FaceScore)
	}
	if cls.lastDim != (image.Point{224, 224}) {
		t.Errorf("Classifier should get the 224x224 face, got %v", cls.lastDim)
	}
	if len(res.Recognitions) != 1 || res.Model != "fake" {
		t.Errorf("Unexpected recognitions %v from %q", res.Recognitions, res.Model)
	}

	d := res.Diagnostics
	if d.FrameSize != "640x480" || d.CropSize != "224x224" || d.CameraResolution != "480x640" || d.Rotation != 90 {
		t.Errorf("Unexpected diagnostics %+v", d)
	}
	if !strings.HasSuffix(d.InferenceTime, "ms") {
		t.Errorf("Expected inference time in ms, got %q", d.InferenceTime)
	}

	// 640x480 rotated 90 into 480x640 has scale 1: frame (u, v) = (y, 480 - x)
	fb := res.FrameBox
	if !near(fb.X1, 10) || !near(fb.Y1, 246) || !near(fb.X2, 234) || !near(fb.Y2, 470) {
		t.Errorf("Unexpected frame box %+v", fb)
	}

	s := p.Stats()
	if s.Processed != 1 || s.Classified != 1 || s.FreeBuffers != 2 {
		t.Errorf("Unexpected stats %+v", s)
	}
}

func TestProcessFrameNoFace(t *testing.T) {
	cls := &fakeClassifier{}
	p := newTestPipeline(t, DefaultConfig(), &fakeDetector{}, cls)

	res := p.ProcessFrame(context.Background(), testFrame(0))
	if res.Detected || res.Err != nil {
		t.Errorf("Expected no detection without error, got %+v", res)
	}
	if res.Diagnostics.CropSize != "?x?" || res.Diagnostics.InferenceTime != "NAN" {
		t.Errorf("Unexpected placeholders %+v", res.Diagnostics)
	}
	if cls.calls.Load() != 0 {
		t.Error("Classifier must not run without a face")
	}
	if p.Stats().NoDetection != 1 {
		t.Errorf("Expected 1 no-detection, got %+v", p.Stats())
	}
}

func TestProcessFrameFaceOutsideCrop(t *testing.T) {
	det := &fakeDetector{faces: []detection.Face{{X: 900, Y: 10, W: 50, H: 50, Score: 1}}}
	cls := &fakeClassifier{}
	p := newTestPipeline(t, DefaultConfig(), det, cls)

	res := p.ProcessFrame(context.Background(), testFrame(0))
	if res.Detected || res.Err != nil {
		t.Errorf("A box outside the crop is not an error, got %+v", res)
	}
	if cls.calls.Load() != 0 {
		t.Error("Classifier must not run for an empty box")
	}
}

func TestProcessFrameErrors(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name   string
		frame  frame.Frame
		det    *fakeDetector
		cls    *fakeClassifier
		target error
	}{
		{"classifier", testFrame(0), &fakeDetector{faces: bigFace()}, &fakeClassifier{err: boom}, boom},
		{"detector", testFrame(0), &fakeDetector{err: boom}, &fakeClassifier{}, boom},
		{"rotation", testFrame(45), &fakeDetector{faces: bigFace()}, &fakeClassifier{}, geometry.ErrInvalidRotation},
		{"frame", frame.New(4, 4, frame.RGB24, make([]byte, 3), 0), &fakeDetector{}, &fakeClassifier{}, frame.ErrInvalidFrame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPipeline(t, DefaultConfig(), tt.det, tt.cls)
			res := p.ProcessFrame(context.Background(), tt.frame)
			if !errors.Is(res.Err, tt.target) {
				t.Errorf("Expected %v, got %v", tt.target, res.Err)
			}
			if res.Error == "" {
				t.Error("Error text should be set for display")
			}
			if p.Stats().Failed != 1 {
				t.Errorf("Expected 1 failure, got %+v", p.Stats())
			}
			if p.Stats().FreeBuffers != 2 {
				t.Error("Crop buffer leaked")
			}
		})
	}
}

func TestProcessFrameKeepImages(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KeepImages = true
	p := newTestPipeline(t, cfg, &fakeDetector{faces: bigFace()}, &fakeClassifier{})

	res := p.ProcessFrame(context.Background(), testFrame(90))
	if res.Crop == nil || res.Crop.Bounds().Size() != (image.Point{480, 640}) {
		t.Errorf("Expected 480x640 crop, got %v", res.Crop)
	}
	if res.Face == nil || res.Face.Bounds().Dx() != 224 {
		t.Errorf("Expected 224 wide face, got %v", res.Face)
	}
}

func TestGeometryCache(t *testing.T) {
	p := newTestPipeline(t, DefaultConfig(), &fakeDetector{}, &fakeClassifier{})

	a, err := p.geometry(640, 480, 90)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := p.geometry(640, 480, 90)
	if a != b {
		t.Error("Expected the cached setup to be reused")
	}
	c, _ := p.geometry(640, 480, 270)
	if c == a {
		t.Error("Rotation change should rebuild the setup")
	}
}

func TestSubmitDropsWhenBusy(t *testing.T) {
	p := newTestPipeline(t, DefaultConfig(), &fakeDetector{}, &fakeClassifier{})

	first := testFrame(0)
	if err := p.Submit(first); err != nil {
		t.Fatalf("First submit failed: %v", err)
	}
	if err := p.Submit(testFrame(0)); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy, got %v", err)
	}
	if s := p.Stats(); s.Dropped != 1 || s.Submitted != 2 || s.Queued != 1 {
		t.Errorf("Unexpected stats %+v", s)
	}

	p.Start(context.Background())
	res := <-p.Results()
	if res.FrameSeq != first.Seq {
		t.Errorf("Expected the first frame to survive, got seq %d", res.FrameSeq)
	}
	if res.TaskID == "" {
		t.Error("Task ID should be set")
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, ok := <-p.Results(); ok {
		t.Error("Results should be closed")
	}
	if err := p.Submit(testFrame(0)); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if err := p.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("Second close should report ErrClosed, got %v", err)
	}
}

func TestEnqueueWithWorkers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = 3
	cfg.QueueSize = 2
	cls := &fakeClassifier{delay: 5 * time.Millisecond}
	p := newTestPipeline(t, cfg, &fakeDetector{faces: bigFace()}, cls)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Start(ctx)

	const n = 10
	var got []Result
	done := make(chan struct{})
	go func() {
		for r := range p.Results() {
			got = append(got, r)
		}
		close(done)
	}()

	for i := 0; i < n; i++ {
		if err := p.Enqueue(ctx, testFrame(0)); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}
	p.Close()
	<-done

	if len(got) != n {
		t.Fatalf("Expected %d results, got %d", n, len(got))
	}
	seen := map[string]bool{}
	for _, r := range got {
		if !r.Detected || r.Err != nil {
			t.Errorf("Unexpected result %+v", r)
		}
		seen[r.TaskID] = true
	}
	if len(seen) != n {
		t.Errorf("Expected %d distinct task IDs, got %d", n, len(seen))
	}
	if s := p.Stats(); s.Classified != n || s.FreeBuffers != cfg.Workers+1 {
		t.Errorf("Unexpected stats %+v", s)
	}
}

func TestStartStopsOnContext(t *testing.T) {
	p := newTestPipeline(t, DefaultConfig(), &fakeDetector{}, &fakeClassifier{})
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		if err := p.Submit(testFrame(0)); errors.Is(err, ErrClosed) {
			break
		}
		select {
		case <-deadline:
			t.Fatal("Pipeline did not stop after cancel")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close after cancel failed: %v", err)
	}
}

func TestNewValidates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = 0
	if _, err := New(cfg, &fakeDetector{}, &fakeClassifier{}); err == nil {
		t.Error("Expected error for zero workers")
	}
	if _, err := New(DefaultConfig(), nil, &fakeClassifier{}); err == nil {
		t.Error("Expected error without detector")
	}
}
