package detection

import (
	"context"
	"image"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/menta2k/face-classifier/pkg/geometry"
	"github.com/nfnt/resize"
)

func TestFaceGeometry(t *testing.T) {
	f := Face{X: 10, Y: 20, W: 30, H: 40, Score: 0.9}

	x, y := f.Center()
	if x != 25 || y != 40 {
		t.Errorf("Center: got (%.1f, %.1f), want (25, 40)", x, y)
	}
	if f.Area() != 1200 {
		t.Errorf("Area: got %.1f, want 1200", f.Area())
	}
	if f.RawBox() != (geometry.RawBox{X: 10, Y: 20, W: 30, H: 40}) {
		t.Errorf("RawBox: got %+v", f.RawBox())
	}
}

func TestSelectBest(t *testing.T) {
	tests := []struct {
		name   string
		faces  []Face
		expect int // index, -1 for nil
	}{
		{"empty", nil, -1},
		{"single", []Face{{W: 10, H: 10, Score: 0.1}}, 0},
		{"highest score", []Face{
			{W: 100, H: 100, Score: 0.5},
			{W: 10, H: 10, Score: 0.9},
			{W: 50, H: 50, Score: 0.7},
		}, 1},
		{"tie prefers larger", []Face{
			{W: 10, H: 10, Score: 0.8},
			{W: 20, H: 20, Score: 0.8},
		}, 1},
		{"tie same size keeps first", []Face{
			{X: 1, W: 20, H: 20, Score: 0.8},
			{X: 2, W: 20, H: 20, Score: 0.8},
		}, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			best := SelectBest(tc.faces)
			if tc.expect < 0 {
				if best != nil {
					t.Errorf("Expected nil, got %+v", *best)
				}
				return
			}
			if best != &tc.faces[tc.expect] {
				t.Errorf("Expected face %d, got %+v", tc.expect, best)
			}
		})
	}
}

func TestFilter(t *testing.T) {
	faces := []Face{
		{W: 10, H: 10, Score: 6},
		{W: 10, H: 10, Score: 2},
		{W: 0, H: 10, Score: 9},
		{W: 12, H: 12, Score: 5},
	}
	got := filter(faces, 5)
	if len(got) != 2 {
		t.Fatalf("Expected 2 faces, got %d", len(got))
	}
	if got[0].Score != 6 || got[1].Score != 5 {
		t.Errorf("Unexpected faces kept: %+v", got)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Backend = "haar" }},
		{"bad size range", func(c *Config) { c.MinSize = 100; c.MaxSize = 50 }},
		{"bad shift", func(c *Config) { c.ShiftFactor = 1.5 }},
		{"bad scale", func(c *Config) { c.ScaleFactor = 1.0 }},
		{"negative max input", func(c *Config) { c.MaxInputDim = -1 }},
		{"yunet without model", func(c *Config) { c.Backend = BackendYuNet; c.ModelPath = "" }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = "mtcnn"
	if _, err := New(cfg); err == nil || !strings.Contains(err.Error(), "unknown backend") {
		t.Errorf("Expected unknown backend error, got %v", err)
	}
}

func TestNewPigoMissingCascade(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CascadePath = filepath.Join(t.TempDir(), "missing")
	if _, err := NewPigo(cfg); err == nil {
		t.Error("Expected error for missing cascade file")
	}
}

func TestPigoDetectHonoursContext(t *testing.T) {
	d := &PigoDetector{config: DefaultConfig()}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := d.Detect(ctx, image.NewRGBA(image.Rect(0, 0, 10, 10))); err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestDownscale(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1280, 960))

	out, scale := downscale(img, 640)
	if out.Bounds().Dx() != 640 || out.Bounds().Dy() != 480 {
		t.Errorf("Expected 640x480, got %v", out.Bounds())
	}
	if scale != 0.5 {
		t.Errorf("Expected scale 0.5, got %v", scale)
	}

	out, scale = downscale(img, 0)
	if out != image.Image(img) || scale != 1 {
		t.Error("maxDim 0 should return the input unchanged")
	}

	small := image.NewRGBA(image.Rect(0, 0, 100, 80))
	if out, scale := downscale(small, 640); out != image.Image(small) || scale != 1 {
		t.Error("Small inputs should not be resized")
	}
}

func TestThresholdPerBackend(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		score   float64
		want    float64
	}{
		{"pigo default", BackendPigo, 0, DefaultPigoScore},
		{"yunet default", BackendYuNet, 0, DefaultYuNetScore},
		{"yunet upper case", "YuNet", 0, DefaultYuNetScore},
		{"explicit", BackendYuNet, 0.8, 0.8},
		{"disabled", BackendPigo, -1, math.Inf(-1)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Config{Backend: tc.backend, ScoreThreshold: tc.score}
			if got := cfg.Threshold(); got != tc.want {
				t.Errorf("Threshold() = %v, want %v", got, tc.want)
			}
		})
	}

	// yunet scores are 0-1, a pigo-scale default would drop every face
	faces := []Face{{W: 10, H: 10, Score: 0.92}, {W: 10, H: 10, Score: 0.3}}
	got := filter(faces, Config{Backend: BackendYuNet}.Threshold())
	if len(got) != 1 || got[0].Score != 0.92 {
		t.Errorf("Expected only the confident yunet face, got %+v", got)
	}
}

func TestNewPigoBuiltinCascade(t *testing.T) {
	d, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New with the built-in cascade failed: %v", err)
	}
	defer d.Close()

	faces, err := d.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 200, 200)))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	for _, f := range faces {
		if f.Score < DefaultPigoScore {
			t.Errorf("Face under the default threshold was kept: %+v", f)
		}
	}
}

func loadFace(t *testing.T) image.Image {
	t.Helper()
	f, err := os.Open(filepath.Join("testdata", "face.jpg"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := jpeg.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	return img
}

func faceTestConfig() Config {
	cfg := DefaultConfig()
	cfg.MinSize = 20
	cfg.ShiftFactor = 0.2
	cfg.IoUThreshold = 0.1
	cfg.ScoreThreshold = -1
	return cfg
}

func TestPigoDetectFace(t *testing.T) {
	d, err := NewPigo(faceTestConfig())
	if err != nil {
		t.Fatal(err)
	}

	img := loadFace(t)
	faces, err := d.Detect(context.Background(), img)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	best := SelectBest(faces)
	if best == nil {
		t.Fatal("Expected a face in the sample portrait")
	}

	b := img.Bounds()
	cx, cy := best.Center()
	if cx < 0 || cy < 0 || cx > float64(b.Dx()) || cy > float64(b.Dy()) {
		t.Errorf("Face centre (%.1f,%.1f) outside the %dx%d image", cx, cy, b.Dx(), b.Dy())
	}
	if best.W <= 0 || best.W != best.H || best.W > float64(max(b.Dx(), b.Dy())) {
		t.Errorf("Unexpected face size %.1fx%.1f", best.W, best.H)
	}

	box, err := geometry.ClampDetectionBox(best.RawBox(), b.Dx(), b.Dy(), 224)
	if err != nil {
		t.Fatalf("Face box does not intersect the image: %v", err)
	}
	if box.Width() == 0 || box.Height() == 0 {
		t.Errorf("Empty face box %s", box)
	}
}

func TestPigoDetectScalesBoxesBack(t *testing.T) {
	img := loadFace(t)
	d, err := NewPigo(faceTestConfig())
	if err != nil {
		t.Fatal(err)
	}
	ref := SelectBest(mustDetect(t, d, img))
	if ref == nil {
		t.Fatal("Expected a face in the sample portrait")
	}

	// twice the size, detected at the original resolution
	b := img.Bounds()
	big := resize.Resize(uint(2*b.Dx()), uint(2*b.Dy()), img, resize.Bilinear)
	cfg := faceTestConfig()
	cfg.MaxInputDim = max(b.Dx(), b.Dy())
	d, err = NewPigo(cfg)
	if err != nil {
		t.Fatal(err)
	}
	got := SelectBest(mustDetect(t, d, big))
	if got == nil {
		t.Fatal("Expected a face in the enlarged portrait")
	}

	rx, ry := ref.Center()
	gx, gy := got.Center()
	tol := ref.W / 2
	if math.Abs(gx-2*rx) > tol || math.Abs(gy-2*ry) > tol {
		t.Errorf("Face centre (%.1f,%.1f) not near (%.1f,%.1f) in the enlarged image", gx, gy, 2*rx, 2*ry)
	}
	if got.W < ref.W {
		t.Errorf("Face side %.1f should scale up from %.1f", got.W, ref.W)
	}
}

func mustDetect(t *testing.T, d Detector, img image.Image) []Face {
	t.Helper()
	faces, err := d.Detect(context.Background(), img)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	return faces
}
