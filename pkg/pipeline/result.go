package pipeline

import (
	"fmt"
	"image"
	"time"

	"github.com/menta2k/face-classifier/pkg/frame"
	"github.com/menta2k/face-classifier/pkg/geometry"
	"github.com/menta2k/face-classifier/pkg/types"
)

// Task is one frame handed to a worker. Its fields are not modified after
// submission.
type Task struct {
	ID        string
	Frame     frame.Frame
	Submitted time.Time
}

// Diagnostics are the display strings shown next to the recognitions
type Diagnostics struct {
	FrameSize        string `json:"frame_size"`
	CropSize         string `json:"crop_size"`
	CameraResolution string `json:"camera_resolution"`
	Rotation         int    `json:"rotation"`
	InferenceTime    string `json:"inference_time"`
}

// FrameRect is a face box mapped back into frame pixels
type FrameRect struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Result is the outcome of one frame
type Result struct {
	TaskID   string    `json:"task_id"`
	FrameSeq uint64    `json:"frame_seq"`
	FrameID  string    `json:"frame_id"`
	Captured time.Time `json:"captured"`

	// Detected is false when no face was found or the face box fell
	// outside the crop
	Detected  bool                  `json:"detected"`
	Box       geometry.DetectionBox `json:"box"`
	FrameBox  FrameRect             `json:"frame_box"`
	FaceScore float64               `json:"face_score,omitempty"`

	Recognitions []types.Recognition `json:"recognitions"`
	Model        string              `json:"model,omitempty"`

	Diagnostics Diagnostics   `json:"diagnostics"`
	Inference   time.Duration `json:"-"`

	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`

	// Set only with Config.KeepImages
	Crop image.Image `json:"-"`
	Face image.Image `json:"-"`
}

func newResult(f frame.Frame, cropW, cropH int) Result {
	return Result{
		FrameSeq: f.Seq,
		FrameID:  f.ID,
		Captured: f.Timestamp,
		Diagnostics: Diagnostics{
			FrameSize:        f.Size(),
			CropSize:         "?x?",
			CameraResolution: fmt.Sprintf("%dx%d", cropW, cropH),
			Rotation:         f.Rotation,
			InferenceTime:    "NAN",
		},
	}
}

func (r *Result) fail(err error) {
	r.Err = err
	r.Error = err.Error()
}

// Stats are pipeline counters since New
type Stats struct {
	Submitted   uint64 `json:"submitted"`
	Processed   uint64 `json:"processed"`
	Classified  uint64 `json:"classified"`
	NoDetection uint64 `json:"no_detection"`
	Dropped     uint64 `json:"dropped"`
	Failed      uint64 `json:"failed"`
	Queued      int    `json:"queued"`
	FreeBuffers int    `json:"free_buffers"`
}
