// Package pipeline runs frames through crop mapping, face detection and
// classification on a fixed pool of workers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/menta2k/face-classifier/internal/log"
	"github.com/menta2k/face-classifier/pkg/client"
	"github.com/menta2k/face-classifier/pkg/detection"
	"github.com/menta2k/face-classifier/pkg/frame"
	"github.com/menta2k/face-classifier/pkg/geometry"
	"github.com/menta2k/face-classifier/pkg/processing"
)

// Pipeline owns the task queue, the workers and the crop buffers. Per-frame
// state lives in Task and Result values only.
type Pipeline struct {
	cfg        Config
	detector   detection.Detector
	classifier client.Classifier
	proc       *processing.Processor
	pool       *frame.Pool

	setup atomic.Pointer[geometry.Setup]

	tasks   chan Task
	results chan Result
	done    chan struct{}

	mu        sync.RWMutex // guards closed and sends on tasks
	closed    bool
	doneOnce  sync.Once
	closeOnce sync.Once
	started   atomic.Bool
	wg        sync.WaitGroup

	submitted   atomic.Uint64
	processed   atomic.Uint64
	classified  atomic.Uint64
	noDetection atomic.Uint64
	dropped     atomic.Uint64
	failed      atomic.Uint64
}

// New creates a pipeline. Call Start to launch the workers.
func New(cfg Config, det detection.Detector, cls client.Classifier) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if det == nil || cls == nil {
		return nil, fmt.Errorf("pipeline: detector and classifier are required")
	}

	return &Pipeline{
		cfg:        cfg,
		detector:   det,
		classifier: cls,
		proc:       processing.NewProcessor(),
		// one buffer per worker plus one for synchronous callers
		pool:    frame.NewPool(cfg.CropWidth, cfg.CropHeight, cfg.Workers+1),
		tasks:   make(chan Task, cfg.QueueSize),
		results: make(chan Result, cfg.QueueSize+cfg.Workers),
		done:    make(chan struct{}),
	}, nil
}

// Config returns the pipeline configuration
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Start launches the workers. They stop when ctx is done or after Close.
// Results must be consumed, otherwise workers block until ctx is done.
func (p *Pipeline) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	go func() {
		select {
		case <-ctx.Done():
			p.shutdown()
		case <-p.done:
		}
	}()
	log.Info("pipeline started",
		"workers", p.cfg.Workers, "queue", p.cfg.QueueSize,
		"crop", fmt.Sprintf("%dx%d", p.cfg.CropWidth, p.cfg.CropHeight))
}

func (p *Pipeline) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	logger := log.With("worker", id)

	for {
		select {
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			res := p.ProcessFrame(ctx, task.Frame)
			res.TaskID = task.ID
			logger.Debug("frame done",
				"task", task.ID, "seq", res.FrameSeq, "detected", res.Detected,
				"latency", time.Since(task.Submitted), "inference", res.Diagnostics.InferenceTime)

			select {
			case p.results <- res:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Submit queues f without blocking. When the queue is full the frame is
// dropped and ErrBusy returned.
func (p *Pipeline) Submit(f frame.Frame) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	p.submitted.Add(1)
	select {
	case p.tasks <- newTask(f):
		return nil
	default:
		p.dropped.Add(1)
		log.Debug("frame dropped", "seq", f.Seq, "reason", "queue full")
		return ErrBusy
	}
}

// Enqueue queues f, waiting for room in the queue
func (p *Pipeline) Enqueue(ctx context.Context, f frame.Frame) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	p.submitted.Add(1)
	select {
	case p.tasks <- newTask(f):
		return nil
	case <-ctx.Done():
		p.dropped.Add(1)
		return ctx.Err()
	case <-p.done:
		p.dropped.Add(1)
		return ErrClosed
	}
}

func newTask(f frame.Frame) Task {
	return Task{ID: uuid.NewString(), Frame: f, Submitted: time.Now()}
}

// Results delivers one Result per queued frame. It is closed by Close.
func (p *Pipeline) Results() <-chan Result {
	return p.results
}

// Stats returns a snapshot of the counters
func (p *Pipeline) Stats() Stats {
	return Stats{
		Submitted:   p.submitted.Load(),
		Processed:   p.processed.Load(),
		Classified:  p.classified.Load(),
		NoDetection: p.noDetection.Load(),
		Dropped:     p.dropped.Load(),
		Failed:      p.failed.Load(),
		Queued:      len(p.tasks),
		FreeBuffers: p.pool.Available(),
	}
}

// Close stops accepting frames, lets the workers finish the queued ones and
// closes Results.
func (p *Pipeline) Close() error {
	first := false
	p.closeOnce.Do(func() {
		first = true
		p.shutdown()
		p.wg.Wait()
		close(p.results)
	})
	if !first {
		return ErrClosed
	}
	log.Info("pipeline stopped", "stats", p.Stats())
	return nil
}

// shutdown wakes blocked Enqueue calls and closes the task queue
func (p *Pipeline) shutdown() {
	p.doneOnce.Do(func() { close(p.done) })

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.tasks)
}

// ProcessFrame runs one frame synchronously
func (p *Pipeline) ProcessFrame(ctx context.Context, f frame.Frame) Result {
	res := newResult(f, p.cfg.CropWidth, p.cfg.CropHeight)
	p.processed.Add(1)

	src, err := f.Image()
	if err != nil {
		p.failed.Add(1)
		res.fail(err)
		return res
	}

	setup, err := p.geometry(f.Width, f.Height, f.Rotation)
	if err != nil {
		// the camera or crop configuration is wrong, not the frame
		log.Error("geometry setup failed", "frame", f.Size(), "rotation", f.Rotation, "error", err)
		p.failed.Add(1)
		res.fail(err)
		return res
	}

	buf, err := p.pool.Acquire(ctx)
	if err != nil {
		p.failed.Add(1)
		res.fail(fmt.Errorf("acquire crop buffer: %w", err))
		return res
	}
	defer buf.Release()

	p.proc.RenderCrop(buf.Image, src, setup.FrameToCrop)
	if p.cfg.KeepImages {
		res.Crop = imaging.Clone(buf.Image)
	}

	faces, err := p.detector.Detect(ctx, buf.Image)
	if err != nil {
		p.failed.Add(1)
		res.fail(fmt.Errorf("detect: %w", err))
		return res
	}

	best := detection.SelectBest(faces)
	if best == nil {
		p.noDetection.Add(1)
		return res
	}

	box, err := geometry.ClampDetectionBox(best.RawBox(), p.cfg.CropWidth, p.cfg.CropHeight, p.cfg.MaxDetectionDim)
	if errors.Is(err, geometry.ErrEmptyIntersection) {
		p.noDetection.Add(1)
		return res
	}
	if err != nil {
		p.failed.Add(1)
		res.fail(err)
		return res
	}

	face, err := p.proc.ExtractRegion(buf.Image, box)
	if err != nil {
		p.failed.Add(1)
		res.fail(err)
		return res
	}

	res.Detected = true
	res.Box = box
	res.FaceScore = best.Score
	x1, y1, x2, y2 := setup.FrameBox(box)
	res.FrameBox = FrameRect{X1: x1, Y1: y1, X2: x2, Y2: y2}
	res.Diagnostics.CropSize = fmt.Sprintf("%dx%d", box.Width(), box.Height())
	if p.cfg.KeepImages {
		res.Face = face
	}

	start := time.Now()
	cls, err := p.classifier.Classify(ctx, face)
	res.Inference = time.Since(start)
	res.Diagnostics.InferenceTime = fmt.Sprintf("%dms", res.Inference.Milliseconds())
	if err != nil {
		p.failed.Add(1)
		res.fail(fmt.Errorf("classify: %w", err))
		return res
	}

	p.classified.Add(1)
	res.Recognitions = cls.Recognitions
	res.Model = cls.Model
	return res
}

// geometry returns the cached setup, rebuilding it when the frame size or
// rotation changed
func (p *Pipeline) geometry(w, h, rotation int) (*geometry.Setup, error) {
	params := geometry.Params{
		SrcWidth:       w,
		SrcHeight:      h,
		DstWidth:       p.cfg.CropWidth,
		DstHeight:      p.cfg.CropHeight,
		Rotation:       rotation,
		MaintainAspect: p.cfg.MaintainAspect,
	}
	if s := p.setup.Load(); s.Matches(params) {
		return s, nil
	}

	s, err := geometry.NewSetup(params)
	if err != nil {
		return nil, err
	}
	p.setup.Store(s)
	log.Debug("geometry updated", "params", params.String())
	return s, nil
}
