package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	stdlog "log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	faceclassifier "github.com/menta2k/face-classifier"
	"github.com/menta2k/face-classifier/internal/config"
	"github.com/menta2k/face-classifier/internal/log"
	"github.com/menta2k/face-classifier/internal/utils"
	"github.com/menta2k/face-classifier/pkg/detection"
	"github.com/menta2k/face-classifier/pkg/frame"
	"github.com/menta2k/face-classifier/pkg/pipeline"
	"github.com/menta2k/face-classifier/pkg/processing"
	"github.com/menta2k/face-classifier/pkg/recognizer"
	"github.com/menta2k/face-classifier/pkg/types"
	"github.com/menta2k/face-classifier/pkg/web"
)

func main() {
	var fl cliFlags
	fl.register(flag.CommandLine)
	flag.Parse()

	cfg, cfgFile, err := loadConfig(fl.configPath)
	if err != nil {
		stdlog.Fatalf("Failed to load config: %v", err)
	}

	// explicit flags win over the config file
	if err := fl.apply(cfg, flag.CommandLine); err != nil {
		stdlog.Fatal(err)
	}

	if err := cfg.Validate(); err != nil {
		stdlog.Fatalf("Invalid configuration: %v", err)
	}

	if fl.saveConfig {
		configPath := fl.configPath
		if configPath == "" {
			configPath = config.GetConfigPath()
		}
		if err := utils.EnsureDir(filepath.Dir(configPath)); err != nil {
			stdlog.Fatal(err)
		}
		if err := cfg.SaveToFile(configPath); err != nil {
			stdlog.Fatal(err)
		}
		fmt.Printf("wrote %s\n", configPath)
		return
	}

	if fl.in == "" && cfg.Server.Addr == "" {
		stdlog.Fatalf("usage: %s -in image.jpg|dir|URL [-rotation 90] [-crop 480x640] [-backend ollama|llamacpp] [-model name] [-out outdir] [-serve :8090]", filepath.Base(os.Args[0]))
	}

	log.Init(cfg.LogLevel)
	log.Info("face classifier starting", "version", faceclassifier.GetVersion(), "config", cfgFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	det, err := detection.New(cfg.Detector)
	if err != nil {
		log.Error("failed to create face detector", "backend", cfg.Detector.Backend, "error", err)
		os.Exit(1)
	}
	defer det.Close()

	manager := recognizer.NewManager(nil)
	if err := manager.Recreate(cfg.Classifier); err != nil {
		log.Error("failed to create classifier", "backend", cfg.Classifier.Backend, "error", err)
		os.Exit(1)
	}
	defer manager.Close()

	p, err := pipeline.New(cfg.PipelineConfig(), det, manager)
	if err != nil {
		log.Error("failed to create pipeline", "error", err)
		os.Exit(1)
	}

	go watchReload(ctx, cfgFile, manager)

	var server *web.Server
	if cfg.Server.Addr != "" {
		server = web.NewServer(p, faceclassifier.GetVersion())
		go func() {
			if err := server.Listen(cfg.Server.Addr); err != nil {
				log.Error("web server stopped", "error", err)
				stop()
			}
		}()
	}

	out := newWriter(cfg.OutputOptions(), cfg.Output.Prefix, cfg.Output.Suffix)

	p.Start(ctx)
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for res := range p.Results() {
			report(res, out)
			if server != nil {
				server.Publish(res)
			}
		}
	}()

	if fl.in != "" {
		feed(ctx, p, fl.in, cfg.Geometry.Rotation, out)
	}
	if server != nil {
		<-ctx.Done()
		if err := server.Shutdown(); err != nil {
			log.Warn("web server shutdown", "error", err)
		}
	}

	if err := p.Close(); err != nil && !errors.Is(err, pipeline.ErrClosed) {
		log.Warn("pipeline close", "error", err)
	}
	<-collected

	st := p.Stats()
	log.Info("done", "processed", st.Processed, "classified", st.Classified,
		"no_detection", st.NoDetection, "failed", st.Failed, "dropped", st.Dropped)
}

// loadConfig reads path, or the default config file when path is empty and
// the file exists. It returns the file actually used.
func loadConfig(path string) (*config.Config, string, error) {
	if path == "" {
		path = config.GetConfigPath()
		if !utils.FileExists(path) {
			return config.Default(), "", nil
		}
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// watchReload re-reads the config file on SIGHUP and swaps the classifier
// when its options changed
func watchReload(ctx context.Context, path string, manager *recognizer.Manager) {
	if path == "" {
		return
	}
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			cfg, err := config.LoadFromFile(path)
			if err != nil {
				log.Warn("config reload failed", "path", path, "error", err)
				continue
			}
			if err := manager.Update(cfg.Classifier); err != nil {
				log.Error("classifier reload failed", "error", err)
				continue
			}
			log.Info("config reloaded", "path", path)
		}
	}
}

// feed loads every input image and queues it, waiting for queue space
func feed(ctx context.Context, p *pipeline.Pipeline, in string, rotation int, out *writer) {
	proc := processing.NewProcessor()

	inputs := []string{in}
	if utils.DirExists(in) {
		files, err := utils.ListImageFiles(in)
		if err != nil {
			log.Error("failed to list input directory", "dir", in, "error", err)
			return
		}
		inputs = files
		log.Info("found images", "dir", in, "count", len(files))
	}

	for _, path := range inputs {
		img, err := proc.LoadImageSmart(path)
		if err != nil {
			log.Warn("skipping input", "path", path, "error", err)
			continue
		}
		f := frame.FromImage(img, rotation)
		out.track(f.ID, path)
		if err := p.Enqueue(ctx, f); err != nil {
			out.forget(f.ID)
			if !errors.Is(err, context.Canceled) {
				log.Warn("enqueue failed", "path", path, "error", err)
			}
			return
		}
	}
}

func report(res pipeline.Result, out *writer) {
	src := out.source(res.FrameID)
	d := res.Diagnostics
	switch {
	case res.Err != nil:
		log.Warn("frame failed", "source", src, "frame", d.FrameSize, "rotation", d.Rotation, "error", res.Err)
	case !res.Detected:
		log.Info("no face", "source", src, "frame", d.FrameSize, "rotation", d.Rotation)
	default:
		log.Info("classified", "source", src, "frame", d.FrameSize, "crop", d.CropSize,
			"camera", d.CameraResolution, "rotation", d.Rotation, "inference", d.InferenceTime,
			"box", res.Box.String(), "recognitions", (&types.ClassificationResult{Recognitions: res.Recognitions}).String())
	}
	out.write(res, src)
}

// writer saves face crops and debug overlays for finished frames
type writer struct {
	opts   types.OutputOptions
	prefix string
	suffix string
	proc   *processing.Processor

	mu      sync.Mutex
	sources map[string]string
}

func newWriter(opts types.OutputOptions, prefix, suffix string) *writer {
	return &writer{
		opts:    opts,
		prefix:  prefix,
		suffix:  suffix,
		proc:    processing.NewProcessor(),
		sources: make(map[string]string),
	}
}

func (w *writer) track(id, path string) {
	w.mu.Lock()
	w.sources[id] = path
	w.mu.Unlock()
}

func (w *writer) forget(id string) {
	w.mu.Lock()
	delete(w.sources, id)
	w.mu.Unlock()
}

func (w *writer) source(id string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	src, ok := w.sources[id]
	if !ok {
		return "frame-" + id
	}
	delete(w.sources, id)
	return src
}

func (w *writer) write(res pipeline.Result, src string) {
	if w.opts.OutputDir == "" {
		return
	}
	if err := utils.EnsureDir(w.opts.OutputDir); err != nil {
		log.Error("failed to create output directory", "dir", w.opts.OutputDir, "error", err)
		return
	}

	label := "face"
	if len(res.Recognitions) > 0 {
		label = res.Recognitions[0].Label
	}

	if res.Face != nil {
		path := utils.FaceFilename(src, w.opts.OutputDir, w.prefix, w.suffix, label, w.opts.Extension)
		w.save(res.Face, path, w.opts.Extension)
	}

	if w.opts.DebugOverlay && res.Crop != nil {
		overlay := res.Crop
		if res.Detected {
			overlay = w.proc.CreateDebugOverlay(res.Crop, res.Box)
		}
		path := utils.FaceFilename(src, w.opts.OutputDir, w.prefix, w.suffix+"_debug", label, "png")
		w.save(overlay, path, "png")
	}
}

func (w *writer) save(img image.Image, path, format string) {
	if err := w.proc.SaveImage(img, path, format, w.opts.Quality, w.opts.Lossless); err != nil {
		log.Warn("save failed", "path", path, "error", err)
		return
	}
	if st, err := os.Stat(path); err == nil {
		log.Info("wrote", "path", path, "size", utils.FormatFileSize(st.Size()))
	}
}
