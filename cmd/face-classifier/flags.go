package main

import (
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/menta2k/face-classifier/internal/config"
	"github.com/menta2k/face-classifier/pkg/classifier"
	"github.com/menta2k/face-classifier/pkg/detection"
)

// cliFlags holds the command line values
type cliFlags struct {
	in, configPath, crop, serve, logLevel string
	rotation, maxDim, threads             int
	stretch, debug, saveConfig            bool
	backend, url, model, device, labels   string
	detector, cascade                     string
	outDir, ext                           string
}

func (f *cliFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.in, "in", "", "input image, directory or URL (jpg/png/webp)")
	fs.StringVar(&f.configPath, "config", "", "config file (default "+config.GetConfigPath()+" when present)")
	fs.BoolVar(&f.saveConfig, "save-config", false, "write the effective configuration to -config and exit")
	fs.IntVar(&f.rotation, "rotation", 0, "sensor rotation in degrees: 0|90|180|270")
	fs.StringVar(&f.crop, "crop", "480x640", "crop size WxH every frame is mapped into")
	fs.BoolVar(&f.stretch, "stretch", false, "stretch frames into the crop instead of keeping the aspect ratio")
	fs.IntVar(&f.maxDim, "max-dim", 224, "maximum face box side passed to the classifier (px)")

	fs.StringVar(&f.backend, "backend", "ollama", "classifier backend: ollama or llamacpp")
	fs.StringVar(&f.url, "url", "", "server URL (defaults: ollama=http://localhost:11434, llamacpp=http://localhost:8080)")
	fs.StringVar(&f.model, "model", "llava:7b", "model name")
	fs.StringVar(&f.device, "device", "cpu", "inference device: cpu|gpu")
	fs.IntVar(&f.threads, "threads", 4, "inference threads")
	fs.StringVar(&f.labels, "labels", "", "comma separated label set, empty for free-form labels")

	fs.StringVar(&f.detector, "detector", detection.BackendPigo, "face detector: pigo|yunet")
	fs.StringVar(&f.cascade, "cascade", "", "pigo cascade or YuNet model path (pigo default: built-in facefinder)")

	fs.StringVar(&f.outDir, "out", "", "output directory for face crops, empty to skip")
	fs.StringVar(&f.ext, "ext", "jpg", "output format for face crops: jpg|png|webp")
	fs.BoolVar(&f.debug, "debug", false, "write crop images with the face box drawn")

	fs.StringVar(&f.serve, "serve", "", "serve the HTTP/websocket API on addr, e.g. :8090 (default server.addr from the config)")
	fs.StringVar(&f.logLevel, "log-level", "", "log level: debug|info|warn|error")
}

// apply copies the flags that were set on the command line over cfg
func (f *cliFlags) apply(cfg *config.Config, fs *flag.FlagSet) error {
	set := make(map[string]bool)
	fs.Visit(func(fl *flag.Flag) { set[fl.Name] = true })

	if set["rotation"] {
		cfg.Geometry.Rotation = f.rotation
	}
	if set["crop"] {
		w, h, err := parseSize(f.crop)
		if err != nil {
			return err
		}
		cfg.Geometry.CropWidth, cfg.Geometry.CropHeight = w, h
	}
	if set["stretch"] {
		cfg.Geometry.MaintainAspect = !f.stretch
	}
	if set["max-dim"] {
		cfg.Geometry.MaxDetectionDim = f.maxDim
	}

	if set["backend"] {
		cfg.Classifier.Backend = f.backend
		// a llamacpp backend should not inherit the ollama default url
		if f.backend == classifier.BackendLlamaCpp && !set["url"] && cfg.Classifier.URL == classifier.DefaultOptions().URL {
			cfg.Classifier.URL = "http://localhost:8080"
		}
	}
	if set["url"] {
		cfg.Classifier.URL = f.url
	}
	if set["model"] {
		cfg.Classifier.Model = f.model
	}
	if set["device"] {
		d, err := classifier.ParseDevice(f.device)
		if err != nil {
			return err
		}
		cfg.Classifier.Device = d
	}
	if set["threads"] {
		cfg.Classifier.NumThreads = f.threads
	}
	if set["labels"] {
		cfg.Classifier.Labels = splitLabels(f.labels)
	}

	// the backend decides which path -cascade sets
	if set["detector"] {
		cfg.Detector.Backend = f.detector
	}
	if set["cascade"] {
		if strings.EqualFold(cfg.Detector.Backend, detection.BackendYuNet) {
			cfg.Detector.ModelPath = f.cascade
		} else {
			cfg.Detector.CascadePath = f.cascade
		}
	}

	if set["out"] {
		cfg.Output.OutputDir = f.outDir
	}
	if set["ext"] {
		cfg.Output.Format = f.ext
	}
	if set["debug"] {
		cfg.Output.DebugOverlay = f.debug
	}
	if set["serve"] {
		cfg.Server.Addr = f.serve
	}
	if set["log-level"] {
		cfg.LogLevel = f.logLevel
	}
	return nil
}

func parseSize(s string) (int, int, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid size %q, want WxH", s)
	}
	w, err := strconv.Atoi(ws)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	h, err := strconv.Atoi(hs)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return w, h, nil
}

func splitLabels(s string) []string {
	var labels []string
	for _, l := range strings.Split(s, ",") {
		if l = strings.TrimSpace(l); l != "" {
			labels = append(labels, l)
		}
	}
	return labels
}
