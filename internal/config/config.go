package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/menta2k/face-classifier/pkg/classifier"
	"github.com/menta2k/face-classifier/pkg/detection"
	"github.com/menta2k/face-classifier/pkg/geometry"
	"github.com/menta2k/face-classifier/pkg/pipeline"
	"github.com/menta2k/face-classifier/pkg/types"
)

// Config holds the application configuration
type Config struct {
	LogLevel   string             `json:"log_level"`
	Geometry   GeometryConfig     `json:"geometry"`
	Detector   detection.Config   `json:"detector"`
	Classifier classifier.Options `json:"classifier"`
	Pipeline   PipelineConfig     `json:"pipeline"`
	Output     OutputConfig       `json:"output"`
	Server     ServerConfig       `json:"server"`
}

// GeometryConfig describes the crop every frame is mapped into
type GeometryConfig struct {
	CropWidth       int  `json:"crop_width"`
	CropHeight      int  `json:"crop_height"`
	MaintainAspect  bool `json:"maintain_aspect"`
	MaxDetectionDim int  `json:"max_detection_dim"`
	// Rotation is the sensor rotation applied to loaded images
	Rotation int `json:"rotation"`
}

// PipelineConfig holds the worker settings
type PipelineConfig struct {
	Workers   int `json:"workers"`
	QueueSize int `json:"queue_size"`
}

// OutputConfig holds configuration for saved face crops
type OutputConfig struct {
	OutputDir    string `json:"output_dir"`
	Format       string `json:"format"`
	Quality      int    `json:"quality"`
	Lossless     bool   `json:"lossless"`
	DebugOverlay bool   `json:"debug_overlay"`
	Prefix       string `json:"prefix"`
	Suffix       string `json:"suffix"`
}

// ServerConfig holds the web server settings
type ServerConfig struct {
	// Addr enables the HTTP/websocket API, e.g. ":8090". Empty keeps it off.
	Addr string `json:"addr"`
}

// Default returns a configuration with default values
func Default() *Config {
	pc := pipeline.DefaultConfig()
	return &Config{
		LogLevel: "info",
		Geometry: GeometryConfig{
			CropWidth:       pc.CropWidth,
			CropHeight:      pc.CropHeight,
			MaintainAspect:  pc.MaintainAspect,
			MaxDetectionDim: pc.MaxDetectionDim,
			Rotation:        0,
		},
		Detector:   detection.DefaultConfig(),
		Classifier: classifier.DefaultOptions(),
		Pipeline: PipelineConfig{
			Workers:   pc.Workers,
			QueueSize: pc.QueueSize,
		},
		Output: OutputConfig{
			OutputDir: "",
			Format:    "jpg",
			Quality:   90,
			Suffix:    "_face",
		},
	}
}

// LoadFromFile loads configuration from a JSON file. Keys missing from the
// file keep their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if _, err := geometry.NormalizeRotation(c.Geometry.Rotation); err != nil {
		return fmt.Errorf("geometry.rotation: %w", err)
	}

	if err := c.PipelineConfig().Validate(); err != nil {
		return err
	}

	if err := c.Detector.Validate(); err != nil {
		return err
	}

	if err := c.Classifier.Validate(); err != nil {
		return err
	}

	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return fmt.Errorf("output.quality must be between 1 and 100")
	}

	switch c.Output.Format {
	case "jpg", "jpeg", "png", "webp":
	default:
		return fmt.Errorf("output.format must be jpg, png or webp, got %q", c.Output.Format)
	}

	return nil
}

// PipelineConfig assembles the pipeline settings
func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		CropWidth:       c.Geometry.CropWidth,
		CropHeight:      c.Geometry.CropHeight,
		MaintainAspect:  c.Geometry.MaintainAspect,
		MaxDetectionDim: c.Geometry.MaxDetectionDim,
		Workers:         c.Pipeline.Workers,
		QueueSize:       c.Pipeline.QueueSize,
		KeepImages:      c.Output.OutputDir != "",
	}
}

// OutputOptions returns the output settings
func (c *Config) OutputOptions() types.OutputOptions {
	return types.OutputOptions{
		OutputDir:    c.Output.OutputDir,
		Extension:    c.Output.Format,
		Quality:      c.Output.Quality,
		Lossless:     c.Output.Lossless,
		DebugOverlay: c.Output.DebugOverlay,
	}
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "face-classifier", "config.json")
}
