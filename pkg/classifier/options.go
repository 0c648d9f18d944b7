// Package classifier holds the settings, prompt and response parsing shared
// by the vision model backends.
package classifier

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// ErrInvalidOptions is returned by Options.Validate
var ErrInvalidOptions = errors.New("classifier: invalid options")

// Device selects where inference runs
type Device int

const (
	CPU Device = iota
	GPU
)

// ParseDevice accepts "cpu" or "gpu" in any case
func ParseDevice(s string) (Device, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cpu", "":
		return CPU, nil
	case "gpu":
		return GPU, nil
	}
	return CPU, fmt.Errorf("%w: unknown device %q", ErrInvalidOptions, s)
}

// String implements fmt.Stringer
func (d Device) String() string {
	if d == GPU {
		return "gpu"
	}
	return "cpu"
}

// MarshalText implements encoding.TextMarshaler
func (d Device) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Device) UnmarshalText(text []byte) error {
	v, err := ParseDevice(string(text))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Backend names
const (
	BackendOllama   = "ollama"
	BackendLlamaCpp = "llamacpp"
)

// Options configures a classifier. Device and NumThreads are passed to the
// backend as-is; what they mean is up to the inference server.
type Options struct {
	Backend    string   `json:"backend"`
	URL        string   `json:"url"`
	Model      string   `json:"model"`
	Device     Device   `json:"device"`
	NumThreads int      `json:"num_threads"`
	MaxResults int      `json:"max_results"`
	Labels     []string `json:"labels,omitempty"`

	// Quantized marks an integer-quantized model, which cannot run on GPU
	Quantized bool `json:"quantized"`

	// InputSize is the long side the face image is resized to before upload
	InputSize int `json:"input_size"`

	TimeoutSeconds int `json:"timeout_seconds"`
}

// DefaultOptions returns options for a local Ollama server
func DefaultOptions() Options {
	return Options{
		Backend:        BackendOllama,
		URL:            "http://localhost:11434",
		Model:          "llava:7b",
		Device:         CPU,
		NumThreads:     4,
		MaxResults:     3,
		InputSize:      224,
		TimeoutSeconds: 120,
	}
}

// Timeout returns the per-request timeout
func (o Options) Timeout() time.Duration {
	if o.TimeoutSeconds <= 0 {
		return 300 * time.Second
	}
	return time.Duration(o.TimeoutSeconds) * time.Second
}

// Validate checks the options without contacting the server
func (o Options) Validate() error {
	switch o.Backend {
	case BackendOllama, BackendLlamaCpp:
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidOptions, o.Backend)
	}
	if o.URL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidOptions)
	}
	if o.Model == "" && o.Backend == BackendOllama {
		return fmt.Errorf("%w: model is required", ErrInvalidOptions)
	}
	if o.NumThreads < 0 {
		return fmt.Errorf("%w: num_threads must not be negative", ErrInvalidOptions)
	}
	if o.MaxResults < 1 {
		return fmt.Errorf("%w: max_results must be at least 1", ErrInvalidOptions)
	}
	if o.InputSize < 0 {
		return fmt.Errorf("%w: input_size must not be negative", ErrInvalidOptions)
	}
	return nil
}

// Equal reports whether two option sets would build the same classifier
func (o Options) Equal(other Options) bool {
	return o.Backend == other.Backend &&
		o.URL == other.URL &&
		o.Model == other.Model &&
		o.Device == other.Device &&
		o.NumThreads == other.NumThreads &&
		o.MaxResults == other.MaxResults &&
		o.Quantized == other.Quantized &&
		o.InputSize == other.InputSize &&
		o.TimeoutSeconds == other.TimeoutSeconds &&
		slices.Equal(o.Labels, other.Labels)
}

// APIError is a non-200 answer from an inference server
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Body)
}
