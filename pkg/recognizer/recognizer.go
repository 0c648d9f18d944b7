// Package recognizer builds classifier backends and swaps them at runtime
// when the inference settings change.
package recognizer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/menta2k/face-classifier/internal/log"
	"github.com/menta2k/face-classifier/pkg/classifier"
	"github.com/menta2k/face-classifier/pkg/client"
	"github.com/menta2k/face-classifier/pkg/llamacpp"
	"github.com/menta2k/face-classifier/pkg/ollama"
	"github.com/menta2k/face-classifier/pkg/types"
)

var (
	// ErrUnsupportedConfiguration is returned for setting combinations no
	// backend can run, such as a quantized model on GPU.
	ErrUnsupportedConfiguration = errors.New("recognizer: unsupported configuration")

	// ErrNoClassifier is returned by Manager.Classify while no classifier is loaded.
	ErrNoClassifier = errors.New("recognizer: no classifier available")
)

// Factory builds a classifier from options
type Factory func(opts classifier.Options) (client.Classifier, error)

// New builds the backend selected by opts.Backend
func New(opts classifier.Options) (client.Classifier, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Device == classifier.GPU && opts.Quantized {
		return nil, fmt.Errorf("%w: quantized model %q cannot run on GPU", ErrUnsupportedConfiguration, opts.Model)
	}

	switch opts.Backend {
	case classifier.BackendLlamaCpp:
		return llamacpp.NewClient(opts)
	default:
		return ollama.NewClient(opts)
	}
}

// Manager holds the current classifier. It implements client.Classifier so
// the pipeline does not notice a swap.
type Manager struct {
	mu      sync.RWMutex
	current client.Classifier
	opts    classifier.Options
	factory Factory
}

// NewManager creates a manager that builds classifiers with factory, or with
// New when factory is nil. No classifier is loaded until Recreate.
func NewManager(factory Factory) *Manager {
	if factory == nil {
		factory = New
	}
	return &Manager{factory: factory}
}

// Recreate closes the current classifier and builds a new one from opts.
// On failure the manager is left without a classifier and Classify returns
// ErrNoClassifier until the next successful Recreate.
func (m *Manager) Recreate(opts classifier.Options) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		if err := m.current.Close(); err != nil {
			log.Warn("closing classifier", "error", err)
		}
		m.current = nil
	}

	c, err := m.factory(opts)
	if err != nil {
		log.Error("failed to create classifier",
			"backend", opts.Backend, "model", opts.Model, "device", opts.Device, "error", err)
		return err
	}

	m.current = c
	m.opts = opts
	log.Info("classifier ready",
		"backend", opts.Backend, "model", opts.Model, "device", opts.Device, "threads", opts.NumThreads)
	return nil
}

// Update recreates the classifier only when opts differ from the loaded ones
func (m *Manager) Update(opts classifier.Options) error {
	m.mu.RLock()
	same := m.current != nil && m.opts.Equal(opts)
	m.mu.RUnlock()
	if same {
		return nil
	}
	return m.Recreate(opts)
}

// Options returns the options of the loaded classifier
func (m *Manager) Options() (classifier.Options, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.opts, m.current != nil
}

// Classify runs the current classifier
func (m *Manager) Classify(ctx context.Context, img image.Image) (*types.ClassificationResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.current == nil {
		return nil, ErrNoClassifier
	}
	return m.current.Classify(ctx, img)
}

// Close releases the current classifier
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return nil
	}
	err := m.current.Close()
	m.current = nil
	return err
}
