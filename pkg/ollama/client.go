package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/menta2k/face-classifier/pkg/classifier"
	"github.com/menta2k/face-classifier/pkg/processing"
	"github.com/menta2k/face-classifier/pkg/types"
)

// Client classifies face images with a vision model served by Ollama
type Client struct {
	client *api.Client
	opts   classifier.Options
	prompt string
	proc   *processing.Processor
}

// NewClient creates a new Ollama classifier
func NewClient(opts classifier.Options) (*Client, error) {
	parsedURL, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL: %q", opts.URL)
	}

	// Create base URL from the provided URL (removing path like /api/chat)
	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}

	return &Client{
		client: api.NewClient(baseURL, http.DefaultClient),
		opts:   opts,
		prompt: classifier.BuildPrompt(opts.Labels, opts.MaxResults),
		proc:   processing.NewProcessor(),
	}, nil
}

// Classify labels a face image
func (c *Client) Classify(ctx context.Context, img image.Image) (*types.ClassificationResult, error) {
	data, err := c.proc.EncodeForModel(img, "jpg", c.opts.InputSize, 90)
	if err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}

	content, err := c.Query(ctx, c.prompt, data)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("empty response from ollama")
	}

	recs, err := classifier.ParseRecognitions(content, c.opts.MaxResults)
	if err != nil {
		return nil, err
	}
	return &types.ClassificationResult{Recognitions: recs, Model: c.opts.Model}, nil
}

// Query sends one prompt with an encoded image and returns the raw answer
func (c *Client) Query(ctx context.Context, prompt string, img []byte) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout())
		defer cancel()
	}

	streamFalse := false
	req := &api.ChatRequest{
		Model: c.opts.Model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: prompt,
				Images:  []api.ImageData{api.ImageData(img)},
			},
		},
		Stream:  &streamFalse,
		Format:  json.RawMessage(`"json"`),
		Options: c.modelOptions(),
	}

	var responseContent strings.Builder
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		responseContent.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		var statusErr api.StatusError
		if errors.As(err, &statusErr) {
			return "", &classifier.APIError{StatusCode: statusErr.StatusCode, Body: statusErr.ErrorMessage}
		}
		return "", fmt.Errorf("ollama chat error: %w", err)
	}
	return responseContent.String(), nil
}

// modelOptions maps device and thread settings onto Ollama runner options
func (c *Client) modelOptions() map[string]any {
	options := map[string]any{
		"temperature": 0.0,
	}
	if c.opts.Device == classifier.CPU {
		// no layers offloaded
		options["num_gpu"] = 0
	}
	if c.opts.NumThreads > 0 {
		options["num_thread"] = c.opts.NumThreads
	}
	return options
}

// Close implements client.Classifier. The HTTP client holds no resources.
func (c *Client) Close() error {
	return nil
}
