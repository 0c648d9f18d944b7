package llamacpp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/menta2k/face-classifier/pkg/classifier"
	"github.com/menta2k/face-classifier/pkg/processing"
	"github.com/menta2k/face-classifier/pkg/types"
)

// Client classifies face images through a llama.cpp server's
// OpenAI-compatible chat completions endpoint
type Client struct {
	baseURL    string
	httpClient *http.Client
	opts       classifier.Options
	prompt     string
	proc       *processing.Processor
}

// OpenAI-compatible message format
type Message struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"` // Can be string or []ContentPart
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

type ResponseFormat struct {
	Type string `json:"type"`
}

// OpenAI-compatible chat completion request
type ChatCompletionRequest struct {
	Model          string          `json:"model,omitempty"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Stream         bool            `json:"stream"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`

	// llama.cpp fixes threads and GPU layers at server start; the value is
	// sent for servers that accept it per request.
	NThreads int `json:"n_threads,omitempty"`
}

// OpenAI-compatible chat completion response
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage,omitempty"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// NewClient creates a new llama.cpp classifier
func NewClient(opts classifier.Options) (*Client, error) {
	serverURL := opts.URL
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}
	if !strings.HasPrefix(serverURL, "http://") && !strings.HasPrefix(serverURL, "https://") {
		return nil, fmt.Errorf("invalid URL: %q", serverURL)
	}

	return &Client{
		baseURL:    strings.TrimSuffix(serverURL, "/"),
		httpClient: &http.Client{Timeout: opts.Timeout() + 10*time.Second},
		opts:       opts,
		prompt:     classifier.BuildPrompt(opts.Labels, opts.MaxResults),
		proc:       processing.NewProcessor(),
	}, nil
}

// Classify labels a face image
func (c *Client) Classify(ctx context.Context, img image.Image) (*types.ClassificationResult, error) {
	data, err := c.proc.EncodeForModel(img, "jpg", c.opts.InputSize, 90)
	if err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}

	text, model, err := c.Query(ctx, c.prompt, data)
	if err != nil {
		return nil, err
	}

	recs, err := classifier.ParseRecognitions(text, c.opts.MaxResults)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = c.opts.Model
	}
	return &types.ClassificationResult{Recognitions: recs, Model: model}, nil
}

// Query sends one prompt with a jpeg image and returns the answer text and
// the model name reported by the server
func (c *Client) Query(ctx context.Context, prompt string, jpeg []byte) (string, string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout())
		defer cancel()
	}

	content := []ContentPart{
		{Type: "text", Text: prompt},
	}
	if len(jpeg) > 0 {
		content = append(content, ContentPart{
			Type: "image_url",
			ImageURL: &ImageURL{
				URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg),
			},
		})
	}

	req := ChatCompletionRequest{
		Model:          c.opts.Model,
		Messages:       []Message{{Role: "user", Content: content}},
		Temperature:    0,
		MaxTokens:      512,
		Stream:         false,
		ResponseFormat: &ResponseFormat{Type: "json_object"},
		NThreads:       c.opts.NumThreads,
	}

	respBody, err := c.sendRequest(ctx, "/v1/chat/completions", req)
	if err != nil {
		return "", "", fmt.Errorf("request failed: %w", err)
	}

	var resp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", "", fmt.Errorf("no choices in response")
	}

	text := messageText(resp.Choices[0].Message)
	if text == "" {
		return "", "", fmt.Errorf("empty response from llama.cpp server")
	}
	return text, resp.Model, nil
}

// messageText handles both string and array content
func messageText(m Message) string {
	switch content := m.Content.(type) {
	case string:
		return content
	case []interface{}:
		for _, item := range content {
			if partMap, ok := item.(map[string]interface{}); ok {
				if text, ok := partMap["text"].(string); ok && text != "" {
					return text
				}
			}
		}
	}
	return ""
}

func (c *Client) sendRequest(ctx context.Context, endpoint string, payload interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &classifier.APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// Close implements client.Classifier
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
