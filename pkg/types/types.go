package types

import (
	"fmt"
	"strings"
)

// Recognition is one label produced by a classifier
type Recognition struct {
	ID         string  `json:"id,omitempty"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// String implements fmt.Stringer
func (r Recognition) String() string {
	return fmt.Sprintf("%s (%.1f%%)", r.Label, r.Confidence*100)
}

// ClassificationResult is the ordered classifier output, best match first
type ClassificationResult struct {
	Recognitions []Recognition `json:"recognitions"`
	Model        string        `json:"model,omitempty"`
}

// Top returns the best recognition, if any
func (c *ClassificationResult) Top() (Recognition, bool) {
	if c == nil || len(c.Recognitions) == 0 {
		return Recognition{}, false
	}
	return c.Recognitions[0], true
}

// String implements fmt.Stringer
func (c *ClassificationResult) String() string {
	if c == nil || len(c.Recognitions) == 0 {
		return "[]"
	}
	parts := make([]string, len(c.Recognitions))
	for i, r := range c.Recognitions {
		parts[i] = r.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// OutputOptions controls how face crops and overlays are written
type OutputOptions struct {
	OutputDir    string
	Extension    string
	Quality      int
	Lossless     bool
	DebugOverlay bool
}
