package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/menta2k/face-classifier/pkg/types"
)

// ErrUnparseable is returned when a model answer holds no usable JSON
var ErrUnparseable = errors.New("classifier: unparseable model response")

var (
	reBlock    = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLine     = regexp.MustCompile(`(?m)^\s*//.*$`)
	reTrailing = regexp.MustCompile(`,(\s*[}\]])`)
)

type rawRecognition struct {
	ID         json.RawMessage `json:"id"`
	Label      string          `json:"label"`
	Title      string          `json:"title"`
	Confidence float64         `json:"confidence"`
}

// ParseRecognitions extracts recognitions from a model answer. It accepts an
// object with a "recognitions" array or a bare array, tolerates code fences,
// comments and trailing commas, clamps confidences to [0,1], sorts by
// descending confidence and keeps at most maxResults entries.
func ParseRecognitions(raw string, maxResults int) ([]types.Recognition, error) {
	cleaned := sanitizeModelJSON(raw)
	if cleaned == "" {
		return nil, fmt.Errorf("%w: no JSON found", ErrUnparseable)
	}

	var items []rawRecognition
	if cleaned[0] == '[' {
		if err := json.Unmarshal([]byte(cleaned), &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
		}
	} else {
		var wrapper struct {
			Recognitions []rawRecognition `json:"recognitions"`
		}
		if err := json.Unmarshal([]byte(cleaned), &wrapper); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
		}
		items = wrapper.Recognitions
	}

	out := make([]types.Recognition, 0, len(items))
	for _, it := range items {
		label := strings.TrimSpace(it.Label)
		if label == "" {
			label = strings.TrimSpace(it.Title)
		}
		if label == "" {
			continue
		}
		out = append(out, types.Recognition{
			ID:         rawID(it.ID),
			Label:      label,
			Confidence: clamp01(it.Confidence),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	if maxResults > 0 && len(out) > maxResults {
		out = out[:maxResults]
	}
	return out, nil
}

// rawID accepts numeric or string ids
func rawID(m json.RawMessage) string {
	if len(m) == 0 || string(m) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(m, &s); err == nil {
		return s
	}
	var n float64
	if err := json.Unmarshal(m, &n); err == nil {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return ""
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// sanitizeModelJSON removes code fences, comments and trailing commas and
// keeps the outermost object or array
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.Trim(strings.TrimSpace(raw), "`")

	raw = reBlock.ReplaceAllString(raw, "")
	raw = reLine.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")

	closeCh := byte('}')
	start := strings.IndexAny(raw, "{[")
	if start < 0 {
		return ""
	}
	if raw[start] == '[' {
		closeCh = ']'
	}
	end := strings.LastIndexByte(raw, closeCh)
	if end <= start {
		return ""
	}
	return strings.TrimSpace(raw[start : end+1])
}
