package classifier

import (
	"fmt"
	"strings"
)

const promptTemplate = `You are an image classifier. The image is a cropped face.

Return JSON only:
{
  "recognitions": [
    {"label": "string", "confidence": 0.0}
  ]
}

RULES
- Return at most %d recognitions, best match first.
- confidence is a probability in [0,1].
%s- Do not guess real identities.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// BuildPrompt returns the classification prompt. A non-empty labels list
// restricts the model to those labels.
func BuildPrompt(labels []string, maxResults int) string {
	if maxResults < 1 {
		maxResults = 1
	}
	var rule string
	if len(labels) > 0 {
		quoted := make([]string, len(labels))
		for i, l := range labels {
			quoted[i] = fmt.Sprintf("%q", l)
		}
		rule = "- label must be one of: " + strings.Join(quoted, ", ") + ".\n"
	} else {
		rule = "- label is a short lowercase description (expression, age group, accessories).\n"
	}
	return fmt.Sprintf(promptTemplate, maxResults, rule)
}
