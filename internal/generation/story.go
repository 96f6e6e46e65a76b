package generation

import (
	"encoding/json"
	"strings"

	"github.com/fablehq/fable-api/internal/apperrors"
)

// Story is the structure the accumulated provider output must parse into.
type Story struct {
	// Title is the story headline.
	Title string `json:"title"`

	// Genre is an optional classification supplied by the model.
	Genre string `json:"genre,omitempty"`

	// Paragraphs is the story body, in order.
	Paragraphs []string `json:"paragraphs"`
}

// ParseStory validates accumulated output against the Story structure.
// Failures are parse-kind errors: terminal, never retried, since a retry
// would re-run an expensive generation for a failure retries cannot fix.
func ParseStory(raw string) (*Story, error) {
	text := stripFences(strings.TrimSpace(raw))
	if text == "" {
		return nil, apperrors.Parse("model returned no content", nil)
	}

	var story Story
	if err := json.Unmarshal([]byte(text), &story); err != nil {
		return nil, apperrors.Parse("model output is not valid JSON", err)
	}
	if err := story.Validate(); err != nil {
		return nil, err
	}
	return &story, nil
}

// Validate checks the structural invariants of a parsed story.
func (s *Story) Validate() error {
	if strings.TrimSpace(s.Title) == "" {
		return apperrors.Parse("story is missing a title", nil)
	}
	if len(s.Paragraphs) == 0 {
		return apperrors.Parse("story has no paragraphs", nil)
	}
	for _, p := range s.Paragraphs {
		if strings.TrimSpace(p) == "" {
			return apperrors.Parse("story contains an empty paragraph", nil)
		}
	}
	return nil
}

// stripFences removes a surrounding markdown code fence. Models routinely
// wrap JSON in ```json blocks even when told not to.
func stripFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
