// Package gemini adapts Google's Gemini API to the generation.TokenSource
// interface. It owns prompt templating, the streaming call, and mapping of
// provider failures into the shared error taxonomy.
package gemini

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"os"
	"text/template"

	"github.com/fablehq/fable-api/internal/apperrors"
	"github.com/fablehq/fable-api/internal/config"
	"github.com/fablehq/fable-api/internal/generation"
	"google.golang.org/genai"
)

// streamFunc produces the fragment stream for one prompt. It exists as a
// seam so tests can replace the network call.
type streamFunc func(ctx context.Context, model, prompt string) iter.Seq2[string, error]

// StreamSource implements generation.TokenSource against the Gemini API.
type StreamSource struct {
	logger         *slog.Logger
	config         config.LLMConfig
	promptTemplate *template.Template
	model          string
	stream         streamFunc
}

// NewStreamSource validates the configuration, loads the prompt template
// and initializes the API client.
func NewStreamSource(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) (*StreamSource, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.APIKey == "" {
		return nil, apperrors.Validation("gemini API key cannot be empty")
	}
	if cfg.ModelName == "" {
		return nil, apperrors.Validation("model name cannot be empty")
	}
	if cfg.PromptTemplatePath == "" {
		return nil, apperrors.Validation("prompt template path cannot be empty")
	}

	templateContent, err := os.ReadFile(cfg.PromptTemplatePath)
	if err != nil {
		return nil, fmt.Errorf("read prompt template %s: %w", cfg.PromptTemplatePath, err)
	}
	promptTemplate, err := template.New("story").Parse(string(templateContent))
	if err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	s := &StreamSource{
		logger:         logger.With("component", "gemini_source"),
		config:         cfg,
		promptTemplate: promptTemplate,
		model:          cfg.ModelName,
	}
	s.stream = func(ctx context.Context, model, prompt string) iter.Seq2[string, error] {
		return func(yield func(string, error) bool) {
			for resp, err := range client.Models.GenerateContentStream(ctx, model, genai.Text(prompt), nil) {
				if err != nil {
					yield("", err)
					return
				}
				if !yield(resp.Text(), nil) {
					return
				}
			}
		}
	}
	return s, nil
}

// Submit implements generation.TokenSource. It renders the prompt template,
// opens the streaming call and pulls the first fragment eagerly so that
// connection-time failures surface here, where the retry executor can see
// them, rather than mid-stream.
func (s *StreamSource) Submit(ctx context.Context, prompt string) (generation.Stream, error) {
	rendered, err := s.renderPrompt(prompt)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "opening generation stream",
		"model", s.model,
		"prompt_length", len(rendered))

	next, stop := iter.Pull2(s.stream(ctx, s.model, rendered))

	fragment, err, ok := pullFragment(next)
	if err != nil {
		stop()
		return nil, s.mapAPIError(ctx, err)
	}
	if !ok {
		stop()
		return nil, apperrors.UpstreamFatal("provider returned no content", nil)
	}

	return &apiStream{
		source:     s,
		ctx:        ctx,
		next:       next,
		stop:       stop,
		pending:    fragment,
		hasPending: true,
	}, nil
}

func (s *StreamSource) renderPrompt(prompt string) (string, error) {
	if prompt == "" {
		return "", apperrors.Validation("prompt cannot be empty")
	}
	var buf bytes.Buffer
	if err := s.promptTemplate.Execute(&buf, promptData{Prompt: prompt}); err != nil {
		return "", fmt.Errorf("execute prompt template: %w", err)
	}
	return buf.String(), nil
}

// mapAPIError normalizes provider failures into the error taxonomy. Rate
// limiting and server-side failures are transient; other API rejections
// (invalid model, blocked content) are permanent.
func (s *StreamSource) mapAPIError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Timeout("gemini API call timed out")
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		s.logger.WarnContext(ctx, "gemini API error",
			"status_code", apiErr.Code,
			"status", apiErr.Status)
		switch {
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError:
			return apperrors.Upstream(fmt.Sprintf("gemini API unavailable (%s)", apiErr.Status), err)
		default:
			return apperrors.UpstreamFatal(fmt.Sprintf("gemini API rejected request (%s)", apiErr.Status), err)
		}
	}

	// Transport-level failures without an API status are worth retrying.
	return apperrors.Upstream("gemini API call failed", err)
}

// pullFragment advances the iterator one step.
func pullFragment(next func() (string, error, bool)) (string, error, bool) {
	fragment, err, ok := next()
	if !ok {
		return "", nil, false
	}
	return fragment, err, true
}

// apiStream adapts the pull-based iterator to generation.Stream, holding
// the eagerly-pulled first fragment until the caller asks for it.
type apiStream struct {
	source *StreamSource
	ctx    context.Context
	next   func() (string, error, bool)
	stop   func()

	pending    string
	hasPending bool
	done       bool
}

func (a *apiStream) Next() (string, error) {
	if a.hasPending {
		fragment := a.pending
		a.pending = ""
		a.hasPending = false
		return fragment, nil
	}
	if a.done {
		return "", io.EOF
	}

	fragment, err, ok := a.next()
	if !ok {
		a.done = true
		return "", io.EOF
	}
	if err != nil {
		a.done = true
		return "", a.source.mapAPIError(a.ctx, err)
	}
	return fragment, nil
}

func (a *apiStream) Close() error {
	a.stop()
	return nil
}
