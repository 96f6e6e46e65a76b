package api

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/fablehq/fable-api/internal/api/shared"
	"github.com/fablehq/fable-api/internal/apperrors"
	"github.com/fablehq/fable-api/internal/ratelimit"
	"github.com/fablehq/fable-api/internal/stream"
)

// GenerateRequest is the payload for the generation endpoint.
type GenerateRequest struct {
	Prompt string `json:"prompt" validate:"required,min=1,max=4000"`
}

// GenerateHandler serves POST /api/generate: it validates the request,
// enforces the per-client rate limit at ingress, then hands the connection
// to the stream orchestrator as an SSE sink.
type GenerateHandler struct {
	orchestrator *stream.Orchestrator
	store        ratelimit.Store
	limit        ratelimit.Config
	logger       *slog.Logger
}

// NewGenerateHandler creates a new generation handler.
func NewGenerateHandler(
	orchestrator *stream.Orchestrator,
	store ratelimit.Store,
	limit ratelimit.Config,
	logger *slog.Logger,
) *GenerateHandler {
	return &GenerateHandler{
		orchestrator: orchestrator,
		store:        store,
		limit:        limit,
		logger:       logger.With("handler", "generate"),
	}
}

// Generate handles a single generation request.
func (h *GenerateHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r,
			http.StatusBadRequest, "Invalid request format",
			apperrors.KindValidation.Code(), err)
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		shared.RespondWithErrorAndLog(w, r,
			http.StatusBadRequest, "Prompt must be between 1 and 4000 characters",
			apperrors.KindValidation.Code(), err)
		return
	}

	key := ClientKey(r)
	if !h.admit(w, r, key) {
		return
	}

	sink, ok := NewSSEWriter(w)
	if !ok {
		shared.RespondWithError(w, r,
			http.StatusInternalServerError, "Streaming unsupported",
			apperrors.KindUnknown.Code())
		return
	}

	state := h.orchestrator.Run(r.Context(), stream.Request{Prompt: req.Prompt}, sink)
	h.logger.Info("generation request finished",
		"client_key", key,
		"final_state", state.String(),
		"trace_id", shared.GetTraceID(r.Context()))
}

// admit enforces the rate limit before any work begins. A denial writes a
// 429 with Retry-After; a store failure fails open so limiter outages do
// not take down generation.
func (h *GenerateHandler) admit(w http.ResponseWriter, r *http.Request, key string) bool {
	res, err := ratelimit.Enforce(r.Context(), h.store, key, h.limit)
	switch {
	case err == nil:
		setRateLimitHeaders(w, h.limit, res)
		return true

	case apperrors.IsKind(err, apperrors.KindRateLimit):
		setRateLimitHeaders(w, h.limit, res)
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(res.RetryAfter)))
		shared.RespondWithErrorAndLog(w, r,
			http.StatusTooManyRequests, GetSafeErrorMessage(err),
			apperrors.KindRateLimit.Code(), err)
		return false

	default:
		h.logger.Warn("rate limit store unavailable, failing open",
			"client_key", key,
			"error", err)
		return true
	}
}

func setRateLimitHeaders(w http.ResponseWriter, cfg ratelimit.Config, res ratelimit.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Max))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	if !res.ResetAt.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
	}
}

// retryAfterSeconds rounds up so clients never retry early.
func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	return int(math.Ceil(d.Seconds()))
}
