// Package api provides HTTP handlers for the capylingo API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ashureev/capylingo/internal/account"
	"github.com/ashureev/capylingo/internal/engine"
	"github.com/ashureev/capylingo/internal/shared"
	"github.com/ashureev/capylingo/internal/speech"
	"github.com/ashureev/capylingo/internal/store"
)

// EventHandler is the conversation engine as seen by transports.
type EventHandler interface {
	HandleEvent(ctx context.Context, key string, ev engine.Event) (engine.Response, error)
}

// AccountService is the account slice exposed over HTTP.
type AccountService interface {
	Status(ctx context.Context, userID string) (account.Status, error)
	GrantPremium(ctx context.Context, userID string, days int) (account.Status, error)
	AddLives(ctx context.Context, userID string, n int) (account.Status, error)
}

// Handler provides the HTTP endpoints of the game.
type Handler struct {
	events      EventHandler
	accounts    AccountService
	transcriber speech.Transcriber
	limiter     *shared.RateLimiters
	validate    *validator.Validate
	logger      *slog.Logger
}

// NewHandler creates a new Handler. transcriber may be nil, which disables
// voice events.
func NewHandler(events EventHandler, accounts AccountService, transcriber speech.Transcriber, limiter *shared.RateLimiters, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		events:      events,
		accounts:    accounts,
		transcriber: transcriber,
		limiter:     limiter,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger,
	}
}

// Routes mounts the public API under r. Every route acts on the caller's
// own session key; none takes an account id from the request.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/events", h.PostEvent)
	r.Post("/events/voice", h.PostVoiceEvent)
	r.Get("/account", h.GetOwnAccount)
}

// AdminRoutes mounts operator endpoints that act on any account. Callers
// must guard r, see middleware.AdminToken.
func (h *Handler) AdminRoutes(r chi.Router) {
	r.Route("/accounts/{userID}", func(r chi.Router) {
		r.Get("/", h.GetAccount)
		r.Post("/premium", h.PostPremium)
		r.Post("/lives", h.PostLives)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// serviceError maps a collaborator error to a status code.
func (h *Handler) serviceError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, store.ErrStorage) {
		h.logger.Error(op+" failed", "error", err)
		Error(w, http.StatusServiceUnavailable, "storage unavailable, please retry")
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		Error(w, http.StatusGatewayTimeout, "request timed out")
		return
	}
	h.logger.Error(op+" failed", "error", err)
	Error(w, http.StatusInternalServerError, "internal error")
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(v); err != nil {
		return err
	}
	return h.validate.Struct(v)
}
