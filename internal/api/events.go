package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/ashureev/capylingo/internal/domain"
	"github.com/ashureev/capylingo/internal/engine"
	"github.com/ashureev/capylingo/internal/identity"
	"github.com/ashureev/capylingo/internal/speech"
)

const maxAudioBytes = 10 << 20

type eventRequest struct {
	SessionKey string          `json:"session_key,omitempty" validate:"omitempty,max=128"`
	Text       string          `json:"text,omitempty" validate:"max=2000"`
	Selection  *int            `json:"selection,omitempty" validate:"omitempty,gte=1,lte=64"`
	AgeGroup   domain.AgeGroup `json:"age_group,omitempty" validate:"omitempty,oneof=adult kid"`
}

func (req eventRequest) event() engine.Event {
	return engine.Event{
		Text:      req.Text,
		Selection: req.Selection,
		AgeGroup:  req.AgeGroup,
	}
}

// sessionKey picks the explicit body key over the identity middleware value.
func sessionKey(r *http.Request, explicit string) string {
	if explicit != "" && identity.ValidSessionKey(explicit) {
		return explicit
	}
	return identity.SessionKeyFromContext(r.Context())
}

// PostEvent feeds one text or button event to the engine.
func (h *Handler) PostEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := h.decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid event: "+err.Error())
		return
	}
	key := sessionKey(r, req.SessionKey)
	h.dispatch(w, r, key, req.event())
}

// PostVoiceEvent transcribes a raw audio body and feeds the text to the engine.
func (h *Handler) PostVoiceEvent(w http.ResponseWriter, r *http.Request) {
	if h.transcriber == nil {
		Error(w, http.StatusNotImplemented, "voice input is disabled")
		return
	}
	key := sessionKey(r, r.URL.Query().Get("session_key"))
	if key == "" {
		Error(w, http.StatusBadRequest, "missing session key")
		return
	}
	if h.limiter != nil && !h.limiter.Allow(key) {
		Error(w, http.StatusTooManyRequests, "too many events, slow down")
		return
	}

	audio, err := io.ReadAll(io.LimitReader(r.Body, maxAudioBytes+1))
	if err != nil {
		Error(w, http.StatusBadRequest, "failed to read audio")
		return
	}
	if len(audio) > maxAudioBytes {
		Error(w, http.StatusRequestEntityTooLarge, "audio too large")
		return
	}

	lang := r.URL.Query().Get("lang")
	if code, ok := speech.LanguageCodes[strings.ToLower(lang)]; ok {
		lang = code
	}
	text, err := h.transcriber.Transcribe(r.Context(), audio, r.Header.Get("Content-Type"), lang)
	if err != nil {
		h.logger.Warn("transcription failed", "session_key", key, "error", err)
		text = ""
	}

	ev := engine.Event{
		Text:        text,
		AgeGroup:    domain.AgeGroup(r.URL.Query().Get("age_group")),
		Transcribed: true,
	}
	h.handle(w, r, key, ev)
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, key string, ev engine.Event) {
	if key == "" {
		Error(w, http.StatusBadRequest, "missing session key")
		return
	}
	if h.limiter != nil && !h.limiter.Allow(key) {
		Error(w, http.StatusTooManyRequests, "too many events, slow down")
		return
	}
	h.handle(w, r, key, ev)
}

func (h *Handler) handle(w http.ResponseWriter, r *http.Request, key string, ev engine.Event) {
	resp, err := h.events.HandleEvent(r.Context(), key, ev)
	if err != nil {
		h.serviceError(w, "handle event", err)
		return
	}
	JSON(w, http.StatusOK, resp)
}
