//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/capylingo/internal/account"
	"github.com/ashureev/capylingo/internal/domain"
	"github.com/ashureev/capylingo/internal/engine"
	"github.com/ashureev/capylingo/internal/identity"
	"github.com/ashureev/capylingo/internal/lives"
	"github.com/ashureev/capylingo/internal/middleware"
	"github.com/ashureev/capylingo/internal/reward"
	"github.com/ashureev/capylingo/internal/shared"
	"github.com/ashureev/capylingo/internal/store"
)

const testAdminToken = "s3cret"

var adminHeader = map[string]string{"Authorization": "Bearer " + testAdminToken}

type fakeEngine struct {
	mu     sync.Mutex
	keys   []string
	events []engine.Event
	err    error
}

func (f *fakeEngine) HandleEvent(_ context.Context, key string, ev engine.Event) (engine.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	f.events = append(f.events, ev)
	if f.err != nil {
		return engine.Response{}, f.err
	}
	return engine.Response{ID: "id-1", SessionKey: key, State: domain.StateStart, Text: "echo: " + ev.Text}, nil
}

type fakeTranscriber struct {
	text string
	lang string
	mime string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ []byte, mimeType, languageCode string) (string, error) {
	f.mime, f.lang = mimeType, languageCode
	return f.text, nil
}

type memRepo struct {
	mu       sync.Mutex
	accounts map[string]*domain.Account
}

func (m *memRepo) LoadAccount(_ context.Context, userID string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[userID]; ok {
		return a.Clone(), nil
	}
	return nil, nil
}

func (m *memRepo) SaveAccount(_ context.Context, a *domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.UserID] = a.Clone()
	return nil
}

func newTestHandler(t *testing.T, eng EventHandler, tr *fakeTranscriber, limiter *shared.RateLimiters) http.Handler {
	t.Helper()
	policy, err := lives.NewPolicy(6, 30*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	rewards, err := reward.NewEngine(reward.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	accounts := account.NewService(&memRepo{accounts: map[string]*domain.Account{}}, policy, rewards, account.Options{})

	var h *Handler
	if tr != nil {
		h = NewHandler(eng, accounts, tr, limiter, nil)
	} else {
		h = NewHandler(eng, accounts, nil, limiter, nil)
	}
	r := chi.NewRouter()
	r.Use(identity.Middleware(true))
	r.Route("/api", func(r chi.Router) {
		h.Routes(r)
		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.AdminToken(testAdminToken))
			h.AdminRoutes(r)
		})
	})
	return r
}

func do(t *testing.T, h http.Handler, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case []byte:
		buf.Write(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestPostEventSessionKey(t *testing.T) {
	eng := &fakeEngine{}
	h := newTestHandler(t, eng, nil, nil)

	w := do(t, h, http.MethodPost, "/api/events", map[string]any{"text": "hi"}, map[string]string{identity.SessionKeyHeader: "tg:7"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	w = do(t, h, http.MethodPost, "/api/events", map[string]any{"session_key": "web:1", "selection": 2, "age_group": "kid"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}

	if eng.keys[0] != "tg:7" || eng.keys[1] != "web:1" {
		t.Errorf("keys = %v", eng.keys)
	}
	ev := eng.events[1]
	if ev.Selection == nil || *ev.Selection != 2 || ev.AgeGroup != domain.AgeGroupKid {
		t.Errorf("event = %+v", ev)
	}

	var resp engine.Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.SessionKey != "web:1" {
		t.Errorf("SessionKey = %q", resp.SessionKey)
	}
}

func TestPostEventValidation(t *testing.T) {
	eng := &fakeEngine{}
	h := newTestHandler(t, eng, nil, nil)

	tests := []struct {
		name string
		body any
	}{
		{"zero selection", map[string]any{"selection": 0}},
		{"unknown age group", map[string]any{"age_group": "toddler"}},
		{"not json", []byte("{")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/api/events", tt.body, nil)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
	if len(eng.events) != 0 {
		t.Errorf("engine called %d times for invalid input", len(eng.events))
	}
}

func TestPostEventStorageError(t *testing.T) {
	eng := &fakeEngine{err: fmt.Errorf("get session: %w", store.ErrStorage)}
	h := newTestHandler(t, eng, nil, nil)

	w := do(t, h, http.MethodPost, "/api/events", map[string]any{"text": "/start"}, nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestPostEventRateLimited(t *testing.T) {
	eng := &fakeEngine{}
	h := newTestHandler(t, eng, nil, shared.NewRateLimiters(0.001, 1))
	hdr := map[string]string{identity.SessionKeyHeader: "tg:9"}

	if w := do(t, h, http.MethodPost, "/api/events", map[string]any{"text": "a"}, hdr); w.Code != http.StatusOK {
		t.Fatalf("first status = %d", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/events", map[string]any{"text": "b"}, hdr); w.Code != http.StatusTooManyRequests {
		t.Errorf("second status = %d, want 429", w.Code)
	}
}

func TestPostVoiceEvent(t *testing.T) {
	eng := &fakeEngine{}
	tr := &fakeTranscriber{text: "собака"}
	h := newTestHandler(t, eng, tr, nil)

	w := do(t, h, http.MethodPost, "/api/events/voice?lang=english&age_group=kid", []byte("OggS..."),
		map[string]string{identity.SessionKeyHeader: "tg:3", "Content-Type": "audio/ogg"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	if tr.lang != "en-US" || tr.mime != "audio/ogg" {
		t.Errorf("transcriber got lang=%q mime=%q", tr.lang, tr.mime)
	}
	ev := eng.events[0]
	if ev.Text != "собака" || !ev.Transcribed || ev.AgeGroup != domain.AgeGroupKid {
		t.Errorf("event = %+v", ev)
	}
}

func TestPostVoiceEventDisabled(t *testing.T) {
	h := newTestHandler(t, &fakeEngine{}, nil, nil)
	w := do(t, h, http.MethodPost, "/api/events/voice", []byte("x"), nil)
	if w.Code != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", w.Code)
	}
}

func TestAccountEndpoints(t *testing.T) {
	h := newTestHandler(t, &fakeEngine{}, nil, nil)

	w := do(t, h, http.MethodGet, "/api/admin/accounts/u1/", nil, adminHeader)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	var view AccountView
	if err := json.NewDecoder(w.Body).Decode(&view); err != nil {
		t.Fatal(err)
	}
	if view.Lives != 6 || view.Cap != 6 || view.Level != 1 || view.Premium {
		t.Errorf("fresh account = %+v", view)
	}

	w = do(t, h, http.MethodPost, "/api/admin/accounts/u1/premium", map[string]any{"days": 7}, adminHeader)
	if w.Code != http.StatusOK {
		t.Fatalf("premium status = %d, body = %s", w.Code, w.Body)
	}
	if err := json.NewDecoder(w.Body).Decode(&view); err != nil {
		t.Fatal(err)
	}
	if !view.Premium || view.PremiumUntil == nil {
		t.Errorf("after premium = %+v", view)
	}

	if w := do(t, h, http.MethodPost, "/api/admin/accounts/u1/lives", map[string]any{"amount": 0}, adminHeader); w.Code != http.StatusBadRequest {
		t.Errorf("zero lives status = %d, want 400", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/admin/accounts/u1/lives", map[string]any{"amount": 2}, adminHeader); w.Code != http.StatusOK {
		t.Errorf("lives status = %d, body = %s", w.Code, w.Body)
	}
}

func TestOwnAccount(t *testing.T) {
	h := newTestHandler(t, &fakeEngine{}, nil, nil)

	w := do(t, h, http.MethodGet, "/api/account", nil, map[string]string{identity.SessionKeyHeader: "tg:42"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	var view AccountView
	if err := json.NewDecoder(w.Body).Decode(&view); err != nil {
		t.Fatal(err)
	}
	if view.UserID != "tg:42" || view.Lives != 6 {
		t.Errorf("own account = %+v", view)
	}
}

func TestForeignAccountIsRejected(t *testing.T) {
	eng := &fakeEngine{}
	h := newTestHandler(t, eng, nil, nil)
	caller := map[string]string{identity.SessionKeyHeader: "attacker"}

	if w := do(t, h, http.MethodPost, "/api/accounts/victim/premium", map[string]any{"days": 3650}, caller); w.Code != http.StatusNotFound {
		t.Errorf("public premium status = %d, want 404", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/admin/accounts/victim/premium", map[string]any{"days": 3650}, caller); w.Code != http.StatusUnauthorized {
		t.Errorf("premium without token status = %d, want 401", w.Code)
	}
	forged := map[string]string{identity.SessionKeyHeader: "attacker", "Authorization": "Bearer guess"}
	if w := do(t, h, http.MethodPost, "/api/admin/accounts/victim/lives", map[string]any{"amount": 5}, forged); w.Code != http.StatusForbidden {
		t.Errorf("lives with wrong token status = %d, want 403", w.Code)
	}

	w := do(t, h, http.MethodGet, "/api/admin/accounts/victim/", nil, adminHeader)
	var view AccountView
	if err := json.NewDecoder(w.Body).Decode(&view); err != nil {
		t.Fatal(err)
	}
	if view.Premium {
		t.Errorf("victim account changed: %+v", view)
	}

	// An account id in the event body does not redirect the event.
	if w := do(t, h, http.MethodPost, "/api/events", map[string]any{"text": "1", "user_id": "victim"}, caller); w.Code != http.StatusOK {
		t.Fatalf("event status = %d, body = %s", w.Code, w.Body)
	}
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if len(eng.keys) != 1 || eng.keys[0] != "attacker" {
		t.Errorf("event keys = %v, want [attacker]", eng.keys)
	}
}
