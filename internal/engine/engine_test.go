package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ashureev/capylingo/internal/account"
	"github.com/ashureev/capylingo/internal/dedup"
	"github.com/ashureev/capylingo/internal/domain"
	"github.com/ashureev/capylingo/internal/evaluator"
	"github.com/ashureev/capylingo/internal/lives"
	"github.com/ashureev/capylingo/internal/review"
	"github.com/ashureev/capylingo/internal/reward"
	"github.com/ashureev/capylingo/internal/session"
	"github.com/ashureev/capylingo/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const key = "chat-1"

var elephant = domain.Exercise{
	Question:     "Как будет 'слон'?",
	Options:      []string{"elephant", "dog", "cat", "cow"},
	CorrectIndex: 0,
	Explanation:  "слон = elephant",
}

var tiger = domain.Exercise{
	Question:     "Как будет 'тигр'?",
	Options:      []string{"lion", "tiger", "bear", "wolf"},
	CorrectIndex: 1,
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeGenerator struct {
	mu        sync.Mutex
	exercises []domain.Exercise
	game      domain.Game
	err       error
	calls     int
	requests  []domain.ExerciseRequest
	started   chan struct{}
	release   chan struct{}
}

func (g *fakeGenerator) GenerateExercise(ctx context.Context, req domain.ExerciseRequest) (domain.Exercise, error) {
	g.mu.Lock()
	g.calls++
	g.requests = append(g.requests, req)
	n, err := g.calls, g.err
	started, release := g.started, g.release
	g.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return domain.Exercise{}, ctx.Err()
		}
	}
	if err != nil {
		return domain.Exercise{}, err
	}
	return g.exercises[min(n, len(g.exercises))-1], nil
}

func (g *fakeGenerator) GenerateGame(_ context.Context, req domain.GameRequest) (domain.Game, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return domain.Game{}, g.err
	}
	game := g.game
	game.GameType = req.GameType
	return game, nil
}

func (g *fakeGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type harness struct {
	m        *Machine
	sessions *session.MemoryStore
	db       *store.SQLiteStore
	accounts *account.Service
	gen      *fakeGenerator
	clock    *testClock
}

func newHarness(t *testing.T, gen *fakeGenerator, capacity int, cfg Config) *harness {
	t.Helper()
	db, err := store.NewSQLite(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clock := &testClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	policy, err := lives.NewPolicy(capacity, 30*time.Minute)
	require.NoError(t, err)
	rewards, err := reward.NewEngine(reward.DefaultConfig())
	require.NoError(t, err)
	grader, err := evaluator.New(evaluator.DefaultConfig(), nil, nil)
	require.NoError(t, err)

	h := &harness{
		sessions: session.NewMemoryStore(clock.Now),
		db:       db,
		accounts: account.NewService(db, policy, rewards, account.Options{Now: clock.Now}),
		gen:      gen,
		clock:    clock,
	}
	h.m, err = New(cfg, Deps{
		Sessions:    h.sessions,
		Accounts:    h.accounts,
		Completions: dedup.New(db, clock.Now),
		Reviews:     review.NewQueue(db, clock.Now),
		Grader:      grader,
		Generator:   gen,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) send(t *testing.T, text string) Response {
	t.Helper()
	resp, err := h.m.HandleEvent(context.Background(), key, Event{Text: text})
	require.NoError(t, err)
	return resp
}

func (h *harness) session(t *testing.T) domain.Session {
	t.Helper()
	s, _, err := h.sessions.Get(context.Background(), key)
	require.NoError(t, err)
	return s
}

// onboard walks a fresh session to choosingTopic.
func (h *harness) onboard(t *testing.T) {
	t.Helper()
	h.send(t, "hello")
	h.send(t, "Русский")
	h.send(t, "english")
	resp := h.send(t, "beginner")
	require.Equal(t, domain.StateChoosingTopic, resp.State)
}

func TestChoosingLevelAcceptsOnlyKnownLevels(t *testing.T) {
	h := newHarness(t, &fakeGenerator{exercises: []domain.Exercise{elephant}}, 6, DefaultConfig())

	resp := h.send(t, "hi")
	assert.Equal(t, domain.StateChoosingNativeLanguage, resp.State)
	assert.NotEmpty(t, resp.ID)
	assert.Len(t, resp.Options, 4)

	resp = h.send(t, "  РУССКИЙ!! ")
	assert.Equal(t, domain.StateChoosingLearnLanguage, resp.State)
	assert.Contains(t, resp.Text, "Русский")

	sel := 2
	resp, err := h.m.HandleEvent(context.Background(), key, Event{Selection: &sel})
	require.NoError(t, err)
	assert.Equal(t, domain.StateChoosingLevel, resp.State)

	before := h.session(t)
	resp = h.send(t, "banana")
	assert.Equal(t, domain.StateChoosingLevel, resp.State)
	after := h.session(t)
	assert.Equal(t, before, after, "invalid input must not touch the session")

	resp = h.send(t, "intermediate")
	assert.Equal(t, domain.StateChoosingTopic, resp.State)
	s := h.session(t)
	assert.Equal(t, "intermediate", s.Level)
	assert.Equal(t, "russian", s.NativeLanguage)
	assert.Equal(t, "english", s.LearnLanguage)
}

func TestLanguageSynonymsAcrossScripts(t *testing.T) {
	cat, err := DefaultCatalog()
	require.NoError(t, err)

	for input, want := range map[string]string{
		"Рус тили":  "russian",
		"러시아어":      "russian",
		"O'zbek":    "uzbek",
		"ЎЗБЕК":     "uzbek",
		"Inglizcha": "english",
		"한국어":       "korean",
	} {
		c, err := cat.languages.match(input, nil)
		if assert.NoError(t, err, input) {
			assert.Equal(t, want, c.Key, input)
		}
	}
	_, err = cat.languages.match("klingon", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
	bad := 9
	_, err = cat.languages.match("", &bad)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCorrectAnswerRewardsAndMarksCompleted(t *testing.T) {
	h := newHarness(t, &fakeGenerator{exercises: []domain.Exercise{elephant}}, 6, DefaultConfig())
	h.onboard(t)

	resp := h.send(t, "Animals")
	require.Equal(t, domain.StateInExercise, resp.State)
	assert.Equal(t, elephant.Options, resp.Options)
	assert.Contains(t, resp.Text, elephant.Question)

	req := h.gen.requests[0]
	assert.Equal(t, "english", req.LearnLanguage)
	assert.Equal(t, "russian", req.NativeLanguage)
	assert.Equal(t, "beginner", req.Level)
	assert.Equal(t, "Animals", req.Topic)

	resp = h.send(t, "1")
	assert.Equal(t, domain.StateStart, resp.State)
	assert.Equal(t, domain.MoodHappy, resp.Mood)
	require.NotNil(t, resp.Streak)
	assert.Equal(t, 1, *resp.Streak)
	assert.Equal(t, 10, *resp.XP)
	assert.Equal(t, 6, *resp.Lives)
	assert.Nil(t, h.session(t).Pending)

	done, err := h.db.HasCompleted(context.Background(), key, dedup.FingerprintExercise(elephant, "Animals"))
	require.NoError(t, err)
	assert.True(t, done)
}

func TestExpectedAnswerIsConsumedOnce(t *testing.T) {
	h := newHarness(t, &fakeGenerator{exercises: []domain.Exercise{elephant}}, 6, DefaultConfig())
	h.onboard(t)
	h.send(t, "Animals")

	// Another delivery already claimed the answer.
	v, ok, err := h.sessions.ConsumeExpectedAnswer(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", v)

	resp := h.send(t, "1")
	assert.Equal(t, domain.StateInExercise, resp.State)
	assert.Nil(t, resp.Streak)

	st, err := h.accounts.Status(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Account.XP)
	assert.Equal(t, 6, st.Account.Lives)
}

func TestConcurrentAnswersScoreOnce(t *testing.T) {
	h := newHarness(t, &fakeGenerator{exercises: []domain.Exercise{elephant}}, 6, DefaultConfig())
	h.onboard(t)
	h.send(t, "Animals")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.m.HandleEvent(context.Background(), key, Event{Text: "1"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	st, err := h.accounts.Status(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, 10, st.Account.XP)
	assert.Equal(t, 1, st.Account.Streak)
}

func TestWrongAnswerSpendsLifeAndReviewComesFirst(t *testing.T) {
	h := newHarness(t, &fakeGenerator{exercises: []domain.Exercise{elephant, tiger}}, 6, DefaultConfig())
	h.onboard(t)
	h.send(t, "Animals")

	resp := h.send(t, "3")
	assert.Equal(t, domain.StateStart, resp.State)
	assert.Equal(t, domain.MoodEncouraging, resp.Mood)
	assert.Equal(t, 5, *resp.Lives)
	assert.Equal(t, 0, *resp.Streak)
	assert.Contains(t, resp.Text, elephant.Explanation)

	// Not due yet: fresh content.
	resp = h.send(t, "/next")
	require.Equal(t, domain.StateInExercise, resp.State)
	assert.Equal(t, tiger.Options, resp.Options)
	assert.Equal(t, 2, h.gen.Calls())

	h.clock.Advance(10 * time.Minute)
	resp = h.send(t, "/next")
	require.Equal(t, domain.StateInExercise, resp.State)
	assert.Equal(t, elephant.Options, resp.Options)
	assert.Equal(t, 2, h.gen.Calls(), "a due review must not call the generator")
	assert.True(t, h.session(t).Pending.IsReview)

	n, err := h.db.PendingReviews(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestNoLivesLeftShowsRestoreHint(t *testing.T) {
	h := newHarness(t, &fakeGenerator{exercises: []domain.Exercise{elephant, tiger}}, 1, DefaultConfig())
	h.onboard(t)
	h.send(t, "Animals")
	h.send(t, "4")

	h.clock.Advance(5 * time.Minute)
	resp := h.send(t, "/next")
	assert.Equal(t, domain.StateStart, resp.State)
	require.NotNil(t, resp.Lives)
	assert.Equal(t, 0, *resp.Lives)
	assert.Contains(t, resp.Text, "25")
	assert.Equal(t, 1, h.gen.Calls())
}

func TestAlmostLeavesAccountUntouched(t *testing.T) {
	h := newHarness(t, &fakeGenerator{exercises: []domain.Exercise{elephant}}, 6, DefaultConfig())
	h.onboard(t)
	h.send(t, "Animals")

	resp, err := h.m.HandleEvent(context.Background(), key, Event{Text: "elefant", Transcribed: true})
	require.NoError(t, err)
	assert.Equal(t, domain.StateStart, resp.State)
	assert.Equal(t, domain.MoodEncouraging, resp.Mood)
	assert.Contains(t, resp.Text, "elephant")

	st, err := h.accounts.Status(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, 6, st.Account.Lives)
	assert.Equal(t, 0, st.Account.XP)

	n, err := h.db.PendingReviews(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, ok, err := h.sessions.ConsumeExpectedAnswer(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKidFreeFormAnswerIsLenient(t *testing.T) {
	h := newHarness(t, &fakeGenerator{exercises: []domain.Exercise{elephant}}, 6, DefaultConfig())
	h.onboard(t)
	h.send(t, "Animals")

	resp, err := h.m.HandleEvent(context.Background(), key, Event{Text: "", Transcribed: true, AgeGroup: domain.AgeGroupKid})
	require.NoError(t, err)
	assert.Equal(t, domain.StateInExercise, resp.State, "silence re-prompts without consuming")

	resp, err = h.m.HandleEvent(context.Background(), key, Event{Text: "elefant", Transcribed: true})
	require.NoError(t, err)
	assert.Equal(t, domain.MoodHappy, resp.Mood)
	assert.Equal(t, 1, *resp.Streak)
}

func TestGenerationFailureStaysAtChoosingTopic(t *testing.T) {
	h := newHarness(t, &fakeGenerator{err: errors.New("upstream 502")}, 6, DefaultConfig())
	h.onboard(t)

	resp := h.send(t, "Animals")
	assert.Equal(t, domain.StateChoosingTopic, resp.State)
	assert.Len(t, resp.Options, 7)
	assert.Equal(t, domain.StateChoosingTopic, h.session(t).State)

	_, ok, err := h.sessions.ConsumeExpectedAnswer(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGenerationTimeoutIsAFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GenerationTimeout = 20 * time.Millisecond
	gen := &fakeGenerator{exercises: []domain.Exercise{elephant}, release: make(chan struct{})}
	h := newHarness(t, gen, 6, cfg)
	h.onboard(t)

	resp := h.send(t, "Animals")
	assert.Equal(t, domain.StateChoosingTopic, resp.State)
}

func TestNextFromStartFallsBackToChoosingTopicOnFailure(t *testing.T) {
	gen := &fakeGenerator{exercises: []domain.Exercise{elephant}}
	h := newHarness(t, gen, 6, DefaultConfig())
	h.onboard(t)
	h.send(t, "Animals")
	h.send(t, "1")

	gen.mu.Lock()
	gen.err = errors.New("boom")
	gen.mu.Unlock()

	resp := h.send(t, "/next")
	assert.Equal(t, domain.StateChoosingTopic, resp.State)
	assert.Equal(t, domain.StateChoosingTopic, h.session(t).State)
}

func TestDuplicateExerciseIsRegenerated(t *testing.T) {
	gen := &fakeGenerator{exercises: []domain.Exercise{elephant, tiger}}
	h := newHarness(t, gen, 6, DefaultConfig())
	h.onboard(t)

	hash := dedup.FingerprintExercise(elephant, "Animals")
	require.NoError(t, h.db.MarkCompleted(context.Background(), key, hash, h.clock.Now()))

	resp := h.send(t, "Animals")
	assert.Equal(t, tiger.Options, resp.Options)
	assert.Equal(t, 2, gen.Calls())
	assert.Equal(t, []string{hash}, gen.requests[0].ExcludeHashes)
}

func TestStaleGenerationIsDiscarded(t *testing.T) {
	gen := &fakeGenerator{
		exercises: []domain.Exercise{elephant},
		started:   make(chan struct{}, 1),
		release:   make(chan struct{}),
	}
	h := newHarness(t, gen, 6, DefaultConfig())
	h.onboard(t)

	done := make(chan Response, 1)
	go func() {
		resp, err := h.m.HandleEvent(context.Background(), key, Event{Text: "Animals"})
		assert.NoError(t, err)
		done <- resp
	}()

	<-gen.started
	// The session lock is free while generating, so this goes through.
	resp := h.send(t, "/start")
	assert.Equal(t, domain.StateChoosingNativeLanguage, resp.State)
	close(gen.release)

	stale := <-done
	assert.Equal(t, domain.StateChoosingNativeLanguage, stale.State)
	assert.Equal(t, domain.StateChoosingNativeLanguage, h.session(t).State)
	assert.Nil(t, h.session(t).Pending)
}

type failingAccounts struct{}

func (failingAccounts) Status(context.Context, string) (account.Status, error) {
	return account.Status{}, errors.New("disk I/O error")
}

func (failingAccounts) CanSpend(context.Context, string) (bool, account.Status, error) {
	return false, account.Status{}, errors.New("disk I/O error")
}

func (failingAccounts) RecordAnswer(context.Context, string, bool, string) (account.Outcome, error) {
	return account.Outcome{}, errors.New("disk I/O error")
}

func TestStorageFailureRejectsEvent(t *testing.T) {
	h := newHarness(t, &fakeGenerator{exercises: []domain.Exercise{elephant}}, 6, DefaultConfig())
	h.onboard(t)
	h.m.accounts = failingAccounts{}

	_, err := h.m.HandleEvent(context.Background(), key, Event{Text: "Animals"})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrStorage)
	assert.Equal(t, domain.StateChoosingTopic, h.session(t).State)
	assert.Equal(t, 0, h.gen.Calls())

	_, err = h.m.HandleEvent(context.Background(), key, Event{Text: "/status"})
	assert.ErrorIs(t, err, store.ErrStorage)
}

type failingCompletions struct{ Completions }

func (failingCompletions) MarkCompleted(context.Context, string, string) error {
	return errors.New("disk I/O error")
}

type failingReviews struct{ Reviews }

func (failingReviews) Enqueue(context.Context, string, string, *domain.PendingExercise, time.Duration) error {
	return errors.New("disk I/O error")
}

// armFailingStore loses every write of an expected answer.
type armFailingStore struct{ session.Store }

func (armFailingStore) ArmExpectedAnswer(context.Context, string, string) error {
	return errors.New("connection reset")
}

func TestFailedAnswerRecordKeepsAnswerArmed(t *testing.T) {
	for name, tc := range map[string]struct {
		answer string
		fail   func(m *Machine) func()
	}{
		"record answer": {"1", func(m *Machine) func() {
			working := m.accounts
			m.accounts = failingAccounts{}
			return func() { m.accounts = working }
		}},
		"mark completed": {"1", func(m *Machine) func() {
			working := m.completions
			m.completions = failingCompletions{working}
			return func() { m.completions = working }
		}},
		"enqueue review": {"3", func(m *Machine) func() {
			working := m.reviews
			m.reviews = failingReviews{working}
			return func() { m.reviews = working }
		}},
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, &fakeGenerator{exercises: []domain.Exercise{elephant}}, 6, DefaultConfig())
			h.onboard(t)
			h.send(t, "Animals")

			restore := tc.fail(h.m)
			_, err := h.m.HandleEvent(context.Background(), key, Event{Text: tc.answer})
			assert.ErrorIs(t, err, store.ErrStorage)
			restore()

			s := h.session(t)
			assert.Equal(t, domain.StateInExercise, s.State)
			assert.NotNil(t, s.Pending)
			st, err := h.accounts.Status(context.Background(), key)
			require.NoError(t, err)
			assert.Equal(t, 0, st.Account.XP)
			assert.Equal(t, 6, st.Account.Lives)

			resp := h.send(t, tc.answer)
			assert.Equal(t, domain.StateStart, resp.State)
			require.NotNil(t, resp.Lives)
			if tc.answer == "1" {
				assert.Equal(t, domain.MoodHappy, resp.Mood)
				assert.Equal(t, 6, *resp.Lives)
			} else {
				assert.Equal(t, 5, *resp.Lives)
			}
		})
	}
}

func TestFailedReviewPresentationKeepsReviewQueued(t *testing.T) {
	h := newHarness(t, &fakeGenerator{exercises: []domain.Exercise{elephant, tiger}}, 6, DefaultConfig())
	h.onboard(t)
	h.send(t, "Animals")
	h.send(t, "3")
	h.clock.Advance(10 * time.Minute)

	h.m.sessions = armFailingStore{h.sessions}
	_, err := h.m.HandleEvent(context.Background(), key, Event{Text: "/next"})
	assert.ErrorIs(t, err, store.ErrStorage)
	h.m.sessions = h.sessions

	n, err := h.db.PendingReviews(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	resp := h.send(t, "/next")
	require.Equal(t, domain.StateInExercise, resp.State)
	assert.Equal(t, elephant.Options, resp.Options)
	assert.Equal(t, 1, h.gen.Calls())
}

func TestGlobalCommands(t *testing.T) {
	h := newHarness(t, &fakeGenerator{exercises: []domain.Exercise{elephant}}, 6, DefaultConfig())

	resp := h.send(t, "/topics")
	assert.Equal(t, domain.StateStart, resp.State)
	assert.Equal(t, []string{"/start"}, resp.Options)

	resp = h.send(t, "/dance")
	assert.Equal(t, domain.StateStart, resp.State)

	h.onboard(t)
	resp = h.send(t, "/topics")
	assert.Equal(t, domain.StateChoosingTopic, resp.State)

	resp = h.send(t, "/status")
	assert.Equal(t, domain.StateChoosingTopic, resp.State)
	require.NotNil(t, resp.Lives)
	assert.Equal(t, 6, *resp.Lives)
	assert.Contains(t, resp.Text, "6/6")

	resp = h.send(t, "/start@capybot")
	assert.Equal(t, domain.StateChoosingNativeLanguage, resp.State)
	assert.False(t, h.session(t).HasProfile())
}

func TestGameFlow(t *testing.T) {
	gen := &fakeGenerator{game: domain.Game{
		Title:        "Животные",
		Instructions: "Найди пары",
		Items:        []domain.GameItem{{ID: 1, Word: "dog", Translation: "собака"}},
	}}
	h := newHarness(t, gen, 6, DefaultConfig())
	h.onboard(t)

	resp := h.send(t, "/games")
	require.Equal(t, domain.StateChoosingGameType, resp.State)
	assert.Len(t, resp.Options, 4)

	resp = h.send(t, "Память")
	require.Equal(t, domain.StateChoosingGameTopic, resp.State)

	resp = h.send(t, "Food")
	assert.Equal(t, domain.StateStart, resp.State)
	require.NotNil(t, resp.Game)
	assert.Equal(t, domain.GameMemory, resp.Game.GameType)
	assert.Contains(t, resp.Text, "dog - собака")
	assert.Equal(t, "Food", h.session(t).Topic)
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{GenerationTimeout: time.Second}, Deps{})
	assert.Error(t, err)
	_, err = New(DefaultConfig(), Deps{})
	assert.Error(t, err)
}
