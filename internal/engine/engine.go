// Package engine drives the guided learning conversation: one inbound event in,
// one response out, with per-session serialization.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/capylingo/internal/account"
	"github.com/ashureev/capylingo/internal/content"
	"github.com/ashureev/capylingo/internal/domain"
	"github.com/ashureev/capylingo/internal/metrics"
	"github.com/ashureev/capylingo/internal/session"
	"github.com/ashureev/capylingo/internal/shared"
	"github.com/ashureev/capylingo/internal/store"
)

var (
	// ErrGeneration reports a failed, timed out or malformed content generation.
	ErrGeneration = errors.New("content generation failed")
	// ErrInvalidInput reports input outside the vocabulary of the current state.
	ErrInvalidInput = errors.New("invalid input")
)

// Accounts is the account service slice the engine needs.
type Accounts interface {
	Status(ctx context.Context, userID string) (account.Status, error)
	CanSpend(ctx context.Context, userID string) (bool, account.Status, error)
	RecordAnswer(ctx context.Context, userID string, success bool, lang string) (account.Outcome, error)
}

// Completions tracks which exercises a user has finished.
type Completions interface {
	HasCompleted(ctx context.Context, userID, hash string) (bool, error)
	MarkCompleted(ctx context.Context, userID, hash string) error
	CompletedHashesFor(ctx context.Context, userID string) ([]string, error)
}

// Reviews is the spaced repetition queue.
type Reviews interface {
	Enqueue(ctx context.Context, userID, word string, exercise *domain.PendingExercise, delay time.Duration) error
	NextDue(ctx context.Context, userID string) (*domain.ReviewItem, error)
}

// Grader evaluates free-form answers.
type Grader interface {
	Evaluate(ctx context.Context, userAnswer, correctAnswer string, ageGroup domain.AgeGroup) domain.Verdict
}

// Event is one inbound message of a conversation.
type Event struct {
	Text string `json:"text,omitempty"`
	// Selection is a 1-based menu choice or answer option.
	Selection   *int            `json:"selection,omitempty"`
	AgeGroup    domain.AgeGroup `json:"age_group,omitempty"`
	Transcribed bool            `json:"transcribed,omitempty"`
}

// Response is the single outbound message for an Event.
type Response struct {
	ID         string       `json:"id"`
	SessionKey string       `json:"session_key"`
	State      domain.State `json:"state"`
	Text       string       `json:"text"`
	Options    []string     `json:"options,omitempty"`
	Mood       domain.Mood  `json:"mood,omitempty"`
	Lives      *int         `json:"lives,omitempty"`
	XP         *int         `json:"xp,omitempty"`
	Level      *int         `json:"level,omitempty"`
	Streak     *int         `json:"streak,omitempty"`
	Game       *domain.Game `json:"game,omitempty"`
}

// Config tunes the engine.
type Config struct {
	GenerationTimeout  time.Duration
	GenerationAttempts int
	ReviewDelay        time.Duration
}

// DefaultConfig returns the product defaults.
func DefaultConfig() Config {
	return Config{
		GenerationTimeout:  30 * time.Second,
		GenerationAttempts: 2,
		ReviewDelay:        10 * time.Minute,
	}
}

// Deps are the collaborators of a Machine.
type Deps struct {
	Sessions    session.Store
	Accounts    Accounts
	Completions Completions
	Reviews     Reviews
	Grader      Grader
	Generator   content.Generator
	Catalog     *Catalog
	Logger      *slog.Logger
}

// Machine is the conversation state machine.
type Machine struct {
	cfg         Config
	sessions    session.Store
	accounts    Accounts
	completions Completions
	reviews     Reviews
	grader      Grader
	gen         content.Generator
	cat         *Catalog
	locks       *shared.KeyedMutex
	logger      *slog.Logger
}

// New validates cfg and deps and returns a Machine.
func New(cfg Config, deps Deps) (*Machine, error) {
	if cfg.GenerationTimeout <= 0 {
		return nil, fmt.Errorf("generation timeout must be > 0, got %s", cfg.GenerationTimeout)
	}
	if cfg.GenerationAttempts < 1 {
		return nil, fmt.Errorf("generation attempts must be >= 1, got %d", cfg.GenerationAttempts)
	}
	if cfg.ReviewDelay < 0 {
		return nil, fmt.Errorf("review delay must be >= 0, got %s", cfg.ReviewDelay)
	}
	if deps.Sessions == nil || deps.Accounts == nil || deps.Completions == nil ||
		deps.Reviews == nil || deps.Grader == nil || deps.Generator == nil {
		return nil, errors.New("engine: missing dependency")
	}
	if deps.Catalog == nil {
		c, err := DefaultCatalog()
		if err != nil {
			return nil, err
		}
		deps.Catalog = c
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Machine{
		cfg:         cfg,
		sessions:    deps.Sessions,
		accounts:    deps.Accounts,
		completions: deps.Completions,
		reviews:     deps.Reviews,
		grader:      deps.Grader,
		gen:         deps.Generator,
		cat:         deps.Catalog,
		locks:       shared.NewKeyedMutex(),
		logger:      deps.Logger,
	}, nil
}

// turn carries one event through the locked phase and, when content is
// needed, through generation and commit.
type turn struct {
	key    string
	userID string
	lang   string
	sess   domain.Session
	resp   Response
	// outcome labels the events metric.
	outcome string
	gen     *generation
}

// generation is content requested in the locked phase and produced after it.
type generation struct {
	version   uint64
	failState domain.State
	topic     string
	prefix    string
	exercise  *domain.ExerciseRequest
	game      *domain.GameRequest
}

// HandleEvent processes ev for the session key. Every failure except
// storage is turned into a normal Response; storage failures reject the
// event and are returned wrapped in store.ErrStorage.
func (m *Machine) HandleEvent(ctx context.Context, key string, ev Event) (Response, error) {
	if key == "" {
		return Response{}, errors.New("empty session key")
	}
	start := time.Now()

	unlock := m.locks.Lock(key)
	t, err := m.transition(ctx, key, ev)
	unlock()

	if err == nil && t.gen != nil {
		err = m.generate(ctx, t)
	}
	metrics.EventDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.EventsTotal.WithLabelValues("", "error").Inc()
		m.logger.Error("event rejected", "session_key", key, "error", err)
		return Response{}, err
	}

	t.resp.ID = uuid.NewString()
	t.resp.SessionKey = key
	metrics.EventsTotal.WithLabelValues(string(t.resp.State), t.outcome).Inc()
	m.logger.Debug("event handled", "session_key", key, "state", t.resp.State, "outcome", t.outcome)
	return t.resp, nil
}

func (m *Machine) transition(ctx context.Context, key string, ev Event) (*turn, error) {
	sess, _, err := m.sessions.Get(ctx, key)
	if err != nil {
		return nil, storageErr("get session", err)
	}
	if validAgeGroup(ev.AgeGroup) && ev.AgeGroup != sess.AgeGroup {
		if sess, err = m.sessions.Update(ctx, key, domain.SessionPatch{AgeGroup: domain.Ref(ev.AgeGroup)}); err != nil {
			return nil, storageErr("update session", err)
		}
	}

	// The session key owns the durable account; nothing in an event can
	// point it at another one.
	t := &turn{key: key, userID: key, sess: sess, lang: m.cat.lang(sess.NativeLanguage), outcome: "ok"}

	text := strings.TrimSpace(ev.Text)
	if strings.HasPrefix(text, "/") {
		return t, m.command(ctx, t, text)
	}

	switch sess.State {
	case domain.StateChoosingNativeLanguage:
		return t, m.chooseNative(ctx, t, text, ev.Selection)
	case domain.StateChoosingLearnLanguage:
		return t, m.chooseLearn(ctx, t, text, ev.Selection)
	case domain.StateChoosingLevel:
		return t, m.chooseLevel(ctx, t, text, ev.Selection)
	case domain.StateChoosingTopic:
		return t, m.chooseTopic(ctx, t, text, ev.Selection)
	case domain.StateInExercise:
		return t, m.answer(ctx, t, text, ev)
	case domain.StateChoosingGameType:
		return t, m.chooseGameType(ctx, t, text, ev.Selection)
	case domain.StateChoosingGameTopic:
		return t, m.chooseGameTopic(t, text, ev.Selection)
	default:
		return t, m.rest(ctx, t)
	}
}

// rest handles free input in the start state.
func (m *Machine) rest(ctx context.Context, t *turn) error {
	if !t.sess.HasProfile() {
		return m.welcome(ctx, t)
	}
	t.reply(t.sess.State, m.cat.Text(t.lang, "how_can_help"), commandOptions)
	return nil
}

func (m *Machine) welcome(ctx context.Context, t *turn) error {
	if err := m.write(ctx, t, domain.SessionPatch{State: domain.Ref(domain.StateChoosingNativeLanguage)}); err != nil {
		return err
	}
	t.lang = m.cat.lang(t.sess.NativeLanguage)
	t.reply(domain.StateChoosingNativeLanguage, m.cat.Text(t.lang, "welcome"), m.cat.languages.labels(t.lang))
	return nil
}

func (m *Machine) chooseNative(ctx context.Context, t *turn, text string, sel *int) error {
	c, err := m.cat.languages.match(text, sel)
	if err != nil {
		return m.invalid(t, "please_select_native", m.cat.languages.labels(t.lang))
	}
	patch := domain.SessionPatch{
		State:          domain.Ref(domain.StateChoosingLearnLanguage),
		NativeLanguage: domain.Ref(c.Key),
	}
	if err := m.write(ctx, t, patch); err != nil {
		return err
	}
	t.lang = c.Key
	t.reply(domain.StateChoosingLearnLanguage,
		m.cat.Text(t.lang, "native_selected", "lang", c.Label(t.lang)),
		m.cat.languages.labels(t.lang))
	return nil
}

func (m *Machine) chooseLearn(ctx context.Context, t *turn, text string, sel *int) error {
	c, err := m.cat.languages.match(text, sel)
	if err != nil {
		return m.invalid(t, "please_select_learn", m.cat.languages.labels(t.lang))
	}
	patch := domain.SessionPatch{
		State:         domain.Ref(domain.StateChoosingLevel),
		LearnLanguage: domain.Ref(c.Key),
	}
	if err := m.write(ctx, t, patch); err != nil {
		return err
	}
	t.reply(domain.StateChoosingLevel,
		m.cat.Text(t.lang, "learn_selected", "lang", c.Label(t.lang)),
		m.cat.levels.labels(t.lang))
	return nil
}

func (m *Machine) chooseLevel(ctx context.Context, t *turn, text string, sel *int) error {
	c, err := m.cat.levels.match(text, sel)
	if err != nil {
		return m.invalid(t, "please_select_level", m.cat.levels.labels(t.lang))
	}
	patch := domain.SessionPatch{
		State: domain.Ref(domain.StateChoosingTopic),
		Level: domain.Ref(c.Key),
	}
	if err := m.write(ctx, t, patch); err != nil {
		return err
	}
	t.reply(domain.StateChoosingTopic,
		m.cat.Text(t.lang, "level_selected", "level", c.Label(t.lang)),
		m.cat.topics.labels(t.lang))
	return nil
}

func (m *Machine) chooseTopic(ctx context.Context, t *turn, text string, sel *int) error {
	c, err := m.cat.topics.match(text, sel)
	if err != nil {
		return m.invalid(t, "select_topic", m.cat.topics.labels(t.lang))
	}
	prefix := m.cat.Text(t.lang, "topic_selected", "topic", c.Label(t.lang))
	return m.startExercise(ctx, t, c.Key, prefix)
}

func (m *Machine) chooseGameType(ctx context.Context, t *turn, text string, sel *int) error {
	c, err := m.cat.gameTypes.match(text, sel)
	if err != nil {
		return m.invalid(t, "game_type_select", m.cat.gameTypes.labels(t.lang))
	}
	patch := domain.SessionPatch{
		State:    domain.Ref(domain.StateChoosingGameTopic),
		GameType: domain.Ref(c.Key),
	}
	if err := m.write(ctx, t, patch); err != nil {
		return err
	}
	t.reply(domain.StateChoosingGameTopic, m.cat.Text(t.lang, "game_topic_select"), m.cat.topics.labels(t.lang))
	return nil
}

func (m *Machine) chooseGameTopic(t *turn, text string, sel *int) error {
	c, err := m.cat.topics.match(text, sel)
	if err != nil {
		return m.invalid(t, "game_topic_select", m.cat.topics.labels(t.lang))
	}
	t.gen = &generation{
		version:   t.sess.Version,
		failState: domain.StateChoosingGameTopic,
		topic:     c.Key,
		game: &domain.GameRequest{
			LearnLanguage:  t.sess.LearnLanguage,
			NativeLanguage: t.sess.NativeLanguage,
			Level:          t.sess.Level,
			Topic:          c.Key,
			GameType:       domain.GameType(t.sess.GameType),
		},
	}
	return nil
}

// startExercise gates on lives, serves a due review under the lock, or
// schedules generation of a fresh exercise.
func (m *Machine) startExercise(ctx context.Context, t *turn, topic, prefix string) error {
	ok, st, err := m.accounts.CanSpend(ctx, t.userID)
	if err != nil {
		return storageErr("check lives", err)
	}
	if !ok {
		metrics.NoLivesTotal.Inc()
		t.outcome = "no_lives"
		minutes := int((st.NextRestoreIn + time.Minute - 1) / time.Minute)
		t.reply(t.sess.State, m.cat.Text(t.lang, "no_lives", "minutes", strconv.Itoa(minutes)), commandOptions)
		t.withStatus(st)
		return nil
	}

	item, err := m.reviews.NextDue(ctx, t.userID)
	if err != nil {
		return storageErr("next review", err)
	}
	if item != nil && item.Exercise != nil {
		metrics.ReviewsServedTotal.Inc()
		t.outcome = "review"
		intro := m.cat.Text(t.lang, "review_intro")
		if prefix != "" {
			intro = prefix + "\n\n" + intro
		}
		if err := m.present(ctx, t, topic, item.Exercise, intro); err != nil {
			// NextDue already removed the item; put it back so it is not lost.
			if requeueErr := m.reviews.Enqueue(ctx, t.userID, item.Word, item.Exercise, 0); requeueErr != nil {
				m.logger.Warn("failed to requeue review", "user_id", t.userID, "word", item.Word, "error", requeueErr)
			}
			return err
		}
		return nil
	}

	hashes, err := m.completions.CompletedHashesFor(ctx, t.userID)
	if err != nil {
		return storageErr("completed hashes", err)
	}
	t.gen = &generation{
		version:   t.sess.Version,
		failState: domain.StateChoosingTopic,
		topic:     topic,
		prefix:    prefix,
		exercise: &domain.ExerciseRequest{
			LearnLanguage:  t.sess.LearnLanguage,
			NativeLanguage: t.sess.NativeLanguage,
			Level:          t.sess.Level,
			Topic:          topic,
			ExcludeHashes:  hashes,
		},
	}
	return nil
}

// present moves the session into the exercise and arms its answer.
// Callers hold the session lock.
func (m *Machine) present(ctx context.Context, t *turn, topic string, ex *domain.PendingExercise, intro string) error {
	patch := domain.SessionPatch{
		State:   domain.Ref(domain.StateInExercise),
		Topic:   domain.Ref(topic),
		Pending: ex,
	}
	if err := m.write(ctx, t, patch); err != nil {
		return err
	}
	if err := m.sessions.ArmExpectedAnswer(ctx, t.key, strconv.Itoa(ex.CorrectIndex+1)); err != nil {
		return storageErr("arm answer", err)
	}
	t.reply(domain.StateInExercise, m.exerciseText(t.lang, ex, intro), ex.Options)
	return nil
}

func (m *Machine) exerciseText(lang string, ex *domain.PendingExercise, intro string) string {
	var b strings.Builder
	if intro != "" {
		b.WriteString(intro)
		b.WriteString("\n\n")
	}
	b.WriteString(m.cat.Text(lang, "question", "question", ex.Question))
	for i, o := range ex.Options {
		fmt.Fprintf(&b, "\n%d. %s", i+1, o)
	}
	return b.String()
}

// invalid re-prompts in the current state without touching the session.
func (m *Machine) invalid(t *turn, key string, options []string) error {
	t.outcome = "invalid"
	t.reply(t.sess.State, m.cat.Text(t.lang, key), options)
	return nil
}

// write applies patch to the session held by t.
func (m *Machine) write(ctx context.Context, t *turn, patch domain.SessionPatch) error {
	s, err := m.sessions.Update(ctx, t.key, patch)
	if err != nil {
		return storageErr("update session", err)
	}
	t.sess = s
	return nil
}

func (t *turn) reply(state domain.State, text string, options []string) {
	t.resp.State = state
	t.resp.Text = text
	t.resp.Options = options
}

func (t *turn) withStatus(st account.Status) {
	if st.Account == nil {
		return
	}
	a := st.Account
	t.resp.Lives = domain.Ref(a.Lives)
	t.resp.XP = domain.Ref(a.XP)
	t.resp.Level = domain.Ref(a.Level)
	t.resp.Streak = domain.Ref(a.Streak)
}

func validAgeGroup(g domain.AgeGroup) bool {
	return g == domain.AgeGroupAdult || g == domain.AgeGroupKid
}

var commandOptions = []string{"/next", "/topics", "/games", "/status"}

// storageErr marks err as a storage failure unless it already is one.
func storageErr(op string, err error) error {
	if errors.Is(err, store.ErrStorage) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, store.ErrStorage, err)
}
