package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ashureev/capylingo/internal/dedup"
	"github.com/ashureev/capylingo/internal/domain"
)

// generate produces the content requested by t without holding the session
// lock, then relocks and commits it if the session has not moved on.
func (m *Machine) generate(ctx context.Context, t *turn) error {
	g := t.gen
	if g.exercise != nil {
		ex, err := m.generateExercise(ctx, t.userID, *g.exercise)
		unlock := m.locks.Lock(t.key)
		defer unlock()
		if err != nil {
			return m.generationFailed(ctx, t, err)
		}
		return m.commitExercise(ctx, t, ex)
	}

	game, err := m.generateGame(ctx, *g.game)
	unlock := m.locks.Lock(t.key)
	defer unlock()
	if err != nil {
		return m.generationFailed(ctx, t, err)
	}
	return m.commitGame(ctx, t, game)
}

// generateExercise asks for an exercise the user has not completed yet,
// giving up on novelty after the configured number of attempts.
func (m *Machine) generateExercise(ctx context.Context, userID string, req domain.ExerciseRequest) (*domain.PendingExercise, error) {
	for attempt := 1; ; attempt++ {
		gctx, cancel := context.WithTimeout(ctx, m.cfg.GenerationTimeout)
		ex, err := m.gen.GenerateExercise(gctx, req)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
		}

		hash := dedup.FingerprintExercise(ex, req.Topic)
		seen, err := m.completions.HasCompleted(ctx, userID, hash)
		if err != nil {
			return nil, storageErr("check completed", err)
		}
		if !seen || attempt >= m.cfg.GenerationAttempts {
			if seen {
				m.logger.Info("presenting already completed exercise", "user_id", userID, "hash", hash, "attempts", attempt)
			}
			return &domain.PendingExercise{
				Question:     ex.Question,
				Options:      ex.Options,
				CorrectIndex: ex.CorrectIndex,
				Explanation:  ex.Explanation,
				VisualPrompt: ex.VisualPrompt,
				Topic:        req.Topic,
				Hash:         hash,
			}, nil
		}
		m.logger.Debug("generated exercise already completed, retrying", "user_id", userID, "hash", hash, "attempt", attempt)
	}
}

func (m *Machine) generateGame(ctx context.Context, req domain.GameRequest) (domain.Game, error) {
	gctx, cancel := context.WithTimeout(ctx, m.cfg.GenerationTimeout)
	defer cancel()
	game, err := m.gen.GenerateGame(gctx, req)
	if err != nil {
		return domain.Game{}, fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	return game, nil
}

// generationFailed keeps the learner where they can retry. Errors other than
// generation failures are returned.
func (m *Machine) generationFailed(ctx context.Context, t *turn, err error) error {
	if !errors.Is(err, ErrGeneration) {
		return err
	}
	g := t.gen
	m.logger.Warn("content generation failed", "session_key", t.key, "topic", g.topic, "error", err)
	t.outcome = "generation_failed"

	if t.sess.State != g.failState {
		sess, ok, err := m.sessions.CompareAndSet(ctx, t.key, g.version, domain.SessionPatch{State: domain.Ref(g.failState)})
		if err != nil {
			return storageErr("update session", err)
		}
		if !ok {
			m.stillWorking(t, sess)
			return nil
		}
		t.sess = sess
	}
	t.reply(g.failState, m.cat.Text(t.lang, "error_generating"), m.cat.topics.labels(t.lang))
	return nil
}

func (m *Machine) commitExercise(ctx context.Context, t *turn, ex *domain.PendingExercise) error {
	g := t.gen
	patch := domain.SessionPatch{
		State:   domain.Ref(domain.StateInExercise),
		Topic:   domain.Ref(g.topic),
		Pending: ex,
	}
	sess, ok, err := m.sessions.CompareAndSet(ctx, t.key, g.version, patch)
	if err != nil {
		return storageErr("commit exercise", err)
	}
	if !ok {
		m.stillWorking(t, sess)
		return nil
	}
	t.sess = sess
	if err := m.sessions.ArmExpectedAnswer(ctx, t.key, strconv.Itoa(ex.CorrectIndex+1)); err != nil {
		return storageErr("arm answer", err)
	}
	t.reply(domain.StateInExercise, m.exerciseText(t.lang, ex, g.prefix), ex.Options)
	return nil
}

func (m *Machine) commitGame(ctx context.Context, t *turn, game domain.Game) error {
	g := t.gen
	patch := domain.SessionPatch{
		State: domain.Ref(domain.StateStart),
		Topic: domain.Ref(g.topic),
	}
	sess, ok, err := m.sessions.CompareAndSet(ctx, t.key, g.version, patch)
	if err != nil {
		return storageErr("commit game", err)
	}
	if !ok {
		m.stillWorking(t, sess)
		return nil
	}
	t.sess = sess
	t.reply(domain.StateStart, m.gamePreview(t.lang, game), commandOptions)
	t.resp.Game = &game
	return nil
}

// stillWorking answers an event whose generated content lost the race to a
// newer transition of the same session.
func (m *Machine) stillWorking(t *turn, current domain.Session) {
	m.logger.Info("discarding generated content for a session that moved on",
		"session_key", t.key, "expected_version", t.gen.version, "version", current.Version)
	t.outcome = "conflict"
	t.sess = current
	t.reply(current.State, m.cat.Text(t.lang, "still_working"), nil)
}

func (m *Machine) gamePreview(lang string, game domain.Game) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎮 %s\n%s\n", game.Title, game.Instructions)
	for _, it := range game.Items {
		switch {
		case it.Question != "":
			fmt.Fprintf(&b, "\n%d. %s", it.ID, it.Question)
		case it.Translation != "":
			fmt.Fprintf(&b, "\n• %s - %s", it.Word, it.Translation)
		default:
			fmt.Fprintf(&b, "\n• %s", it.Word)
		}
	}
	b.WriteString("\n")
	b.WriteString(m.cat.Text(lang, "game_preview"))
	return b.String()
}
