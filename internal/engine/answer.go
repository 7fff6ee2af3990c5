package engine

import (
	"context"
	"strconv"
	"strings"

	"github.com/ashureev/capylingo/internal/domain"
)

// answer grades an answer-bearing event against the armed expected answer.
func (m *Machine) answer(ctx context.Context, t *turn, text string, ev Event) error {
	pending := t.sess.Pending
	digit, isDigit := chosenOption(text, ev.Selection)

	if !isDigit && text == "" {
		t.outcome = "invalid"
		key := "enter_number"
		if ev.Transcribed && t.sess.AgeGroup == domain.AgeGroupKid {
			key = "voice_retry"
		}
		var options []string
		if pending != nil {
			options = pending.Options
		}
		t.reply(t.sess.State, m.cat.Text(t.lang, key), options)
		return nil
	}

	expected, ok, err := m.sessions.ConsumeExpectedAnswer(ctx, t.key)
	if err != nil {
		return storageErr("consume answer", err)
	}
	if !ok || pending == nil {
		t.outcome = "invalid"
		t.reply(t.sess.State, m.cat.Text(t.lang, "no_active_exercise"), commandOptions)
		return nil
	}

	var verdict domain.Verdict
	if isDigit {
		verdict = domain.VerdictWrong
		if strconv.Itoa(digit) == expected {
			verdict = domain.VerdictCorrect
		}
	} else {
		verdict = m.grader.Evaluate(ctx, text, pending.CorrectOption(), t.sess.AgeGroup)
	}
	t.outcome = verdict.String()

	// Every storage failure from here on re-arms the answer so the event can
	// be retried. The account write must stay last: it cannot be repeated.
	rearm := func(op string, err error) error {
		if rearmErr := m.sessions.ArmExpectedAnswer(ctx, t.key, expected); rearmErr != nil {
			m.logger.Warn("failed to re-arm answer after rejected event", "session_key", t.key, "error", rearmErr)
		}
		return storageErr(op, err)
	}

	if verdict == domain.VerdictAlmost {
		// No life, reward or review changes for a near miss.
		sess, err := m.sessions.Update(ctx, t.key, domain.SessionPatch{State: domain.Ref(domain.StateStart), ClearPending: true})
		if err != nil {
			return rearm("update session", err)
		}
		t.sess = sess
		t.resp.Mood = domain.MoodEncouraging
		text := m.cat.Text(t.lang, "almost", "answer", pending.CorrectOption()) + "\n\n" + m.cat.Text(t.lang, "next_exercise")
		t.reply(domain.StateStart, text, commandOptions)
		return nil
	}

	success := verdict == domain.VerdictCorrect
	var lines []string
	if success {
		if err := m.completions.MarkCompleted(ctx, t.userID, pending.Hash); err != nil {
			return rearm("mark completed", err)
		}
		lines = append(lines, m.cat.Text(t.lang, "correct"))
	} else {
		if err := m.reviews.Enqueue(ctx, t.userID, pending.CorrectOption(), pending, m.cfg.ReviewDelay); err != nil {
			return rearm("enqueue review", err)
		}
		if pending.Explanation != "" {
			lines = append(lines, m.cat.Text(t.lang, "incorrect_with_explanation", "explanation", pending.Explanation))
		} else {
			lines = append(lines, m.cat.Text(t.lang, "incorrect", "answer", pending.CorrectOption()))
		}
	}

	prev := t.sess
	sess, err := m.sessions.Update(ctx, t.key, domain.SessionPatch{State: domain.Ref(domain.StateStart), ClearPending: true})
	if err != nil {
		return rearm("update session", err)
	}
	t.sess = sess
	out, err := m.accounts.RecordAnswer(ctx, t.userID, success, t.lang)
	if err != nil {
		restore := domain.SessionPatch{State: domain.Ref(prev.State), Topic: domain.Ref(prev.Topic), Pending: pending}
		if _, restoreErr := m.sessions.Update(ctx, t.key, restore); restoreErr != nil {
			m.logger.Warn("failed to restore exercise after rejected event", "session_key", t.key, "error", restoreErr)
		}
		return rearm("record answer", err)
	}

	lines = append(lines, out.Reward.Message)
	if out.Reward.LeveledUp {
		lines = append(lines, m.cat.Text(t.lang, "level_up", "level", strconv.Itoa(out.Reward.Level)))
	}
	lines = append(lines, m.cat.Text(t.lang, "next_exercise"))
	t.resp.Mood = out.Reward.Mood
	t.withStatus(out.Status)
	t.reply(domain.StateStart, strings.Join(lines, "\n\n"), commandOptions)
	return nil
}

// chosenOption returns the 1-based option picked by a selection or a bare number.
func chosenOption(text string, selection *int) (int, bool) {
	if selection != nil {
		return *selection, true
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return 0, false
	}
	return n, true
}
