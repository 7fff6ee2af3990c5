package engine

import (
	"context"
	"strconv"
	"strings"

	"github.com/ashureev/capylingo/internal/domain"
)

// command handles the global commands, valid in every state.
func (m *Machine) command(ctx context.Context, t *turn, text string) error {
	name := strings.ToLower(strings.Fields(text)[0])
	if i := strings.IndexByte(name, '@'); i > 0 {
		name = name[:i]
	}

	switch name {
	case "/start":
		age := t.sess.AgeGroup
		if err := m.sessions.Clear(ctx, t.key); err != nil {
			return storageErr("clear session", err)
		}
		t.sess = domain.NewSession(t.key)
		if err := m.write(ctx, t, domain.SessionPatch{AgeGroup: domain.Ref(age)}); err != nil {
			return err
		}
		return m.welcome(ctx, t)

	case "/topics":
		if !t.sess.HasProfile() {
			return m.needProfile(ctx, t)
		}
		if err := m.write(ctx, t, domain.SessionPatch{State: domain.Ref(domain.StateChoosingTopic)}); err != nil {
			return err
		}
		t.reply(domain.StateChoosingTopic, m.cat.Text(t.lang, "topics_list"), m.cat.topics.labels(t.lang))
		return nil

	case "/games":
		if !t.sess.HasProfile() {
			return m.needProfile(ctx, t)
		}
		if err := m.write(ctx, t, domain.SessionPatch{State: domain.Ref(domain.StateChoosingGameType)}); err != nil {
			return err
		}
		t.reply(domain.StateChoosingGameType, m.cat.Text(t.lang, "game_type_select"), m.cat.gameTypes.labels(t.lang))
		return nil

	case "/next":
		if !t.sess.HasProfile() {
			return m.needProfile(ctx, t)
		}
		if t.sess.Topic == "" {
			if err := m.write(ctx, t, domain.SessionPatch{State: domain.Ref(domain.StateChoosingTopic)}); err != nil {
				return err
			}
			t.reply(domain.StateChoosingTopic, m.cat.Text(t.lang, "select_topic"), m.cat.topics.labels(t.lang))
			return nil
		}
		return m.startExercise(ctx, t, t.sess.Topic, "")

	case "/status":
		st, err := m.accounts.Status(ctx, t.userID)
		if err != nil {
			return storageErr("account status", err)
		}
		a := st.Account
		lives := strconv.Itoa(a.Lives)
		if st.PremiumActive {
			lives = "∞"
		}
		t.reply(t.sess.State, m.cat.Text(t.lang, "status",
			"lives", lives,
			"cap", strconv.Itoa(st.Cap),
			"xp", strconv.Itoa(a.XP),
			"next_xp", strconv.Itoa(st.NextLevelXP),
			"level", strconv.Itoa(a.Level),
			"streak", strconv.Itoa(a.Streak),
			"daily", strconv.Itoa(a.DailyStreak),
		), commandOptions)
		t.withStatus(st)
		return nil
	}

	t.outcome = "invalid"
	t.reply(t.sess.State, m.cat.Text(t.lang, "unknown_command"), commandOptions)
	return nil
}

// needProfile sends the learner back to start until languages and level are set.
func (m *Machine) needProfile(ctx context.Context, t *turn) error {
	if err := m.write(ctx, t, domain.SessionPatch{State: domain.Ref(domain.StateStart)}); err != nil {
		return err
	}
	t.reply(domain.StateStart, m.cat.Text(t.lang, "need_lang_level"), []string{"/start"})
	return nil
}
