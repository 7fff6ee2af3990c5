package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/capylingo/internal/account"
	"github.com/ashureev/capylingo/internal/identity"
)

// AccountView is the public shape of an account status.
type AccountView struct {
	UserID               string     `json:"user_id"`
	Lives                int        `json:"lives"`
	Cap                  int        `json:"cap"`
	NextRestoreInSeconds int64      `json:"next_restore_in_seconds"`
	Premium              bool       `json:"premium"`
	PremiumUntil         *time.Time `json:"premium_until,omitempty"`
	Streak               int        `json:"streak"`
	DailyStreak          int        `json:"daily_streak"`
	XP                   int        `json:"xp"`
	Level                int        `json:"level"`
	NextLevelXP          int        `json:"next_level_xp"`
}

func newAccountView(st account.Status) AccountView {
	a := st.Account
	return AccountView{
		UserID:               a.UserID,
		Lives:                a.Lives,
		Cap:                  st.Cap,
		NextRestoreInSeconds: int64(st.NextRestoreIn.Seconds()),
		Premium:              st.PremiumActive,
		PremiumUntil:         a.PremiumUntil,
		Streak:               a.Streak,
		DailyStreak:          a.DailyStreak,
		XP:                   a.XP,
		Level:                a.Level,
		NextLevelXP:          st.NextLevelXP,
	}
}

type premiumRequest struct {
	Days int `json:"days" validate:"required,gt=0,lte=3650"`
}

type livesRequest struct {
	Amount int `json:"amount" validate:"required,gt=0,lte=100"`
}

// GetOwnAccount returns the restored status of the caller's account.
func (h *Handler) GetOwnAccount(w http.ResponseWriter, r *http.Request) {
	userID := identity.SessionKeyFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusBadRequest, "missing session key")
		return
	}
	st, err := h.accounts.Status(r.Context(), userID)
	if err != nil {
		h.serviceError(w, "account status", err)
		return
	}
	JSON(w, http.StatusOK, newAccountView(st))
}

// GetAccount returns the restored status of any account.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	st, err := h.accounts.Status(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.serviceError(w, "account status", err)
		return
	}
	JSON(w, http.StatusOK, newAccountView(st))
}

// PostPremium extends premium by the requested number of days.
func (h *Handler) PostPremium(w http.ResponseWriter, r *http.Request) {
	var req premiumRequest
	if err := h.decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid premium request: "+err.Error())
		return
	}
	userID := chi.URLParam(r, "userID")
	st, err := h.accounts.GrantPremium(r.Context(), userID, req.Days)
	if err != nil {
		h.serviceError(w, "grant premium", err)
		return
	}
	h.logger.Info("premium granted over api", "user_id", userID, "days", req.Days)
	JSON(w, http.StatusOK, newAccountView(st))
}

// PostLives grants bonus lives up to the cap.
func (h *Handler) PostLives(w http.ResponseWriter, r *http.Request) {
	var req livesRequest
	if err := h.decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid lives request: "+err.Error())
		return
	}
	st, err := h.accounts.AddLives(r.Context(), chi.URLParam(r, "userID"), req.Amount)
	if err != nil {
		h.serviceError(w, "add lives", err)
		return
	}
	JSON(w, http.StatusOK, newAccountView(st))
}
