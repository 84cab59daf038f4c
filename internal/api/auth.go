package api

import (
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"accessportal/internal/auth"
	"accessportal/internal/middleware"
	"accessportal/internal/sso"
	"accessportal/internal/util"
)

const (
	oauthStateCookie = "cnm_oauth_state"
	oauthStatePath   = "/api/auth/google"
	oauthStateTTL    = 10 * time.Minute
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := util.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	token, err := h.svc.Login(r.Context(), req.Email, req.Password, h.clientIP(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.setSession(w, r, token)
	util.WriteJSON(w, http.StatusOK, message("Login successful"))
}

func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(h.cfg.SessionCookieName); err == nil {
		h.svc.Logout(r.Context(), c.Value, h.clientIP(r))
	}
	http.SetCookie(w, middleware.ClearedCookie(h.cfg.SessionCookieName, h.cfg.ResolveCookieSecure(r)))
	util.WriteJSON(w, http.StatusOK, message("Logout successful"))
}

// Me answers whether the caller is an administrator. Unauthenticated callers
// get false rather than an error.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	c, _ := middleware.Claims(r.Context())
	util.WriteJSON(w, http.StatusOK, map[string]bool{"isAdmin": h.svc.IsAdmin(r.Context(), c)})
}

func (h *Handlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	c, ok := h.session(w, r)
	if !ok {
		return
	}
	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := util.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.svc.ChangePassword(r.Context(), c.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		h.fail(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, message("Password updated successfully"))
}

func (h *Handlers) Profile(w http.ResponseWriter, r *http.Request) {
	c, ok := h.session(w, r)
	if !ok {
		return
	}
	p, err := h.svc.Profile(r.Context(), c.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, p)
}

func (h *Handlers) AcceptTerms(w http.ResponseWriter, r *http.Request) {
	c, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := h.svc.AcceptTerms(r.Context(), c.UserID, h.clientIP(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handlers) Links(w http.ResponseWriter, r *http.Request) {
	c, ok := h.session(w, r)
	if !ok {
		return
	}
	a, err := h.svc.Links(r.Context(), c.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, a)
}

func (h *Handlers) Link(w http.ResponseWriter, r *http.Request) {
	c, ok := h.session(w, r)
	if !ok {
		return
	}
	l, err := h.svc.Link(r.Context(), c.UserID, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, l)
}

func (h *Handlers) IssueInvite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email   string `json:"email"`
		GroupID string `json:"groupId"`
	}
	if err := util.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	inv, err := h.svc.IssueInvite(r.Context(), req.Email, req.GroupID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, map[string]string{
		"message":        "Invite generated successfully",
		"userId":         inv.UserID,
		"activationLink": inv.ActivationLink,
	})
}

func (h *Handlers) LookupInvite(w http.ResponseWriter, r *http.Request) {
	email, err := h.svc.LookupInvite(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, map[string]string{"email": email})
}

func (h *Handlers) CompleteInvite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := util.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.svc.CompleteInvite(r.Context(), req.Token, req.Password); err != nil {
		h.fail(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, message("Password set and account activated successfully"))
}

func (h *Handlers) GoogleStart(w http.ResponseWriter, r *http.Request) {
	if h.sso == nil || !h.sso.Configured() {
		loginError(w, r, sso.CodeNotConfigured)
		return
	}
	state, err := auth.NewState()
	if err != nil {
		h.log.WithError(err).Error("generate oauth state")
		loginError(w, r, sso.CodeInternal)
		return
	}
	target, err := h.sso.AuthCodeURL(state)
	if err != nil {
		loginError(w, r, sso.CodeOf(err))
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     oauthStatePath,
		MaxAge:   int(oauthStateTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cfg.ResolveCookieSecure(r),
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, target, http.StatusFound)
}

// GoogleCallback finishes the SSO round trip. A state cookie, when present,
// must match the returned state.
func (h *Handlers) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	if h.sso == nil {
		loginError(w, r, sso.CodeNotConfigured)
		return
	}
	q := r.URL.Query()
	if c, err := r.Cookie(oauthStateCookie); err == nil && c.Value != "" {
		http.SetCookie(w, &http.Cookie{Name: oauthStateCookie, Path: oauthStatePath, MaxAge: -1, HttpOnly: true})
		if q.Get("state") != c.Value {
			loginError(w, r, sso.CodeStateMismatch)
			return
		}
	}
	res, err := h.sso.Callback(r.Context(), q.Get("code"), h.clientIP(r))
	if err != nil {
		code := sso.CodeOf(err)
		if code == sso.CodeInternal {
			h.log.WithError(err).Error("sso callback failed")
		} else {
			h.log.WithError(err).WithField("code", code).Warn("sso callback rejected")
		}
		loginError(w, r, code)
		return
	}
	h.setSession(w, r, res.Token)
	http.Redirect(w, r, "/", http.StatusFound)
}

func loginError(w http.ResponseWriter, r *http.Request, code string) {
	http.Redirect(w, r, "/login?error="+url.QueryEscape(code), http.StatusFound)
}
