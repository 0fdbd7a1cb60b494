package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"go-auth-tokens/internal/middleware"
	"go-auth-tokens/internal/model"
	"go-auth-tokens/internal/service"
	"go-auth-tokens/pkg/apierror"
)

type CookieConfig struct {
	Name   string
	Path   string
	Secure bool
}

type AuthHandler struct {
	service *service.AuthService
	cookie  CookieConfig
}

func NewAuthHandler(service *service.AuthService, cookie CookieConfig) *AuthHandler {
	if cookie.Name == "" {
		cookie.Name = "refreshToken"
	}
	if cookie.Path == "" {
		cookie.Path = "/"
	}
	return &AuthHandler{service: service, cookie: cookie}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var payload model.RegisterRequest
	if err := decodeJSON(w, r, &payload, false); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.service.Register(auditContext(r), payload.Username, payload.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusCreated, user)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var payload model.LoginRequest
	if err := decodeJSON(w, r, &payload, false); err != nil {
		writeError(w, err)
		return
	}

	session, err := h.service.Login(auditContext(r), payload.Username, payload.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	h.writeSession(w, session)
}

// Refresh reads the refresh token from the cookie, falling back to the
// refresh_token body field for non-browser clients.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	presented, err := h.presentedToken(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	session, err := h.service.Refresh(auditContext(r), presented)
	if err != nil {
		if errors.Is(err, model.ErrUnauthorized) {
			h.clearRefreshCookie(w)
		}
		writeError(w, err)
		return
	}

	h.writeSession(w, session)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	presented, err := h.presentedToken(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.service.Logout(auditContext(r), presented); err != nil {
		writeError(w, err)
		return
	}

	h.clearRefreshCookie(w)
	writeSuccess(w, http.StatusOK, map[string]any{"logged_out": true})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, apierror.Unauthorized("authentication required"))
		return
	}

	user, err := h.service.Profile(r.Context(), claims.Subject)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, user)
}

func (h *AuthHandler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, apierror.Unauthorized("authentication required"))
		return
	}

	if err := h.service.Unregister(auditContext(r), claims.Subject); err != nil {
		writeError(w, err)
		return
	}

	h.clearRefreshCookie(w)
	writeSuccess(w, http.StatusOK, map[string]any{"deleted": true})
}

func (h *AuthHandler) presentedToken(w http.ResponseWriter, r *http.Request) (string, error) {
	if cookie, err := r.Cookie(h.cookie.Name); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}

	var payload model.RefreshRequest
	if err := decodeJSON(w, r, &payload, true); err != nil {
		return "", err
	}
	return strings.TrimSpace(payload.RefreshToken), nil
}

func (h *AuthHandler) writeSession(w http.ResponseWriter, session model.Session) {
	h.setRefreshCookie(w, session.RefreshToken)
	writeSuccess(w, http.StatusOK, model.AccessTokenResponse{
		AccessToken: session.AccessToken.Token,
		TokenType:   service.TokenType,
		ExpiresAt:   session.AccessToken.ExpiresAt,
		User:        session.User,
	})
}

func (h *AuthHandler) setRefreshCookie(w http.ResponseWriter, rt model.RefreshToken) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    rt.Token,
		Path:     h.cookie.Path,
		Expires:  rt.Expires,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     h.cookie.Path,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}
