package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Simplici0/micaa/internal/apperrors"
	"github.com/Simplici0/micaa/internal/auth"
	"github.com/Simplici0/micaa/internal/store"
)

const sessionCookieName = "micaa_session"

type authService struct {
	store    *store.Store
	sessions *auth.Sessions
}

func newAuthService(st *store.Store, sessionSecret string) *authService {
	return &authService{store: st, sessions: auth.NewSessions(sessionSecret)}
}

func (a *authService) validateCredentials(ctx context.Context, email, password string) (store.User, bool, error) {
	u, err := a.store.UserByEmail(ctx, email)
	if errors.Is(err, apperrors.ErrNotFound) {
		return store.User{}, false, nil
	}
	if err != nil {
		return store.User{}, false, fmt.Errorf("query user credentials: %w", err)
	}
	if !u.IsActive {
		return store.User{}, false, nil
	}

	ok, err := auth.CheckPassword(u.PasswordHash, password)
	if err != nil {
		return store.User{}, false, fmt.Errorf("check password: %w", err)
	}
	return u, ok, nil
}

// authenticate returns the active user named by the session cookie.
func (a *authService) authenticate(r *http.Request) (store.User, bool) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return store.User{}, false
	}
	id, ok := a.sessions.Verify(cookie.Value)
	if !ok {
		return store.User{}, false
	}
	u, err := a.store.UserByID(r.Context(), id)
	if err != nil || !u.IsActive {
		return store.User{}, false
	}
	return u, true
}

func (a *authService) setSessionCookie(w http.ResponseWriter, userID int64) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    a.sessions.Value(userID),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *authService) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

type userKey struct{}

func withUser(ctx context.Context, u store.User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

func userFromContext(ctx context.Context) (store.User, bool) {
	u, ok := ctx.Value(userKey{}).(store.User)
	return u, ok
}

func (s *server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := s.auth.authenticate(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "authentication required"})
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), u)))
	})
}

// requireAdmin guards recomputes, global adjustments and shared settings.
func (s *server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := userFromContext(r.Context())
		if !ok || !u.IsAdmin() {
			s.writeError(w, r, apperrors.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid form"})
		return
	}

	u, valid, err := s.auth.validateCredentials(r.Context(), r.FormValue("email"), r.FormValue("password"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !valid {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid credentials"})
		return
	}

	s.auth.setSessionCookie(w, u.ID)
	writeJSON(w, http.StatusOK, u)
}

func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.auth.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}
