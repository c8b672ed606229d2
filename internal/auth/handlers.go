package auth

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/classpulse/classpulse/internal/config"
)

const guestCookie = "cp_guest_id"

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	Subject     string `json:"subject"`
	Role        string `json:"role"`
}

// TeacherLoginHandler checks the configured teacher credential and issues a
// teacher token. One teacher account per relay; classroom deployments do not
// need a user table.
func TeacherLoginHandler(a *AuthService, cfg config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.Username != cfg.TeacherUser ||
			bcrypt.CompareHashAndPassword([]byte(cfg.TeacherPassHash), []byte(req.Password)) != nil {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		tok, err := a.IssueJWT(req.Username, RoleTeacher)
		if err != nil {
			http.Error(w, "issue token", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(tokenResponse{AccessToken: tok, Subject: req.Username, Role: RoleTeacher})
	}
}

// GuestLoginHandler issues a student token with a stable per-browser subject.
// The id round-trips through a cookie so the same browser keeps the same
// participant identity across relay reconnects; the client's own identity
// file covers non-browser clients.
func GuestLoginHandler(a *AuthService, cfg config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !cfg.EnableGuestAuth {
			http.Error(w, "guest auth disabled", http.StatusForbidden)
			return
		}

		var sub string
		if c, err := r.Cookie(guestCookie); err == nil && strings.HasPrefix(c.Value, "guest|") {
			sub = c.Value
		} else {
			sub = "guest|" + uuid.NewString()
		}

		tok, err := a.IssueJWT(sub, RoleStudent)
		if err != nil {
			http.Error(w, "issue token", http.StatusInternalServerError)
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     guestCookie,
			Value:    sub,
			Path:     "/",
			HttpOnly: true,
			Secure:   cfg.Mode == config.ModeOnline,
			SameSite: http.SameSiteLaxMode,
			Expires:  time.Now().Add(30 * 24 * time.Hour),
		})
		_ = json.NewEncoder(w).Encode(tokenResponse{AccessToken: tok, Subject: sub, Role: RoleStudent})
	}
}
