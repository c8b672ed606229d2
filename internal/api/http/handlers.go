// Package api exposes the relay's HTTP surface: a small REST layer for
// login, session resolution and health, and the WebSocket endpoint that
// carries the tree protocol.
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/classpulse/classpulse/internal/auth"
	"github.com/classpulse/classpulse/internal/live"
	"github.com/classpulse/classpulse/internal/rtstore"
)

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// ResolveSessionHandler answers the join screen: given a session id or a
// join code, return just enough of the session document to render the
// lobby. No auth; the join code is the shared secret.
func ResolveSessionHandler(store rtstore.Store) http.HandlerFunc {
	type out struct {
		SessionID string `json:"session_id"`
		Mode      string `json:"mode"`
		IsActive  bool   `json:"is_active"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ref := chi.URLParam(r, "ref")
		raw, err := store.Read(r.Context(), live.SessionPath(ref))
		if errors.Is(err, rtstore.ErrNotFound) {
			code := strings.ToUpper(strings.TrimSpace(ref))
			var ptr struct {
				SessionID string `json:"session_id"`
			}
			codeRaw, codeErr := store.Read(r.Context(), live.JoinCodePath(code))
			if codeErr != nil || json.Unmarshal(codeRaw, &ptr) != nil || ptr.SessionID == "" {
				http.Error(w, "session not found", http.StatusNotFound)
				return
			}
			raw, err = store.Read(r.Context(), live.SessionPath(ptr.SessionID))
		}
		if err != nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		var sess live.Session
		if err := json.Unmarshal(raw, &sess); err != nil {
			http.Error(w, "corrupt session", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, out{SessionID: sess.ID, Mode: sess.Mode, IsActive: sess.IsActive})
	}
}

// CreateSessionHandler creates a session server-side so the teacher UI gets
// the generated id and join code from one REST call. The subject claim
// becomes the session owner. Teacher-only; mounted behind RequireRole.
func CreateSessionHandler(store rtstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := auth.ClaimsFromContext(r.Context())
		if claims == nil {
			http.Error(w, "missing claims", http.StatusUnauthorized)
			return
		}
		var req struct {
			QuizRef string       `json:"quiz_ref"`
			Mode    string       `json:"mode"`
			Slides  []live.Slide `json:"slides"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		tc := live.NewTeacherController(store, claims.Sub, nil)
		sess, err := tc.CreateSession(r.Context(), req.QuizRef, req.Mode, req.Slides)
		if err != nil {
			http.Error(w, "create session", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, sess)
	}
}

// EventsHandler pages through the mutation audit log, for after-class
// review. Teacher-only; mounted behind RequireRole.
func EventsHandler(log *rtstore.EventLog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		after, _ := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64)
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		events, err := log.Since(r.Context(), after, limit)
		if err != nil {
			http.Error(w, "event log read", http.StatusInternalServerError)
			return
		}
		type out struct {
			Offset    int64           `json:"offset"`
			Type      string          `json:"type"`
			Path      string          `json:"path"`
			Data      json.RawMessage `json:"data,omitempty"`
			CreatedAt int64           `json:"created_at"`
		}
		resp := make([]out, 0, len(events))
		for _, e := range events {
			o := out{Offset: e.Offset, Type: e.Type, Path: e.Path, CreatedAt: e.CreatedAt}
			if e.DataJSON != "" {
				o.Data = json.RawMessage(e.DataJSON)
			}
			resp = append(resp, o)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler reports ready only when the backing DB answers a ping.
func ReadyzHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if db != nil {
			if err := db.PingContext(ctx); err != nil {
				http.Error(w, "db unreachable", http.StatusServiceUnavailable)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
