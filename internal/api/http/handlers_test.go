package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	api "github.com/classpulse/classpulse/internal/api/http"
	"github.com/classpulse/classpulse/internal/auth"
	"github.com/classpulse/classpulse/internal/live"
	"github.com/classpulse/classpulse/internal/rtstore"
)

func TestResolveSessionHandler(t *testing.T) {
	store := rtstore.NewMemoryStore()
	tc := live.NewTeacherController(store, "t1", nil)
	sess, err := tc.CreateSession(context.Background(), "quiz-1", live.ModeLive, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	r := chi.NewRouter()
	r.Get("/sessions/{ref}", api.ResolveSessionHandler(store))

	for _, ref := range []string{sess.ID, sess.JoinCode, strings.ToLower(sess.JoinCode)} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/"+ref, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("ref %q: status %d", ref, rec.Code)
		}
		var out struct {
			SessionID string `json:"session_id"`
			IsActive  bool   `json:"is_active"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if out.SessionID != sess.ID || !out.IsActive {
			t.Fatalf("ref %q: got %+v", ref, out)
		}
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/NOPE99", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown ref: status %d", rec.Code)
	}
}

func TestCreateSessionHandler(t *testing.T) {
	store := rtstore.NewMemoryStore()
	h := api.CreateSessionHandler(store)

	body := strings.NewReader(`{"quiz_ref":"quiz-1","mode":"live","slides":[{"id":"slide-0","kind":"choice","points":1}]}`)
	req := httptest.NewRequest(http.MethodPost, "/sessions", body)
	req = req.WithContext(auth.WithClaims(req.Context(), &auth.Claims{Sub: "t1", Role: auth.RoleTeacher}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var sess live.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sess.OwnerID != "t1" || len(sess.JoinCode) != 6 || !sess.LockMode {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if _, err := store.Read(context.Background(), live.SessionPath(sess.ID)); err != nil {
		t.Fatalf("session not persisted: %v", err)
	}
}
