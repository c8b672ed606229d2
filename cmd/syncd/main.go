// syncd is the session relay: it hosts the shared state tree behind a
// WebSocket endpoint, persists it to SQL, and fronts the token endpoints
// that teacher and student clients authenticate against.
package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	api "github.com/classpulse/classpulse/internal/api/http"
	"github.com/classpulse/classpulse/internal/auth"
	"github.com/classpulse/classpulse/internal/config"
	"github.com/classpulse/classpulse/internal/db"
	"github.com/classpulse/classpulse/internal/rtstore"
)

func main() {
	cfg := config.FromEnv()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}
	store := rtstore.NewSQLStore(dbh)

	authSvc := auth.NewAuthService(cfg.AuthSecret, cfg.TokenTTL)

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// The socket authenticates inside the handler. It sits outside the
	// timeout group; connections are long-lived.
	r.Get("/ws", api.SyncHandler(authSvc, store))

	r.Group(func(gr chi.Router) {
		gr.Use(middleware.Timeout(30 * time.Second))

		gr.Get("/healthz", api.HealthzHandler())
		gr.Get("/readyz", api.ReadyzHandler(dbh))

		gr.Post("/auth/login", auth.TeacherLoginHandler(authSvc, cfg))
		gr.Post("/auth/guest", auth.GuestLoginHandler(authSvc, cfg))

		gr.Get("/sessions/{ref}", api.ResolveSessionHandler(store))

		gr.Group(func(pr chi.Router) {
			pr.Use(auth.JWTMiddleware(authSvc), auth.RequireRole(auth.RoleTeacher))
			pr.Post("/sessions", api.CreateSessionHandler(store))
			pr.Get("/events", api.EventsHandler(store.Events()))
		})
	})

	log.Printf("syncd listening on %s (mode=%s, db=%s)", cfg.HTTPAddr, cfg.Mode, cfg.DBDriver)
	if err := http.ListenAndServe(cfg.HTTPAddr, r); err != nil {
		log.Fatal(err)
	}
}
