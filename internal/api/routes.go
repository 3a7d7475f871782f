package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures the router. adminToken gates the calibration
// admin endpoints; an empty token disables them entirely rather than
// leaving them open.
func SetupRoutes(h *Handlers, corsOrigins []string, adminToken string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	if len(corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Post("/events", h.IngestEvent)
		r.Get("/guides/{guideNumber}", h.GetGuide)
		r.Post("/imports", h.ImportBatch)
		r.Post("/dry-run", h.DryRun)

		r.Route("/calibration", func(r chi.Router) {
			r.Use(adminOnly(adminToken))
			r.Get("/reports/{date}", h.GetCalibrationReport)
			r.Post("/apply", h.ApplyCalibration)
		})
	})

	return r
}

// adminOnly requires "Bearer <token>" matching the configured admin
// token. Constant-time compare so the token cannot be probed byte by
// byte.
func adminOnly(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if token == "" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				w.Write([]byte(`{"error":"admin endpoints disabled"}`))
				return
			}
			got := req.Header.Get("Authorization")
			want := "Bearer " + token
			if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}
