package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"examprep-backend/internal/handlers"
	"examprep-backend/internal/middleware"
	"examprep-backend/internal/websocket"
)

// New wires the HTTP surface. wsHub may be nil when no Redis is configured.
func New(
	logger *zap.Logger,
	jwtAuth *middleware.JWTAuth,
	writeLimiter *middleware.RateLimiter,
	examSessionHandler *handlers.ExamSessionHandler,
	wsHub *websocket.Hub,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(frontendURL))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Exam Session Routes ────
		r.Route("/exam-sessions", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)

			r.Get("/{id}", examSessionHandler.Get)
			r.Get("/{id}/notes", examSessionHandler.ListNotes)

			r.Group(func(r chi.Router) {
				r.Use(writeLimiter.Middleware)
				r.Post("/", examSessionHandler.Create)
				r.Post("/review", examSessionHandler.CreateReview)
				r.Post("/{id}/pause", examSessionHandler.Pause)
				r.Post("/{id}/resume", examSessionHandler.Resume)
				r.Post("/{id}/finish", examSessionHandler.Finish)
				r.Post("/{id}/progress", examSessionHandler.Progress)
				r.Post("/{id}/flags", examSessionHandler.ToggleFlag)
				r.Put("/{id}/notes", examSessionHandler.UpsertNote)
			})
		})

		// ──── WebSocket ────
		if wsHub != nil {
			r.Get("/ws", wsHub.HandleWebSocket)
		}
	})

	return r
}
