package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	httpmw "github.com/cwrk-planet/chat-service/internal/transport/http/middleware"
	"github.com/cwrk-planet/chat-service/pkg/httputil"
)

type Deps struct {
	Handler *Handler
	Auth    httpmw.PrincipalResolver
	// WS и Metrics опциональны
	WS           http.HandlerFunc
	Metrics      http.Handler
	Health       func(ctx context.Context) error
	AllowOrigins []string
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httputil.RequestID)
	r.Use(httputil.MiddlewareLogging)

	origins := d.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://127.0.0.1:5173"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", HeaderConnectionID},
		ExposedHeaders:   []string{"Content-Disposition", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// ws авторизуется сам (токен в query), таймауты ему не нужны
	if d.WS != nil {
		r.Get("/ws", d.WS)
	}
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if d.Health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := d.Health(ctx); err != nil {
				httputil.Error(w, http.StatusServiceUnavailable, "unhealthy", map[string]any{"reason": err.Error()})
				return
			}
		}
		httputil.OK(w, map[string]string{"status": "ok"})
	})

	h := d.Handler
	r.Route("/api", func(api chi.Router) {
		api.Use(httpmw.Auth(d.Auth))
		api.Use(middleware.Timeout(60 * time.Second))

		api.Route("/messages", func(rm chi.Router) {
			rm.Get("/", h.ListMessages)
			rm.Post("/", h.SendMessage)
			rm.Get("/{id}", h.GetMessage)
			rm.Put("/{id}/read", h.MarkRead)
		})
		api.Route("/reactions", func(rr chi.Router) {
			rr.Post("/", h.ToggleReaction)
			rr.Get("/message/{id}", h.ListReactions)
			rr.Delete("/{id}", h.DeleteReaction)
		})
		api.Route("/files", func(rf chi.Router) {
			rf.Post("/upload", h.Upload)
			rf.Get("/download/{id}", h.Download)
		})
		api.Get("/users/me", h.Me)
	})

	return r
}
