package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/krazio-01/whisperwave/internal/api/middleware"
	"github.com/krazio-01/whisperwave/internal/config"
	"github.com/krazio-01/whisperwave/internal/handlers"
	"github.com/krazio-01/whisperwave/internal/realtime"
	"github.com/krazio-01/whisperwave/internal/store"
)

// Deps bundles everything the router wires together.
type Deps struct {
	Config    *config.Config
	Logger    zerolog.Logger
	Redis     *store.RedisStore // optional
	Hub       *realtime.Hub
	Handler   *handlers.Handler
	Auth      *middleware.AuthMiddleware
	UploadDir string
}

// NewRouter creates and configures the HTTP router.
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(12 << 20)) // image uploads included

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(d.Logger))
	r.Use(chimw.Recoverer)

	// Rate limiting (no-op without Redis)
	limiter := middleware.NewRateLimiter(redisClientOrNil(d.Redis), d.Logger)
	r.Use(limiter.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{d.Config.FrontendURL},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	h := d.Handler

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes
	r.Get("/health", h.Health)
	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Get("/verify/{token}", h.VerifyEmail)
	})

	// Uploaded images (avatars, group pictures, message attachments)
	r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(d.UploadDir))))

	// Websocket entry point; clients identify themselves with the setup
	// event after the upgrade
	r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
		realtime.ServeWS(d.Hub, d.Logger, w, req)
	})

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(d.Auth.RequireAuth)

		r.Route("/api/users", func(r chi.Router) {
			r.Get("/", h.AllUsers)
			r.Get("/search", h.SearchUser)
		})

		r.Route("/api/chat", func(r chi.Router) {
			r.Get("/", h.FetchChats)
			r.Post("/", h.NewChat)
			r.Post("/delete", h.DeleteChat)
			r.Post("/group", h.CreateGroupChat)
			r.Put("/group/rename", h.RenameGroup)
			r.Put("/group/add", h.AddToGroup)
			r.Put("/group/remove", h.RemoveFromGroup)
		})

		r.Route("/api/messages", func(r chi.Router) {
			r.Get("/{chatId}", h.FetchMessages)
			r.Post("/", h.SendMessage)
		})
	})

	return r
}

func redisClientOrNil(rs *store.RedisStore) *redis.Client {
	if rs == nil {
		return nil
	}
	return rs.Client()
}
