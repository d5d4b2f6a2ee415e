package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/messaging-platform/internal/middleware"
	"github.com/capitalize-ai/messaging-platform/pkg/logger"
)

// RateLimits configures request throttling.
type RateLimits struct {
	Requests int
	Window   time.Duration
}

// Router holds everything the HTTP surface is built from.
type Router struct {
	Logger         *logger.Logger
	AllowedOrigins []string
	RateLimits     RateLimits

	Resolver      middleware.PrincipalResolver
	Unread        middleware.UnreadComputer
	Health        *HealthHandler
	Auth          *AuthHandler
	Broadcasting  *BroadcastingHandler
	Conversations *ConversationHandler
	Messages      *MessageHandler
	UnreadCounts  *UnreadHandler
	Users         *UserHandler
	// Gateway serves /ws when set.
	Gateway http.Handler
}

// Handler builds the chi router.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(rt.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(rt.AllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", rt.Health.Health)
	r.Get("/ready", rt.Health.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	if rt.Gateway != nil {
		r.Handle("/ws", rt.Gateway)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Use(middleware.RateLimit(rt.RateLimits.Requests, rt.RateLimits.Window))
		r.Post("/login", rt.Auth.Login)
		r.Post("/logout", rt.Auth.Logout)
		r.Post("/tokens", rt.Auth.IssueToken)
	})

	r.Post("/broadcasting/auth", rt.Broadcasting.Auth)

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireAuth(rt.Resolver, rt.Logger))
		r.Use(middleware.UserRateLimit(rt.RateLimits.Requests, rt.RateLimits.Window))
		r.Use(middleware.UnreadSummary(rt.Unread, rt.Logger))

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", rt.Conversations.List)
			r.Get("/with/{userID}", rt.Conversations.Get)
			r.Post("/with/{userID}", rt.Conversations.Open)

			r.Route("/{id}", func(r chi.Router) {
				r.Post("/messages", rt.Messages.Send)
				r.Post("/read", rt.Conversations.MarkRead)
			})
		})

		r.Get("/unread", rt.UnreadCounts.Get)

		r.Post("/users/{id}/block", rt.Users.Block)
		r.Delete("/users/{id}/block", rt.Users.Unblock)

		r.Put("/me/push-token", rt.Users.SetPushToken)
		r.Delete("/me/push-token", rt.Users.ClearPushToken)
	})

	return r
}
