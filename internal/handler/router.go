/*
Package handler provides the HTTP handlers and routing setup for the chat gateway.

This file defines the main Router, applying middleware like request ids, logging, CORS and
IP-based handshake rate limiting before delegating to the health, metrics and WebSocket handlers.
*/
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"duochat/internal/pkg/limiter"
	"duochat/internal/pkg/logx"
)

const (
	HandshakeRate  = 1
	HandshakeBurst = 10
)

// Router sets up the main HTTP routing table (chi.Router) for the application.
// The returned stop function releases the handshake limiter's background sweeper.
func Router(deps *AppDeps) (http.Handler, func()) {
	handshakeLimiter := limiter.NewRateLimiter("handshake", rate.Limit(HandshakeRate), HandshakeBurst)

	r := chi.NewRouter()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	wsUpgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if deps.Config.IsDevelopment() {
				return true
			}

			origin := r.Header.Get("Origin")
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logx.Warn("WebSocket connection rejected: Origin not allowed.", "origin", origin)
			return false
		},
	}

	corsAllowedOrigins := []string{}
	if deps.Config.IsDevelopment() {
		corsAllowedOrigins = []string{"*"}
	} else if len(deps.Config.AllowedOrigins) > 0 {
		corsAllowedOrigins = deps.Config.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", HandleHealth(deps))
	r.Handle("/metrics", promhttp.Handler())
	r.Method(http.MethodGet, "/ws", handshakeLimiter.Middleware(HandleWebSocket(deps.Manager, wsUpgrader)))

	return r, handshakeLimiter.Stop
}
