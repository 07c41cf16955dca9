// Parley - Real-Time Conversation Synchronization for Business Networking
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parleyhq/parley

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig carries the routing knobs.
type RouterConfig struct {
	// RateLimitPerMinute caps API requests per caller identity.
	RateLimitPerMinute int
}

// NewRouter assembles the HTTP routes.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 300
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(httprate.LimitByIP(1000, time.Minute))
		r.Get("/live", h.HealthLive)
		r.Get("/ready", h.HealthReady)
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Per-user limiting: the gateway already authenticated the header.
		r.Use(httprate.Limit(cfg.RateLimitPerMinute, time.Minute,
			httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
				if user := r.Header.Get(UserHeader); user != "" {
					return user, nil
				}
				return httprate.KeyByIP(r)
			}),
		))
		r.Use(RequireUser)

		r.Route("/connections", func(r chi.Router) {
			r.Post("/", h.CreateConnection)
			r.Get("/", h.ListConnections)
			r.Get("/status", h.ConnectionStatuses)
			r.Post("/{id}/accept", h.AcceptConnection)
			r.Post("/{id}/reject", h.RejectConnection)
			r.Delete("/{id}", h.CancelConnection)
		})

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/{id}/open", h.OpenConversation)
			r.Get("/{id}/summary", h.ConversationSummary)
			r.Get("/view", h.ConversationView)
			r.Post("/messages", h.SendMessage)
			r.Delete("/", h.CloseConversation)
		})

		r.Get("/ws", h.WebSocket)
	})

	return r
}
