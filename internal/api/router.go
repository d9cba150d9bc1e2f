// SPDX-License-Identifier: MIT

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/streamfan/streamfan/internal/config"
)

// Router assembles the control-plane handler tree. Ordering: recovery first,
// correlation id, client identity, CORS, metrics and logging around
// everything; rate limiting guards only the /api subtree so the websocket
// mount and the scrape endpoint stay unthrottled.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	r.Use(requestContext)
	r.Use(chimw.RealIP)
	r.Use(corsMiddleware(s.origins))
	r.Use(metricsMiddleware())
	r.Use(s.logRequests)

	r.Route("/api", func(api chi.Router) {
		api.Use(chimw.Compress(5))
		api.Use(s.rateLimiter())

		api.Get("/health", s.handleHealth)

		api.Route("/stream", func(st chi.Router) {
			st.Get("/status", s.handleStreamStatus)
			st.Post("/start", s.handleStreamStart)
			st.Post("/stop", s.handleStreamStop)
			st.Post("/connect", s.handleIngestConnect)
			st.Post("/disconnect", s.handleIngestDisconnect)
		})

		api.Route("/platforms", func(pl chi.Router) {
			pl.Get("/", s.handlePlatformList)
			pl.Post("/", s.handlePlatformCreate)

			pl.Route("/{id}", func(one chi.Router) {
				one.Use(requireValidID)
				one.Get("/", s.handlePlatformGet)
				one.Put("/", s.handlePlatformUpdate)
				one.Delete("/", s.handlePlatformDelete)
				one.Post("/connect", s.handlePlatformConnect)
				one.Post("/disconnect", s.handlePlatformDisconnect)
			})
		})

		api.Route("/config", func(cf chi.Router) {
			cf.Get("/", s.handleConfigGet)
			cf.Post("/", s.handleConfigUpdate)
		})
	})

	if s.hub != nil {
		r.Handle("/ws", s.hub)
	}
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Handle("/*", uiHandler())

	return otelhttp.NewHandler(r, "streamfan-api",
		otelhttp.WithFilter(shouldTrace),
		otelhttp.WithSpanNameFormatter(spanName),
	)
}

// requireValidID rejects identifiers the configuration layer would never
// accept before any handler touches them.
func requireValidID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := chi.URLParam(r, "id"); !config.IDPattern.MatchString(id) {
			writeBadRequest(w, "invalid platform id")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// shouldTrace skips the scrape endpoint and the long-lived websocket mount.
func shouldTrace(r *http.Request) bool {
	switch r.URL.Path {
	case "/metrics", "/ws":
		return false
	}
	return true
}

func spanName(operation string, r *http.Request) string {
	if r.URL.RawQuery != "" {
		return operation + " " + r.URL.Path + "?"
	}
	return operation + " " + r.URL.Path
}
