// Package web exposes the scoring pipeline over HTTP.
package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/CMSgov/raf-app/middleware"
	"github.com/CMSgov/raf-app/raf/logging"
	"github.com/CMSgov/raf-app/raf/monitoring"
)

// NewRouter wires the scoring API: risk-score and service-record extraction
// endpoints plus the health and version probes.
func NewRouter() http.Handler {
	r := chi.NewRouter()
	m := monitoring.GetMonitor()
	r.Use(middleware.NewTransactionID, logging.NewStructuredLogger())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post(m.WrapHandler("/risk-score", riskScore))
		r.Post(m.WrapHandler("/service-records", serviceRecords))
	})
	r.Get(m.WrapHandler("/_version", getVersion))
	r.Get(m.WrapHandler("/_health", healthCheck))
	return r
}
