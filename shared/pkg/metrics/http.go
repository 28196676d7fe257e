package metrics

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Middleware counts API requests and response sizes per mux route template.
// Unmatched paths share the "unmatched" route so scanners cannot blow up
// label cardinality.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	if c == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := Route(r)
		labels := prometheus.Labels{"route": route}
		h := promhttp.InstrumentHandlerCounter(c.httpRequests.MustCurryWith(labels),
			promhttp.InstrumentHandlerResponseSize(c.httpResponseSize.MustCurryWith(labels), next))
		h.ServeHTTP(w, r)
	})
}

// Route returns the matched mux path template, or "unmatched"
func Route(r *http.Request) string {
	if cur := mux.CurrentRoute(r); cur != nil {
		if tpl, err := cur.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}
