package observability

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// NewMetricsServer builds an HTTP server exposing the collector registry on
// /metrics and a liveness probe on /healthz.
func NewMetricsServer(listen string, collector *PrometheusCollector) *http.Server {
	router := mux.NewRouter()
	router.Handle("/metrics", collector.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}).Methods(http.MethodGet)

	return &http.Server{
		Addr:              listen,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
