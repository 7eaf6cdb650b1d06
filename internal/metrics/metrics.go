package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	IssuesScraped    *prometheus.CounterVec
	APIRequests      *prometheus.CounterVec
	ValidationErrors *prometheus.CounterVec
	CorpusEntries    prometheus.Counter
}

// New creates a metrics set on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		IssuesScraped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jira_issues_scraped_total",
			Help: "Issues fetched, validated and durably stored.",
		}, []string{"project"}),
		APIRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jira_api_requests_total",
			Help: "Jira API requests by outcome.",
		}, []string{"project", "status"}),
		ValidationErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jira_validation_errors_total",
			Help: "Issues dropped for missing or malformed fields.",
		}, []string{"project"}),
		CorpusEntries: factory.NewCounter(prometheus.CounterOpts{
			Name: "corpus_entries_written_total",
			Help: "Corpus entries emitted by the transform pipeline.",
		}),
	}
}

// Serve exposes /metrics and /healthz on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: addr, Handler: router}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("starting metrics server", zap.String("address", addr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
