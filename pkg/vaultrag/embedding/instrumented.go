package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Embedding Prometheus metrics.
var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vaultrag",
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding requests",
		},
		[]string{"provider", "model", "status"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vaultrag",
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding request duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"provider", "model"},
	)

	segmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vaultrag",
			Name:      "embedding_segments_total",
			Help:      "Vectors returned by the provider before pooling",
		},
		[]string{"provider", "model"},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, segmentsTotal)
}

// Instrumented wraps an Embedder with metrics and debug logging.
type Instrumented struct {
	inner  Embedder
	logger *slog.Logger
}

// NewInstrumented wraps e.
func NewInstrumented(e Embedder, logger *slog.Logger) *Instrumented {
	if logger == nil {
		logger = slog.Default()
	}
	return &Instrumented{
		inner:  e,
		logger: logger.With("component", "embedding", "provider", e.Name()),
	}
}

// Embed delegates to the wrapped provider and records the outcome.
func (i *Instrumented) Embed(ctx context.Context, text string) ([][]float32, error) {
	provider, model := i.inner.Name(), i.inner.Model()
	start := time.Now()

	vectors, err := i.inner.Embed(ctx, text)
	duration := time.Since(start)

	if err != nil {
		requestsTotal.WithLabelValues(provider, model, "error").Inc()
		i.logger.Warn("embedding request failed", "model", model, "duration", duration, "error", err)
		return nil, fmt.Errorf("embed: %w", err)
	}

	requestsTotal.WithLabelValues(provider, model, "success").Inc()
	requestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	segmentsTotal.WithLabelValues(provider, model).Add(float64(len(vectors)))

	i.logger.Debug("embedding request completed",
		"model", model,
		"duration", duration,
		"segments", len(vectors),
	)
	return vectors, nil
}

// Name returns the wrapped provider name.
func (i *Instrumented) Name() string { return i.inner.Name() }

// Model returns the wrapped model name.
func (i *Instrumented) Model() string { return i.inner.Model() }
