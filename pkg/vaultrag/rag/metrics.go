package rag

import "github.com/prometheus/client_golang/prometheus"

var (
	ingestedChunksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vaultrag",
		Name:      "ingested_chunks_total",
		Help:      "Chunks committed to tenant stores.",
	})

	ingestionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vaultrag",
		Name:      "ingestions_total",
		Help:      "Ingestion calls by outcome.",
	}, []string{"status"})

	retrievalDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vaultrag",
		Name:      "retrieval_duration_seconds",
		Help:      "Time to embed a query and rank a tenant store.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"status"})
)

func init() {
	prometheus.MustRegister(ingestedChunksTotal, ingestionsTotal, retrievalDuration)
}
