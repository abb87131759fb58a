package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "api_http_requests_total", Help: "HTTP requests"},
		[]string{"method", "path", "status"},
	)
	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	CampaignsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "api_campaigns_created_total", Help: "Campaigns persisted and submitted"},
	)
	SubmittedJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "api_submitted_jobs_total", Help: "Delivery jobs handed to a queue"},
		[]string{"queue"},
	)

	RuleGenerations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "nlrules_generations_total", Help: "Rule sets generated from prompts"},
		[]string{"method"},
	)
	AIFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "nlrules_ai_failures_total", Help: "Language model calls that failed or returned unusable rules"},
	)
	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "resilience_retries_total", Help: "Retries performed"},
		[]string{"op"},
	)
	BreakerOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "resilience_breaker_open", Help: "1 while the circuit breaker is open"},
		[]string{"name"},
	)

	WorkerJobsConsumed = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "worker_jobs_consumed_total", Help: "Jobs consumed"},
	)
	WorkerMessagesSent = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "worker_messages_sent_total", Help: "Messages sent successfully"},
	)
	WorkerMessagesFailed = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "worker_messages_failed_total", Help: "Messages that failed to send"},
	)
	WorkerCampaignsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "worker_campaigns_finished_total", Help: "Campaign runs finished by final status"},
		[]string{"status"},
	)
	WorkerBatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "worker_batch_duration_seconds",
			Help:    "Time spent sending one batch",
			Buckets: prometheus.DefBuckets,
		},
	)
	WorkerProcessDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "worker_campaign_process_duration_seconds",
			Help:    "Time spent delivering a whole campaign",
			Buckets: []float64{.1, .5, 1, 5, 15, 60, 300, 900},
		},
	)
)

func init() {
	prometheus.MustRegister(
		APIRequestsTotal, APIRequestDuration, CampaignsCreated, SubmittedJobsTotal,
		RuleGenerations, AIFailures, RetriesTotal, BreakerOpen,
		WorkerJobsConsumed, WorkerMessagesSent, WorkerMessagesFailed, WorkerCampaignsFinished,
		WorkerBatchDuration, WorkerProcessDuration,
	)
}

func Handler() http.Handler { return promhttp.Handler() }
