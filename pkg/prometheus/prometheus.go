package prometheus

import (
	"context"
	"net/http"
	_ "net/http/pprof"
	"strings"
	"time"

	"github.com/muzin/wechatapi-sub000/pkg/log"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Config struct {
	// Port - default 10001
	Port string `json:"PROMETHEUS_PORT" default:"10001"`
	// Endpoint - default /metrics
	Endpoint string `json:"PROMETHEUS_ENDPOINT" default:"/metrics"`
	// Disabled - default false
	Disabled bool `json:"PROMETHEUS_DISABLED"`
}

type Server struct {
	logger log.Logger
	config Config

	srv      *http.Server
	registry *prometheus.Registry

	requestCounter *prometheus.CounterVec
	cacheHits      *prometheus.CounterVec
	fetchCounter   *prometheus.CounterVec
	fetchDuration  *prometheus.HistogramVec
}

func NewServer(logger log.Logger, config Config, serviceName string) *Server {
	if serviceName == "" {
		logger.Errorf("prometheus error: service name is empty")
	}

	namespace := strings.NewReplacer("-", "_", ".", "_", "/", "_").Replace(serviceName)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Server{
		logger:   logger,
		config:   config,
		registry: registry,
		requestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_counter",
				Help:      "HTTP API requests by route and status",
			}, []string{"query", "status"}),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "credential_cache_hits_total",
				Help:      "Credentials served from the store without a fetch",
			}, []string{"kind"}),
		fetchCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "credential_fetch_total",
				Help:      "Round trips to the credential authority",
			}, []string{"kind", "result"}),
		fetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "credential_fetch_duration_seconds",
				Help:      "Latency of round trips to the credential authority",
				Buckets:   prometheus.DefBuckets,
			}, []string{"kind"}),
	}
}

// Start prometheus server
func (s *Server) Start(ctx context.Context) {
	if s.config.Disabled {
		return
	}

	port := s.config.Port
	if port == "" {
		port = "10001"
	}

	endpoint := s.config.Endpoint
	if endpoint == "" {
		endpoint = "/metrics"
	}

	r := mux.NewRouter()
	r.Path(endpoint).Handler(s.Handler())
	r.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)

	s.srv = &http.Server{Addr: ":" + port, Handler: r}

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatalf("failed to start prometheus on port %s: %v", port, err)
		}
	}()
}

// Handler exposes the service registry
func (s *Server) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

func (s *Server) IncrementRequestsCount(query, result string) {
	s.requestCounter.WithLabelValues(query, result).Inc()
}

func (s *Server) ObserveCacheHit(kind string) {
	s.cacheHits.WithLabelValues(kind).Inc()
}

func (s *Server) ObserveFetch(kind string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}

	s.fetchCounter.WithLabelValues(kind, result).Inc()
	s.fetchDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (s *Server) Stop(ctx context.Context) {
	if s.srv == nil {
		return
	}

	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Errorf("failed to stop prometheus http server: %v", err)
	}
}
