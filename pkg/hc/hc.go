package hc

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/muzin/wechatapi-sub000/pkg/log"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
)

const defaultCheckTimeout = 3 * time.Second

type Config struct {
	// Port - default 10002
	Port string `json:"HEALTH_CHECK_PORT" default:"10002"`
	// Endpoint - default /health
	Endpoint string `json:"HEALTH_CHECK_ENDPOINT" default:"/health"`
}

// CheckFunc returns nil when the dependency is usable
type CheckFunc func(ctx context.Context) error

type Service struct {
	timeout time.Duration
	check   CheckFunc
	onError func(err error)
}

// NewService - zero timeout uses 3s, nil check always reports healthy
func NewService(timeout time.Duration, check CheckFunc, onError func(err error)) *Service {
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}

	return &Service{
		timeout: timeout,
		check:   check,
		onError: onError,
	}
}

func (s *Service) run(ctx context.Context) error {
	if s.check == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.check(ctx)
	if err != nil && s.onError != nil {
		s.onError(err)
	}
	return err
}

type Server struct {
	logger log.Logger
	config Config

	mu       sync.RWMutex
	services map[string]*Service

	srv *http.Server
}

func NewServer(logger log.Logger, config Config) *Server {
	if config.Port == "" {
		config.Port = "10002"
	}
	if config.Endpoint == "" {
		config.Endpoint = "/health"
	}

	s := &Server{
		logger:   logger,
		config:   config,
		services: make(map[string]*Service),
	}

	r := mux.NewRouter()
	r.Path(config.Endpoint).Methods(http.MethodGet).Handler(s)
	s.srv = &http.Server{Addr: ":" + config.Port, Handler: r}

	return s
}

func (s *Server) RegisterService(name string, svc *Service) {
	s.mu.Lock()
	s.services[name] = svc
	s.mu.Unlock()
}

type status struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

// ServeHTTP runs every registered check
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	names := make([]string, 0, len(s.services))
	for name := range s.services {
		names = append(names, name)
	}
	sort.Strings(names)
	s.mu.RUnlock()

	res := status{Status: "ok", Services: make(map[string]string, len(names))}
	code := http.StatusOK

	for _, name := range names {
		s.mu.RLock()
		svc := s.services[name]
		s.mu.RUnlock()

		if err := svc.run(r.Context()); err != nil {
			res.Services[name] = err.Error()
			res.Status = "fail"
			code = http.StatusServiceUnavailable
			continue
		}
		res.Services[name] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		s.logger.Errorf("failed to write health check response: %v", err)
	}
}

// Start blocks until the server is stopped
func (s *Server) Start() {
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Errorf("failed to start health check server on port %s: %v", s.config.Port, err)
	}
}

func (s *Server) Stop(ctx context.Context) {
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Errorf("failed to stop health check server: %v", err)
	}
}
