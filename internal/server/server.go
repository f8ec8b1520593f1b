package server

import (
	"context"
	"net/http"
	"time"

	"github.com/muzin/wechatapi-sub000/internal/config"
	"github.com/muzin/wechatapi-sub000/internal/events"
	"github.com/muzin/wechatapi-sub000/pkg/authority"
	"github.com/muzin/wechatapi-sub000/pkg/clock"
	"github.com/muzin/wechatapi-sub000/pkg/credential"
	"github.com/muzin/wechatapi-sub000/pkg/hc"
	"github.com/muzin/wechatapi-sub000/pkg/log"
	"github.com/muzin/wechatapi-sub000/pkg/notify"
	"github.com/muzin/wechatapi-sub000/pkg/prometheus"
	"github.com/muzin/wechatapi-sub000/pkg/rabbitbus"
	"github.com/muzin/wechatapi-sub000/pkg/signature"

	"github.com/pkg/errors"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	logger log.Logger
	config *config.Config
	hc     *hc.Server
	pm     *prometheus.Server

	// rabbit service
	rabbitService *rabbitbus.Service
	rabbitWriter  *rabbitbus.Writer

	closeStore func()
}

func New(logger log.Logger, cfg *config.Config) (*Server, error) {
	if logger == nil {
		logger = log.NewNop()
	}
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	s := &Server{
		logger: logger,
		config: cfg,
	}

	return s, nil
}

// Start runs the service until ctx is done, every dependency is opened from the current config
func (s *Server) Start(ctx context.Context) error {
	defer s.Stop()

	store, closeStore, err := openStore(ctx, s.logger, s.config)
	if err != nil {
		return errors.Wrap(err, "open credential store")
	}
	s.closeStore = closeStore

	s.pm = prometheus.NewServer(s.logger, s.config.Prometheus, s.config.ServiceName)
	s.pm.Start(ctx)

	s.startHealthCheckServer(store)

	opts := []credential.Option{credential.WithObserver(s.pm)}

	if s.config.Rabbit.Enabled {
		publisher, err := s.startRabbit()
		if err != nil {
			return err
		}
		opts = append(opts, credential.WithPublisher(publisher))
	}

	fetcher := authority.New(s.logger.With("component", "authority"), s.config.Authority, nil, clock.System())

	manager, err := credential.NewManager(
		s.logger.With("component", "credential", "app_id", s.config.App.ID),
		credential.Config{Identity: s.config.App.ID, Secret: s.config.App.Secret},
		fetcher,
		store,
		opts...,
	)
	if err != nil {
		return err
	}

	if s.config.Rabbit.Enabled {
		if err := s.startInvalidationConsumer(ctx, manager); err != nil {
			return err
		}
	}

	apiOpts := []APIOption{
		WithMetrics(s.pm),
		WithClientInterval(s.config.HTTP.ClientInterval, clock.System()),
	}
	if s.config.Notify.Enabled() {
		apiOpts = append(apiOpts, WithAlerter(notify.NewNotifyService(s.logger, s.config.Notify, nil, nil)))
	}

	api := NewAPI(s.logger, manager, signature.NewSigner(clock.System()), apiOpts...)

	return s.serveHTTP(ctx, api.Router())
}

func (s *Server) serveHTTP(ctx context.Context, h http.Handler) error {
	srv := &http.Server{
		Addr:              ":" + s.config.HTTP.Port,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("http server listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown http server")
	}

	return nil
}

func (s *Server) startRabbit() (credential.Publisher, error) {
	bus, err := rabbitbus.NewBus(s.logger, s.config.Rabbit, s.config.GetRabbitAddr())
	if err != nil {
		return nil, err
	}
	s.rabbitService = bus

	if err := bus.DeclareTopology(); err != nil {
		return nil, err
	}

	w, err := bus.NewWriter()
	if err != nil {
		return nil, err
	}
	s.rabbitWriter = w

	return events.NewPublisher(w, s.config.Rabbit.EventsExchange), nil
}

func (s *Server) startInvalidationConsumer(ctx context.Context, r events.Refresher) error {
	reader, err := s.rabbitService.NewReader(ctx, s.config.Rabbit.InvalidateQueue, s.config.ServiceName)
	if err != nil {
		return err
	}

	consumer := events.NewConsumer(s.logger.With("component", "invalidation"), r)
	go consumer.Run(ctx, reader.ReceiveMsg())

	return nil
}

func (s *Server) Stop() {
	// stop rabbit
	if s.rabbitWriter != nil {
		if err := s.rabbitWriter.Close(); err != nil {
			s.logger.Errorf("failed to close rabbit writer: %v", err)
		}
		s.rabbitWriter = nil
	}

	if s.rabbitService != nil {
		if err := s.rabbitService.CloseRabbitMQConnection(); err != nil {
			s.logger.Errorf("failed to stop rabbit: %v", err)
		}
		s.rabbitService = nil
	}

	// stop hc
	if s.hc != nil {
		s.hc.Stop(context.Background())
		s.hc = nil
	}

	// stop prometheus
	if s.pm != nil {
		s.pm.Stop(context.Background())
		s.pm = nil
	}

	if s.closeStore != nil {
		s.closeStore()
		s.closeStore = nil
	}

	s.logger.Info("server stopped")
}

func (s *Server) startHealthCheckServer(store pingStore) {
	// Init HC Server
	s.hc = hc.NewServer(s.logger, s.config.HealthCheck)

	// Register services
	s.hc.RegisterService(s.config.ServiceName, hc.NewService(0, nil, nil))
	s.hc.RegisterService("store:"+s.config.Store.Driver, hc.NewService(0, store.Ping, func(err error) {
		s.logger.Warnf("credential store health check failed: %v", err)
	}))

	// Start HC Server
	go s.hc.Start()
}
