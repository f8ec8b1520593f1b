package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/muzin/wechatapi-sub000/internal/config"
	"github.com/muzin/wechatapi-sub000/internal/server"
	"github.com/muzin/wechatapi-sub000/pkg/initialconfig"
	"github.com/muzin/wechatapi-sub000/pkg/log"
)

func main() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	// Init logger
	logger := log.New()

	// Loading service config
	cfg := new(config.Config)
	configChangedEnvsCh := initialconfig.LoadConfig(logger, cfg)

	// Logger from loaded config
	cfgLogger, err := log.NewWithConfig(cfg.Log)
	if err != nil {
		logger.Fatalf("init logger error: %v", err)
	}
	logger = cfgLogger.With("service", cfg.ServiceName, "stand", cfg.StandName)
	defer logger.Sync()

	// Init Server
	srv, err := server.New(logger, cfg)
	if err != nil {
		logger.Fatalf("init server error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		startServer(ctx, logger, srv, configChangedEnvsCh)
		close(done)
	}()

	// Wait system signals
	<-sig
	logger.Info("shutting down")
	cancel()

	<-done
}

// startServer runs srv and restarts it on every config change until ctx is done
func startServer(ctx context.Context, logger log.Logger, srv *server.Server, configChangedEnvsCh chan []string) {
	for {
		runCtx, cancel := context.WithCancel(ctx)
		stopped := make(chan struct{})

		// Start server
		go func() {
			defer close(stopped)

			if err := srv.Start(runCtx); err != nil {
				logger.Fatalf("start server error: %v", err)
			}
		}()

		select {
		case <-ctx.Done():
			cancel()
			<-stopped
			return
		case changedEnvs := <-configChangedEnvsCh:
			// You can restart certain services based on environment names
			logger.Infof("changed enviroments: %v", changedEnvs)

			cancel()
			<-stopped
		}
	}
}
