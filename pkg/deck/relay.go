package deck

import (
	"context"
	"fmt"

	"github.com/controldeck/controldeck/internal/configsvc"
	"github.com/controldeck/controldeck/internal/relaysvc"
	"github.com/controldeck/controldeck/internal/statesvc"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Relay aggregates events from bridge connections and exposes the
// canonical state over HTTP and the shared state files.
type Relay struct {
	config Config

	log       *zap.Logger
	configSvc *configsvc.Service
}

func NewRelay(config Config) (*Relay, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, err
	}
	return &Relay{
		config:    config,
		log:       logger,
		configSvc: configsvc.New(logger.Named("config")),
	}, nil
}

// Run starts the relay and blocks until the context is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return r.configSvc.Start(groupCtx)
	})
	select {
	case <-groupCtx.Done():
		return group.Wait()
	case <-r.configSvc.Ready():
	}

	cfg, err := configsvc.Register(r.configSvc, r.config.RelayConfig, DefaultRelayConfig(), func(cfg RelayConfig, err error) {
		if err != nil {
			r.log.Error("failed to parse relay config", zap.Error(err))
			return
		}
		r.log.Info("Relay config changed; restart to apply", zap.String("listenAddr", cfg.ListenAddr))
	})
	if err != nil {
		return fmt.Errorf("failed to register relay config: %w", err)
	}

	state := statesvc.New(r.log.Named("state"), statesvc.Options{
		StatePath:    cfg.StateFile,
		CommandPath:  cfg.CommandFile,
		PositionPath: cfg.PositionFile,
	})
	relaySvc := relaysvc.New(r.log.Named("relay"), state,
		relaysvc.WithListenAddr(cfg.ListenAddr),
	)
	group.Go(func() error {
		return relaySvc.Start(groupCtx)
	})

	err = group.Wait()
	if err != nil {
		return fmt.Errorf("relay failed: %w", err)
	}
	return nil
}
