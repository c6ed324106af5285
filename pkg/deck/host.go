// Package deck assembles the two applications: the device host that
// reads control surfaces and ships events to the relay, and the relay
// that aggregates state and serves it to consumers.
package deck

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/controldeck/controldeck/internal/bridgesvc"
	"github.com/controldeck/controldeck/internal/configsvc"
	"github.com/controldeck/controldeck/internal/hidsvc"
	"github.com/controldeck/controldeck/internal/midisvc"
	"github.com/dgraph-io/badger"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Host reads the control surfaces and forwards their events to the
// relay. Services are wired together in Run once the initial
// configuration has been read.
type Host struct {
	config Config

	log       *zap.Logger
	db        *badger.DB
	configSvc *configsvc.Service

	// Set once in buildServices, read by the config watcher goroutine.
	client atomic.Pointer[bridgesvc.Client]
}

func NewHost(config Config) (*Host, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, err
	}

	dbOptions := badger.DefaultOptions(filepath.Join(config.DataDir, "db"))
	dbOptions.Logger = &badgerLogger{l: logger.Named("badger")}
	db, err := badger.Open(dbOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	return &Host{
		config:    config,
		log:       logger,
		db:        db,
		configSvc: configsvc.New(logger.Named("config")),
	}, nil
}

func (h *Host) Close() error {
	return h.db.Close()
}

// Run starts the host and blocks until the context is cancelled. Startup
// fails if the configuration is invalid; after startup a broken config
// edit leaves the host running with the last valid configuration.
func (h *Host) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return h.configSvc.Start(groupCtx)
	})
	select {
	case <-groupCtx.Done():
		return group.Wait()
	case <-h.configSvc.Ready():
	}

	if err := h.buildServices(groupCtx, group); err != nil {
		return err
	}

	err := group.Wait()
	if err != nil {
		return fmt.Errorf("host failed: %w", err)
	}
	return nil
}

func (h *Host) buildServices(ctx context.Context, group *errgroup.Group) error {
	cfg, err := configsvc.Register(h.configSvc, h.config.HostConfig, DefaultHostConfig(), h.applyHostConfig)
	if err != nil {
		return fmt.Errorf("failed to register host config: %w", err)
	}

	var clientOpts []bridgesvc.Option
	if cfg.QueueSize > 0 {
		clientOpts = append(clientOpts, bridgesvc.WithQueueSize(cfg.QueueSize))
	}
	if cfg.ReconnectSeconds > 0 {
		clientOpts = append(clientOpts, bridgesvc.WithBackoff(time.Duration(cfg.ReconnectSeconds)*time.Second))
	}
	client := bridgesvc.New(h.log.Named("bridge"), cfg.RelayURL, clientOpts...)
	h.client.Store(client)
	hidSvc := hidsvc.New(h.db, h.log.Named("hid"), client.Publish,
		hidsvc.WithLayout(cfg.DialpadLayout),
	)

	group.Go(func() error {
		return client.Start(ctx)
	})
	group.Go(func() error {
		return hidSvc.Start(ctx)
	})
	if !cfg.MIDI.Disabled {
		midiSvc := midisvc.New(h.log.Named("midi"), client.Publish,
			midisvc.WithPortMatch(cfg.MIDI.PortMatch),
		)
		group.Go(func() error {
			return midiSvc.Start(ctx)
		})
	}
	return nil
}

// applyHostConfig is the change callback for the host config file. Only
// the relay URL is applied live; the rest needs a restart. It runs on
// the config watcher goroutine, possibly before the client exists.
func (h *Host) applyHostConfig(cfg HostConfig, err error) {
	if err != nil {
		h.log.Error("failed to parse host config", zap.Error(err))
		return
	}
	client := h.client.Load()
	if client == nil {
		return
	}
	client.SetURL(cfg.RelayURL)
	h.log.Info("Host config reloaded", zap.String("relayUrl", cfg.RelayURL))
}

// ListDevices reads the device registry without starting any pollers.
func (h *Host) ListDevices() ([]hidsvc.Device, error) {
	return hidsvc.New(h.db, h.log.Named("hid"), nil).ListDevices()
}
