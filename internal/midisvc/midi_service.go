// Package midisvc feeds MIDI input from a Launch Control XL (or any
// matched port) into the event pipeline.
package midisvc

import (
	"context"
	"strings"
	"time"

	"github.com/controldeck/controldeck/pkg/controlev"
	"github.com/controldeck/controldeck/pkg/decode"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
	"go.uber.org/zap"
)

var defaultOptions = serviceOptions{
	portMatch:    "Launch Control XL",
	scanInterval: 2 * time.Second,
}

type serviceOptions struct {
	portMatch    string
	scanInterval time.Duration
}

type Option func(*serviceOptions)

// WithPortMatch sets the case-insensitive substring used to pick the
// input port.
func WithPortMatch(match string) Option {
	return func(o *serviceOptions) {
		o.portMatch = match
	}
}

func WithScanInterval(d time.Duration) Option {
	return func(o *serviceOptions) {
		o.scanInterval = d
	}
}

// Service owns the rtmidi driver and one listener on the matched input
// port. A missing port is not an error: the service keeps rescanning
// until the controller shows up or the context ends.
type Service struct {
	log     *zap.Logger
	options serviceOptions
	publish func(controlev.Event)
	ready   chan struct{}
}

func New(log *zap.Logger, publish func(controlev.Event), opts ...Option) *Service {
	options := defaultOptions
	for _, opt := range opts {
		opt(&options)
	}
	return &Service{
		log:     log,
		options: options,
		publish: publish,
		ready:   make(chan struct{}),
	}
}

func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// Start blocks until the context is cancelled.
func (s *Service) Start(ctx context.Context) error {
	drv, err := rtmididrv.New()
	if err != nil {
		return err
	}
	defer drv.Close()
	close(s.ready)

	for {
		in := s.findPort(drv)
		if in == nil {
			s.log.Debug("No matching MIDI port", zap.String("match", s.options.portMatch))
			if !sleep(ctx, s.options.scanInterval) {
				return nil
			}
			continue
		}

		err := s.listen(ctx, in)
		if err != nil {
			s.log.Warn("MIDI listener stopped", zap.String("port", in.String()), zap.Error(err))
		}
		if ctx.Err() != nil {
			return nil
		}
		if !sleep(ctx, s.options.scanInterval) {
			return nil
		}
	}
}

func (s *Service) findPort(drv drivers.Driver) drivers.In {
	ins, err := drv.Ins()
	if err != nil {
		s.log.Warn("Failed to list MIDI ports", zap.Error(err))
		return nil
	}
	match := strings.ToLower(s.options.portMatch)
	for _, in := range ins {
		if strings.Contains(strings.ToLower(in.String()), match) {
			return in
		}
	}
	return nil
}

// listen opens the port and decodes raw messages until the context ends
// or the port fails.
func (s *Service) listen(ctx context.Context, in drivers.In) error {
	if err := in.Open(); err != nil {
		return err
	}
	defer in.Close()

	decoder := decode.NewMIDIDecoder(s.log)
	stop, err := midi.ListenTo(in, func(msg midi.Message, timestampms int32) {
		for _, ev := range decoder.Decode(msg) {
			s.log.Debug("Event", zap.Stringer("event", ev))
			s.publish(ev)
		}
	})
	if err != nil {
		return err
	}
	defer stop()

	s.log.Info("Listening on MIDI port", zap.String("port", in.String()))
	<-ctx.Done()
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	select {
	case <-ctx.Done():
		if !t.Stop() {
			<-t.C
		}
		return false
	case <-t.C:
		return true
	}
}
