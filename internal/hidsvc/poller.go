package hidsvc

import (
	"context"
	"time"

	"github.com/controldeck/controldeck/pkg/controlev"
	"github.com/controldeck/controldeck/pkg/decode"
	"github.com/sstallion/go-hid"
	"go.uber.org/zap"
)

// reportDecoder turns one raw HID report into zero or more events.
// Decoders keep per-device state (previous button mask), so each poller
// owns its own instance.
type reportDecoder interface {
	Decode(report []byte) []controlev.Event
}

func decoderFor(class DeviceClass) reportDecoder {
	switch class {
	case ClassKeypad:
		return decode.NewKeypadDecoder()
	default:
		return decode.NewDialpadDecoder()
	}
}

// poller owns one open device handle and a goroutine doing blocking
// reads. A read timeout just means the device is idle; a genuine I/O
// error ends this poller and the next enumeration tick reconnects.
type poller struct {
	log         *zap.Logger
	info        hid.DeviceInfo
	decoder     reportDecoder
	publish     func(controlev.Event)
	readTimeout time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

func newPoller(log *zap.Logger, info hid.DeviceInfo, decoder reportDecoder, publish func(controlev.Event), readTimeout time.Duration) *poller {
	return &poller{
		log:         log,
		info:        info,
		decoder:     decoder,
		publish:     publish,
		readTimeout: readTimeout,
		done:        make(chan struct{}),
	}
}

func (p *poller) start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	go func() {
		defer close(p.done)
		p.run(ctx)
	}()
}

func (p *poller) stop() {
	if p.cancel != nil {
		p.cancel()
	}
	<-p.done
}

func (p *poller) run(ctx context.Context) {
	dev, err := hid.OpenPath(p.info.Path)
	if err != nil {
		p.log.Error("failed to open device", zap.String("path", p.info.Path), zap.Error(err))
		return
	}
	defer dev.Close()
	p.log.Debug("Poller started", zap.String("path", p.info.Path))

	buf := make([]byte, 64)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := dev.ReadWithTimeout(buf, p.readTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Warn("Read failed, stopping poller", zap.Error(err))
			return
		}
		if n == 0 {
			// Timeout; the device is idle.
			continue
		}
		report := make([]byte, n)
		copy(report, buf[:n])
		for _, ev := range p.decoder.Decode(report) {
			p.log.Debug("Event", zap.Stringer("event", ev))
			p.publish(ev)
		}
	}
}
