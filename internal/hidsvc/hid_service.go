// Package hidsvc owns the USB HID side of the host: it polls hidapi for
// the known control surfaces, keeps a persistent registry of everything
// it has ever seen, and runs one reader goroutine per connected device.
package hidsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/controldeck/controldeck/pkg/bus"
	"github.com/controldeck/controldeck/pkg/controlev"
	"github.com/dgraph-io/badger"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sstallion/go-hid"
	"go.uber.org/zap"
)

// vendorLogitech is the vendor ID shared by the dial pad and the keypad.
const vendorLogitech = 0x046d

type DeviceClass uint8

const (
	ClassDialpad DeviceClass = iota
	ClassKeypad
)

func (c DeviceClass) String() string {
	switch c {
	case ClassDialpad:
		return "dialpad"
	case ClassKeypad:
		return "keypad"
	}
	return "unknown"
}

// Address identifies one HID interface of a physical device.
type Address struct {
	VendorID  uint16 `json:"vendorId"`
	ProductID uint16 `json:"productId"`
	Interface int    `json:"interface"`
}

func (a Address) String() string {
	return fmt.Sprintf("%04x:%04x:%d", a.VendorID, a.ProductID, a.Interface)
}

type EventType uint8

const (
	DeviceConnected EventType = iota
	DeviceDisconnected
)

// DeviceEvent travels on the hotplug bus, keyed by device class.
type DeviceEvent struct {
	Type   EventType
	Device Device
	Info   hid.DeviceInfo
}

type (
	DeviceBus       = bus.Bus[DeviceClass, DeviceEvent]
	DevicePublisher = bus.Publisher[DeviceEvent]
)

// Device is the registry record: identity plus first/last seen times,
// persisted across runs.
type Device struct {
	Address     Address   `json:"address"`
	Class       string    `json:"class"`
	Name        string    `json:"name"`
	FirstSeenAt time.Time `json:"firstSeenAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
}

var ErrDeviceNotFound = errors.New("device not found")

var defaultOptions = serviceOptions{
	pollInterval: time.Second,
	readTimeout:  time.Second,
	layout:       LayoutGeneric,
}

const (
	LayoutGeneric = "generic"
	LayoutVendor  = "vendor"
)

type serviceOptions struct {
	pollInterval time.Duration
	readTimeout  time.Duration
	layout       string
}

type Option func(*serviceOptions)

func WithPollInterval(d time.Duration) Option {
	return func(o *serviceOptions) {
		o.pollInterval = d
	}
}

func WithReadTimeout(d time.Duration) Option {
	return func(o *serviceOptions) {
		o.readTimeout = d
	}
}

// WithLayout flips the dial pad interface preference between the generic
// desktop-usage interface and the vendor-defined one.
func WithLayout(layout string) Option {
	return func(o *serviceOptions) {
		o.layout = layout
	}
}

// Service discovers control surfaces by polling hidapi enumeration,
// publishes connect/disconnect events on the device bus and keeps one
// poller goroutine per connected device feeding the publish callback.
type Service struct {
	log     *zap.Logger
	db      *badger.DB
	options serviceOptions
	now     func() time.Time
	publish func(controlev.Event)

	deviceBus *DeviceBus
	connected *xsync.MapOf[DeviceClass, hid.DeviceInfo]
	pollers   map[DeviceClass]*poller

	ready chan struct{}
}

func New(db *badger.DB, log *zap.Logger, publish func(controlev.Event), opts ...Option) *Service {
	options := defaultOptions
	for _, opt := range opts {
		opt(&options)
	}
	return &Service{
		log:       log,
		db:        db,
		options:   options,
		now:       time.Now,
		publish:   publish,
		deviceBus: bus.NewBus[DeviceClass, DeviceEvent](log),
		connected: xsync.NewMapOf[DeviceClass, hid.DeviceInfo](),
		pollers:   make(map[DeviceClass]*poller),
		ready:     make(chan struct{}),
	}
}

func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// Start blocks until the context is cancelled. Enumeration failures are
// logged and retried on the next tick; they never bring the service down.
func (s *Service) Start(ctx context.Context) error {
	if err := hid.Init(); err != nil {
		return fmt.Errorf("failed to initialize hidapi: %w", err)
	}
	defer hid.Exit()

	if err := s.deviceBus.Start(ctx); err != nil {
		return fmt.Errorf("failed to start device bus: %w", err)
	}
	select {
	case <-ctx.Done():
		return nil
	case <-s.deviceBus.Ready():
	}
	s.consumeEvents(ctx)

	if err := s.refreshDevices(ctx); err != nil {
		s.log.Error("failed to enumerate devices", zap.Error(err))
	}
	close(s.ready)
	s.log.Info("Service started")

	pollTicker := time.NewTicker(s.options.pollInterval)
	defer pollTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pollTicker.C:
			if err := s.refreshDevices(ctx); err != nil {
				s.log.Error("failed to enumerate devices", zap.Error(err))
			}
		}
	}
}

// consumeEvents starts and stops pollers in response to hotplug events.
// Poller lifecycle lives in this single goroutine, so the pollers map
// needs no locking.
func (s *Service) consumeEvents(ctx context.Context) {
	go func() {
		ch := s.deviceBus.Subscribe(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-ch:
				s.handleDeviceEvent(ctx, msg.Key, msg.Message)
			}
		}
	}()
}

func (s *Service) handleDeviceEvent(ctx context.Context, class DeviceClass, event DeviceEvent) {
	if p, ok := s.pollers[class]; ok {
		p.stop()
		delete(s.pollers, class)
	}
	if event.Type != DeviceConnected {
		return
	}
	p := newPoller(s.log.Named(class.String()), event.Info, decoderFor(class), s.publish, s.options.readTimeout)
	s.pollers[class] = p
	p.start(ctx)
}

// refreshDevices diffs the current enumeration against the connected set
// and publishes hotplug events for every change.
func (s *Service) refreshDevices(ctx context.Context) error {
	selected, err := s.enumerateDevices()
	if err != nil {
		return err
	}

	s.connected.Range(func(class DeviceClass, info hid.DeviceInfo) bool {
		if next, ok := selected[class]; ok && next.Path == info.Path {
			delete(selected, class)
			return true
		}
		s.connected.Delete(class)
		s.log.Info("Device disconnected",
			zap.Stringer("class", class),
			zap.String("name", generateName(info)))
		s.deviceBus.Publish(ctx, class, DeviceEvent{Type: DeviceDisconnected, Info: info})
		return true
	})

	for class, info := range selected {
		dev, err := s.registerDevice(class, info)
		if err != nil {
			s.log.Error("failed to register device", zap.Error(err))
			continue
		}
		s.connected.Store(class, info)
		s.log.Info("Device connected",
			zap.Stringer("class", class),
			zap.String("name", dev.Name),
			zap.String("address", dev.Address.String()),
			zap.Time("firstSeenAt", dev.FirstSeenAt))
		s.deviceBus.Publish(ctx, class, DeviceEvent{Type: DeviceConnected, Device: dev, Info: info})
	}
	return nil
}

// enumerateDevices scans hidapi and picks the preferred interface for
// each recognized device class.
func (s *Service) enumerateDevices() (map[DeviceClass]hid.DeviceInfo, error) {
	selected := make(map[DeviceClass]hid.DeviceInfo)
	scores := make(map[DeviceClass]int)
	err := hid.Enumerate(vendorLogitech, hid.ProductIDAny, func(info *hid.DeviceInfo) error {
		class, ok := classify(*info)
		if !ok {
			return nil
		}
		score := interfaceScore(class, s.options.layout, *info)
		if score <= 0 {
			return nil
		}
		if prev, ok := scores[class]; !ok || score > prev {
			selected[class] = *info
			scores[class] = score
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return selected, nil
}

// classify recognizes a control surface by its product string.
func classify(info hid.DeviceInfo) (DeviceClass, bool) {
	product := strings.ToLower(info.ProductStr)
	switch {
	case strings.Contains(product, "keypad"), strings.Contains(product, "keys"):
		return ClassKeypad, true
	case strings.Contains(product, "dialpad"), strings.Contains(product, "dial"):
		return ClassDialpad, true
	}
	return 0, false
}

// interfaceScore ranks the HID interfaces a device exposes. Higher wins;
// zero means never open this interface.
func interfaceScore(class DeviceClass, layout string, info hid.DeviceInfo) int {
	vendorPage := info.UsagePage >= 0xff00
	switch class {
	case ClassKeypad:
		switch {
		case info.UsagePage == 0xff43:
			return 3
		case vendorPage:
			return 2
		default:
			return 1
		}
	case ClassDialpad:
		generic := 0
		switch {
		case info.UsagePage == 0x0001 && info.Usage == 0x0002:
			generic = 3
		case info.UsagePage == 0x0001:
			generic = 2
		}
		if layout == LayoutVendor {
			if vendorPage {
				return 3
			}
			if generic > 0 {
				return 1
			}
			return 0
		}
		if generic > 0 {
			return generic
		}
		if vendorPage {
			return 1
		}
	}
	return 0
}

func generateName(info hid.DeviceInfo) string {
	var parts []string
	if info.MfrStr != "" {
		parts = append(parts, info.MfrStr)
	}
	if info.ProductStr != "" {
		parts = append(parts, info.ProductStr)
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%04x:%04x", info.VendorID, info.ProductID)
	}
	return strings.Join(parts, " ")
}

func deviceKey(addr Address) []byte {
	return []byte(fmt.Sprintf("hid/devices/%s", addr))
}

// registerDevice upserts the registry record, preserving the original
// first-seen time.
func (s *Service) registerDevice(class DeviceClass, info hid.DeviceInfo) (Device, error) {
	addr := Address{
		VendorID:  info.VendorID,
		ProductID: info.ProductID,
		Interface: info.InterfaceNbr,
	}
	var dev Device
	now := s.now()
	err := s.db.Update(func(txn *badger.Txn) error {
		key := deviceKey(addr)
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			dev = Device{}
		case err != nil:
			return err
		default:
			err = item.Value(func(val []byte) error {
				return json.Unmarshal(val, &dev)
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal device: %w", err)
			}
		}
		dev.Address = addr
		dev.Class = class.String()
		dev.Name = generateName(info)
		if dev.FirstSeenAt.IsZero() {
			dev.FirstSeenAt = now
		}
		dev.LastSeenAt = now
		b, err := json.Marshal(dev)
		if err != nil {
			return fmt.Errorf("failed to marshal device: %w", err)
		}
		return txn.Set(key, b)
	})
	if err != nil {
		return Device{}, fmt.Errorf("failed to persist device: %w", err)
	}
	return dev, nil
}

// ListDevices returns every device ever recorded in the registry.
func (s *Service) ListDevices() ([]Device, error) {
	var devices []Device
	err := s.db.View(func(txn *badger.Txn) error {
		iter := txn.NewIterator(badger.DefaultIteratorOptions)
		defer iter.Close()
		prefix := []byte("hid/devices/")
		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			var dev Device
			err := iter.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &dev)
			})
			if err != nil {
				return err
			}
			devices = append(devices, dev)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return devices, nil
}

// IsConnected reports whether a device of the given class is currently
// open.
func (s *Service) IsConnected(class DeviceClass) bool {
	_, ok := s.connected.Load(class)
	return ok
}
