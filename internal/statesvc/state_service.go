// Package statesvc maintains the canonical controller state: one versioned
// snapshot of every known control, mutated only by applying events in
// arrival order, and published to pull-based consumers through a shared
// JSON state file.
package statesvc

import (
	"runtime"
	"sync"
	"time"

	"github.com/controldeck/controldeck/pkg/controlev"
	"go.uber.org/zap"
)

// DefaultStateDir is where the shared state files live when no path is
// configured. Polling consumers expect the same well-known location.
func DefaultStateDir() string {
	if runtime.GOOS == "windows" {
		return "C:/temp"
	}
	return "/tmp"
}

type Options struct {
	// StatePath is the full-snapshot resource. Empty disables the sink.
	StatePath string
	// CommandPath receives the latest single delta event (legacy
	// per-field consumers). Empty disables it.
	CommandPath string
	// PositionPath receives the accumulated x/y offsets. Empty disables it.
	PositionPath string

	Now func() time.Time
}

type accumulator struct {
	value     int
	lastDelta int
}

// LastDelta is what the /status endpoint reports: the most recent
// rotation event, or the zero value before any arrives.
type LastDelta struct {
	Delta int    `json:"delta"`
	Ctrl  string `json:"ctrl"`
}

// Position is the accumulated offset fed by dial (x) and scroller (y)
// deltas.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Service applies events to the canonical state under a single mutex and
// republishes the snapshot after every successful apply. Related fields
// (an accumulator's value and last delta) are updated atomically with
// respect to readers; unrelated fields read at different instants by the
// legacy per-field files are not snapshot-consistent, which is a known
// relaxation of the consumer contract.
type Service struct {
	log     *zap.Logger
	options Options
	now     func() time.Time

	mu          sync.Mutex
	accums      map[string]*accumulator
	buttons     map[string]bool
	levels      map[string]float64
	lastPressed int
	connected   bool
	lastUpdate  time.Time
	lastDelta   LastDelta
	position    Position
	version     uint64

	// fileMu serializes state-file writes, which happen outside mu.
	// versionWritten keeps a slow writer from replacing a newer snapshot
	// with an older one.
	fileMu         sync.Mutex
	versionWritten uint64
}

func New(log *zap.Logger, options Options) *Service {
	now := options.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		log:     log,
		options: options,
		now:     now,
		accums:  make(map[string]*accumulator),
		buttons: make(map[string]bool),
		levels:  make(map[string]float64),
		lastDelta: LastDelta{
			Ctrl: "unknown",
		},
	}
}

// Apply mutates the canonical state with one event and refreshes every
// configured sink. Sink write failures are logged and retried on the next
// event; they never propagate to the caller.
func (s *Service) Apply(ev controlev.Event) {
	s.mu.Lock()
	switch ev.Kind {
	case controlev.KindRelativeDelta:
		acc, ok := s.accums[ev.Source]
		if !ok {
			acc = &accumulator{}
			s.accums[ev.Source] = acc
		}
		acc.value += ev.Delta
		acc.lastDelta = ev.Delta
		s.lastDelta = LastDelta{Delta: ev.Delta, Ctrl: ev.Ctrl}
		if ev.Ctrl == controlev.CtrlScroller {
			s.position.Y += ev.Delta
		} else {
			s.position.X += ev.Delta
		}
	case controlev.KindButtonState:
		s.buttons[ev.Source] = ev.Pressed
		if ev.Ctrl == controlev.CtrlKeypad {
			if ev.Pressed {
				s.lastPressed = ev.Number
			} else if s.lastPressed == ev.Number {
				s.lastPressed = 0
			}
		}
	case controlev.KindAbsoluteLevel:
		s.levels[ev.Source] = ev.Level
	}
	s.lastUpdate = s.now()
	s.version++
	version := s.version
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.writeState(snapshot, version)
	if ev.Kind == controlev.KindRelativeDelta {
		s.writeCommand(ev)
		s.writePosition()
	}
}

// SetConnected records whether a bridge is currently attached and
// republishes the snapshot so pollers observe the flag change.
func (s *Service) SetConnected(connected bool) {
	s.mu.Lock()
	s.connected = connected
	s.version++
	version := s.version
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	s.writeState(snapshot, version)
}

// LastDeltaState returns the most recent rotation event.
func (s *Service) LastDeltaState() LastDelta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastDelta
}

// ResetPosition zeroes the accumulated offsets and rewrites the position
// file.
func (s *Service) ResetPosition() Position {
	s.mu.Lock()
	s.position = Position{}
	pos := s.position
	s.mu.Unlock()
	s.writePosition()
	return pos
}

// Accumulator returns the running value and last delta for a relative
// source, or zeros if the source was never seen.
func (s *Service) Accumulator(source string) (value, lastDelta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acc, ok := s.accums[source]; ok {
		return acc.value, acc.lastDelta
	}
	return 0, 0
}

// Button returns the latest boolean for a button source.
func (s *Service) Button(source string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buttons[source]
}

// Level returns the latest normalized level for an absolute source.
func (s *Service) Level(source string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.levels[source]
}
