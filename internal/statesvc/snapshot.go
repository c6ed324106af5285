package statesvc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/controldeck/controldeck/pkg/controlev"
	"go.uber.org/zap"
)

// Snapshot key sets. Every known control appears in every snapshot with
// its default value so that readers never need a presence check.
var (
	cornerButtonKeys = []string{
		"btn_top_left", "btn_top_right", "btn_bottom_left", "btn_bottom_right",
	}
	knobRows = []string{"a", "b", "c"}
)

// Snapshot returns the complete current value of every tracked control as
// a JSON-ready map. Map serialization sorts keys, so a quiescent state
// always serializes to the same bytes.
func (s *Service) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Service) snapshotLocked() map[string]any {
	snap := make(map[string]any, 96)

	for _, key := range cornerButtonKeys {
		snap[key] = s.buttons[key]
	}
	anyPressed := false
	for i := 1; i <= 9; i++ {
		key := controlev.KeypadSource(i)
		pressed := s.buttons[key]
		snap[key] = pressed
		anyPressed = anyPressed || pressed
	}
	snap["any_pressed"] = anyPressed
	snap["last_pressed"] = s.lastPressed

	for _, row := range knobRows {
		for i := 1; i <= 8; i++ {
			key := fmt.Sprintf("knob_%d%s", i, row)
			snap[key] = s.levels[key]
		}
	}
	for i := 1; i <= 8; i++ {
		key := fmt.Sprintf("fader_%d", i)
		snap[key] = s.levels[key]
		snap[fmt.Sprintf("focus_%d", i)] = s.buttons[fmt.Sprintf("focus_%d", i)]
		snap[fmt.Sprintf("ctrl_%d", i)] = s.buttons[fmt.Sprintf("ctrl_%d", i)]
	}

	// Controls outside the fixed sets (unmapped CCs, extra buttons) are
	// still published under their own keys.
	for key, level := range s.levels {
		if _, ok := snap[key]; !ok {
			snap[key] = level
		}
	}
	for key, pressed := range s.buttons {
		if _, ok := snap[key]; !ok {
			snap[key] = pressed
		}
	}

	dial := s.accums["dial"]
	if dial == nil {
		dial = &accumulator{}
	}
	scroller := s.accums["scroller"]
	if scroller == nil {
		scroller = &accumulator{}
	}
	snap["dial_value"] = dial.value
	snap["dial_delta"] = dial.lastDelta
	snap["scroller_value"] = scroller.value
	snap["scroller_delta"] = scroller.lastDelta

	snap["connected"] = s.connected
	if s.lastUpdate.IsZero() {
		snap["last_update"] = 0
	} else {
		snap["last_update"] = float64(s.lastUpdate.UnixMilli()) / 1000.0
	}
	return snap
}

// writeState publishes a snapshot taken at the given version. Snapshots
// are captured under mu but written outside it, so two writers can race
// here; the version check makes sure an older snapshot never lands on
// top of a newer one.
func (s *Service) writeState(snapshot map[string]any, version uint64) {
	if s.options.StatePath == "" {
		return
	}
	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	if version <= s.versionWritten {
		return
	}
	s.versionWritten = version
	data, err := json.Marshal(snapshot)
	if err != nil {
		s.log.Error("failed to marshal snapshot", zap.Error(err))
		return
	}
	if err := writeFileAtomic(s.options.StatePath, data); err != nil {
		s.log.Debug("failed to write state file", zap.Error(err))
	}
}

func (s *Service) writeCommand(ev controlev.Event) {
	if s.options.CommandPath == "" {
		return
	}
	cmd := struct {
		Delta     int     `json:"delta"`
		Ctrl      string  `json:"ctrl"`
		Timestamp float64 `json:"timestamp"`
	}{
		Delta:     ev.Delta,
		Ctrl:      ev.Ctrl,
		Timestamp: float64(s.now().UnixMilli()) / 1000.0,
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		s.log.Error("failed to marshal command", zap.Error(err))
		return
	}
	if err := writeFileAtomic(s.options.CommandPath, data); err != nil {
		s.log.Debug("failed to write command file", zap.Error(err))
	}
}

func (s *Service) writePosition() {
	if s.options.PositionPath == "" {
		return
	}
	s.mu.Lock()
	pos := s.position
	s.mu.Unlock()
	data, err := json.Marshal(pos)
	if err != nil {
		s.log.Error("failed to marshal position", zap.Error(err))
		return
	}
	if err := writeFileAtomic(s.options.PositionPath, data); err != nil {
		s.log.Debug("failed to write position file", zap.Error(err))
	}
}

// writeFileAtomic publishes via write-temp-then-rename so a concurrent
// reader never observes a half-written resource.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
