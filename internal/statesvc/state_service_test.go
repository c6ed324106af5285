package statesvc

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/controldeck/controldeck/pkg/controlev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T, options Options) *Service {
	t.Helper()
	if options.Now == nil {
		options.Now = func() time.Time {
			return time.Unix(1700000000, 0)
		}
	}
	return New(zap.NewNop(), options)
}

func deltaEvent(ctrl string, delta int) controlev.Event {
	source := "dial"
	if ctrl == controlev.CtrlScroller {
		source = "scroller"
	}
	return controlev.Event{
		Kind:   controlev.KindRelativeDelta,
		Source: source,
		Delta:  delta,
		Ctrl:   ctrl,
	}
}

func TestAccumulatorSequence(t *testing.T) {
	s := newTestService(t, Options{})
	for _, d := range []int{3, -1, 4} {
		s.Apply(deltaEvent(controlev.CtrlBigDial, d))
	}
	value, last := s.Accumulator("dial")
	assert.Equal(t, 6, value)
	assert.Equal(t, 4, last)

	value, last = s.Accumulator("scroller")
	assert.Equal(t, 0, value)
	assert.Equal(t, 0, last)
}

func TestAbsoluteLevelOverwrites(t *testing.T) {
	s := newTestService(t, Options{})
	ev := controlev.Event{
		Kind:   controlev.KindAbsoluteLevel,
		Source: "fader_3",
		Level:  0.62,
		Ctrl:   controlev.CtrlMidiCC,
	}
	s.Apply(ev)
	s.Apply(ev)
	assert.InDelta(t, 0.62, s.Level("fader_3"), 1e-9)
}

func TestButtonOverwrites(t *testing.T) {
	s := newTestService(t, Options{})
	ev := controlev.Event{
		Kind:    controlev.KindButtonState,
		Source:  "btn_top_left",
		Pressed: true,
		Ctrl:    controlev.CtrlButton,
		Label:   "TOP LEFT",
	}
	s.Apply(ev)
	assert.True(t, s.Button("btn_top_left"))
	ev.Pressed = false
	s.Apply(ev)
	assert.False(t, s.Button("btn_top_left"))
}

func TestKeypadLastPressed(t *testing.T) {
	s := newTestService(t, Options{})
	press := controlev.Event{
		Kind:    controlev.KindButtonState,
		Source:  controlev.KeypadSource(7),
		Pressed: true,
		Ctrl:    controlev.CtrlKeypad,
		Number:  7,
	}
	s.Apply(press)

	snap := s.Snapshot()
	assert.Equal(t, true, snap["btn_7"])
	assert.Equal(t, true, snap["any_pressed"])
	assert.Equal(t, 7, snap["last_pressed"])

	release := press
	release.Pressed = false
	s.Apply(release)
	snap = s.Snapshot()
	assert.Equal(t, false, snap["any_pressed"])
	assert.Equal(t, 0, snap["last_pressed"])
}

// A quiescent snapshot must serialize, parse, and re-serialize to the
// exact same bytes.
func TestSnapshotRoundTrip(t *testing.T) {
	s := newTestService(t, Options{})
	first, err := json.Marshal(s.Snapshot())
	require.NoError(t, err)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(first, &parsed))
	second, err := json.Marshal(parsed)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSnapshotDefaults(t *testing.T) {
	s := newTestService(t, Options{})
	snap := s.Snapshot()
	assert.Equal(t, 0, snap["dial_value"])
	assert.Equal(t, false, snap["btn_top_right"])
	assert.Equal(t, 0.0, snap["knob_5b"])
	assert.Equal(t, 0.0, snap["fader_8"])
	assert.Equal(t, false, snap["focus_2"])
	assert.Equal(t, false, snap["connected"])
	assert.Equal(t, 0, snap["last_update"])
}

func TestStateFileWrittenAtomically(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "controller_state.json")
	s := newTestService(t, Options{StatePath: statePath})

	s.Apply(deltaEvent(controlev.CtrlBigDial, 5))

	data, err := os.ReadFile(statePath)
	require.NoError(t, err)
	var snap map[string]any
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, float64(5), snap["dial_value"])

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestStateFileNeverRegresses(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "controller_state.json")
	s := newTestService(t, Options{StatePath: statePath})

	s.Apply(deltaEvent(controlev.CtrlBigDial, 5))

	// A writer holding an older snapshot can reach the file sink after a
	// newer one has already been written; it must not win.
	stale := s.Snapshot()
	stale["dial_value"] = 0
	s.writeState(stale, 1)

	data, err := os.ReadFile(statePath)
	require.NoError(t, err)
	var snap map[string]any
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, float64(5), snap["dial_value"])

	// The next event still gets published.
	s.Apply(deltaEvent(controlev.CtrlBigDial, 2))
	data, err = os.ReadFile(statePath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, float64(7), snap["dial_value"])
}

func TestCommandAndPositionFiles(t *testing.T) {
	dir := t.TempDir()
	s := newTestService(t, Options{
		CommandPath:  filepath.Join(dir, "command.json"),
		PositionPath: filepath.Join(dir, "position.json"),
	})

	s.Apply(deltaEvent(controlev.CtrlBigDial, 4))
	s.Apply(deltaEvent(controlev.CtrlScroller, -2))

	var cmd struct {
		Delta int    `json:"delta"`
		Ctrl  string `json:"ctrl"`
	}
	data, err := os.ReadFile(filepath.Join(dir, "command.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &cmd))
	assert.Equal(t, -2, cmd.Delta)
	assert.Equal(t, "SMALL", cmd.Ctrl)

	var pos Position
	data, err = os.ReadFile(filepath.Join(dir, "position.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &pos))
	assert.Equal(t, Position{X: 4, Y: -2}, pos)

	s.ResetPosition()
	data, err = os.ReadFile(filepath.Join(dir, "position.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &pos))
	assert.Equal(t, Position{}, pos)
}

func TestWriteFaultIsNonFatal(t *testing.T) {
	s := newTestService(t, Options{
		StatePath: filepath.Join(t.TempDir(), "missing", "\x00bad", "state.json"),
	})
	// Must not panic or error out.
	s.Apply(deltaEvent(controlev.CtrlBigDial, 1))
	value, _ := s.Accumulator("dial")
	assert.Equal(t, 1, value)
}
