package decode

import (
	"testing"

	"github.com/controldeck/controldeck/pkg/controlev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keypadReportFor(button byte) []byte {
	return []byte{0x13, 0, 0, 0, 0, 0, button}
}

func TestKeypadPressRelease(t *testing.T) {
	d := NewKeypadDecoder()

	events := d.Decode(keypadReportFor(7))
	require.Len(t, events, 1)
	assert.Equal(t, "btn_7", events[0].Source)
	assert.Equal(t, 7, events[0].Number)
	assert.True(t, events[0].Pressed)
	assert.Equal(t, controlev.CtrlKeypad, events[0].Ctrl)

	events = d.Decode(keypadReportFor(0))
	require.Len(t, events, 1)
	assert.Equal(t, "btn_7", events[0].Source)
	assert.False(t, events[0].Pressed)
}

func TestKeypadIdleEmitsNothing(t *testing.T) {
	d := NewKeypadDecoder()
	assert.Empty(t, d.Decode(keypadReportFor(0)))
	assert.Empty(t, d.Decode(keypadReportFor(0)))
}

// The hardware reports a single active button; the emitted stream must
// never contain two pressed events without an intervening release.
func TestKeypadSingleActiveButton(t *testing.T) {
	d := NewKeypadDecoder()
	sequence := []byte{3, 3, 0, 5, 9, 0}

	pressed := false
	for _, b := range sequence {
		for _, ev := range d.Decode(keypadReportFor(b)) {
			if ev.Pressed {
				require.False(t, pressed, "press of %d while another button held", ev.Number)
				pressed = true
			} else {
				pressed = false
			}
		}
	}
	assert.False(t, pressed)
}

// Direct replacement of one button by another yields the release of the
// old button before the press of the new one.
func TestKeypadPressOverPress(t *testing.T) {
	d := NewKeypadDecoder()
	d.Decode(keypadReportFor(5))

	events := d.Decode(keypadReportFor(9))
	require.Len(t, events, 2)
	assert.Equal(t, 5, events[0].Number)
	assert.False(t, events[0].Pressed)
	assert.Equal(t, 9, events[1].Number)
	assert.True(t, events[1].Pressed)
}

func TestKeypadMalformedReports(t *testing.T) {
	d := NewKeypadDecoder()
	assert.Empty(t, d.Decode(nil))
	assert.Empty(t, d.Decode([]byte{0x13, 0, 0}))
	assert.Empty(t, d.Decode([]byte{0x11, 0, 0, 0, 0, 0, 5}))
}
