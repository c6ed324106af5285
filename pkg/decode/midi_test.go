package decode

import (
	"testing"

	"github.com/controldeck/controldeck/pkg/controlev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMIDIControlChange(t *testing.T) {
	tests := []struct {
		name   string
		cc     byte
		value  byte
		source string
		label  string
	}{
		{"first knob row", 13, 127, "knob_1a", "KNOB_1A"},
		{"second knob row", 33, 64, "knob_5b", "KNOB_5B"},
		{"pan row", 56, 0, "knob_8c", "KNOB_8C"},
		{"fader", 79, 100, "fader_3", "FADER_3"},
		{"unmapped controller", 99, 42, "cc_99", "CC_99"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewMIDIDecoder(zap.NewNop())
			events := d.Decode([]byte{0xB0, tt.cc, tt.value})
			require.Len(t, events, 1)
			ev := events[0]
			assert.Equal(t, controlev.KindAbsoluteLevel, ev.Kind)
			assert.Equal(t, tt.source, ev.Source)
			assert.Equal(t, tt.label, ev.Label)
			assert.Equal(t, int(tt.value), ev.Raw)
			assert.InDelta(t, float64(tt.value)/127.0, ev.Level, 1e-9)
		})
	}
}

func TestMIDIChannelIgnored(t *testing.T) {
	d := NewMIDIDecoder(zap.NewNop())
	events := d.Decode([]byte{0xB7, 77, 50}) // channel 8
	require.Len(t, events, 1)
	assert.Equal(t, "fader_1", events[0].Source)
}

func TestMIDINoteToggles(t *testing.T) {
	d := NewMIDIDecoder(zap.NewNop())

	events := d.Decode([]byte{0x90, 42, 100})
	require.Len(t, events, 1)
	assert.Equal(t, "focus_2", events[0].Source)
	assert.True(t, events[0].Pressed)

	// Second press toggles back off.
	events = d.Decode([]byte{0x90, 42, 100})
	require.Len(t, events, 1)
	assert.False(t, events[0].Pressed)

	events = d.Decode([]byte{0x90, 90, 1})
	require.Len(t, events, 1)
	assert.Equal(t, "ctrl_6", events[0].Source)
	assert.True(t, events[0].Pressed)
}

// Physical releases never emit events: the buttons latch.
func TestMIDIReleaseEmitsNothing(t *testing.T) {
	d := NewMIDIDecoder(zap.NewNop())
	d.Decode([]byte{0x90, 41, 100})

	assert.Empty(t, d.Decode([]byte{0x90, 41, 0})) // note-off encoded as note-on
	assert.Empty(t, d.Decode([]byte{0x80, 41, 0})) // explicit note-off

	// Latched state survives the releases.
	events := d.Decode([]byte{0x90, 41, 100})
	require.Len(t, events, 1)
	assert.False(t, events[0].Pressed)
}

func TestMIDIMalformedMessages(t *testing.T) {
	d := NewMIDIDecoder(zap.NewNop())
	assert.Empty(t, d.Decode(nil))
	assert.Empty(t, d.Decode([]byte{0xB0, 13}))
	assert.Empty(t, d.Decode([]byte{0xF8, 0, 0})) // clock tick
}
