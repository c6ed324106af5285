package decode

import (
	"testing"

	"github.com/controldeck/controldeck/pkg/controlev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func genericDialReport(delta int8) []byte {
	return []byte{0x11, 0xff, 0x0d, 0x00, 0x01, byte(delta), 0x00, 0x00}
}

func vendorReport(buttons byte, scroller, dial int8) []byte {
	return []byte{0x02, buttons, 0x00, 0x00, 0x00, 0x00, byte(scroller), byte(dial)}
}

func TestDialpadGenericRotation(t *testing.T) {
	tests := []struct {
		name  string
		delta int8
		want  int
	}{
		{"clockwise", 5, 5},
		{"counterclockwise", -3, -3},
		{"max positive", 127, 127},
		{"max negative", -128, -128},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDialpadDecoder()
			events := d.Decode(genericDialReport(tt.delta))
			require.Len(t, events, 1)
			assert.Equal(t, controlev.KindRelativeDelta, events[0].Kind)
			assert.Equal(t, "dial", events[0].Source)
			assert.Equal(t, tt.want, events[0].Delta)
			assert.Equal(t, controlev.CtrlBigDial, events[0].Ctrl)
		})
	}
}

func TestDialpadGenericZeroDeltaEmitsNothing(t *testing.T) {
	d := NewDialpadDecoder()
	assert.Empty(t, d.Decode(genericDialReport(0)))
}

func TestDialpadGenericButtons(t *testing.T) {
	d := NewDialpadDecoder()
	events := d.Decode([]byte{0x11, 0xff, 0x0a, 0x00, 0x00, 0x56, 0x01})
	require.Len(t, events, 1)
	assert.Equal(t, "btn_top_right", events[0].Source)
	assert.Equal(t, "TOP RIGHT", events[0].Label)
	assert.True(t, events[0].Pressed)

	events = d.Decode([]byte{0x11, 0xff, 0x0a, 0x00, 0x00, 0x56, 0x00})
	require.Len(t, events, 1)
	assert.False(t, events[0].Pressed)
}

func TestDialpadVendorRotation(t *testing.T) {
	d := NewDialpadDecoder()
	events := d.Decode(vendorReport(0, -2, 7))
	require.Len(t, events, 2)
	assert.Equal(t, "scroller", events[0].Source)
	assert.Equal(t, -2, events[0].Delta)
	assert.Equal(t, "dial", events[1].Source)
	assert.Equal(t, 7, events[1].Delta)
}

func TestDialpadVendorButtonTransitions(t *testing.T) {
	d := NewDialpadDecoder()

	// Two buttons down at once: two pressed events.
	events := d.Decode(vendorReport(0x08|0x40, 0, 0))
	require.Len(t, events, 2)
	for _, ev := range events {
		assert.True(t, ev.Pressed)
	}
	assert.Equal(t, "btn_top_left", events[0].Source)
	assert.Equal(t, "btn_bottom_right", events[1].Source)

	// Unchanged bitmask: nothing.
	assert.Empty(t, d.Decode(vendorReport(0x08|0x40, 0, 0)))

	// One bit cleared: exactly one release.
	events = d.Decode(vendorReport(0x40, 0, 0))
	require.Len(t, events, 1)
	assert.Equal(t, "btn_top_left", events[0].Source)
	assert.False(t, events[0].Pressed)
}

func TestDialpadMalformedReports(t *testing.T) {
	d := NewDialpadDecoder()
	assert.Empty(t, d.Decode(nil))
	assert.Empty(t, d.Decode([]byte{0x11, 0xff}))
	assert.Empty(t, d.Decode([]byte{0x02, 0x00, 0x00}))
	assert.Empty(t, d.Decode([]byte{0x7f, 1, 2, 3, 4, 5, 6, 7}))
}
