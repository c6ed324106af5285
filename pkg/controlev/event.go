// Package controlev defines the normalized control events that flow from
// device pollers to the relay, and the JSON wire format they travel in.
package controlev

import (
	"fmt"
	"strings"
	"time"
)

type Kind uint8

const (
	KindRelativeDelta Kind = iota
	KindButtonState
	KindAbsoluteLevel
)

func (k Kind) String() string {
	switch k {
	case KindRelativeDelta:
		return "delta"
	case KindButtonState:
		return "button"
	case KindAbsoluteLevel:
		return "level"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Wire control classes. These match the "ctrl" field on the wire.
const (
	CtrlBigDial  = "BIG"
	CtrlScroller = "SMALL"
	CtrlButton   = "BTN"
	CtrlKeypad   = "KEYPAD"
	CtrlMidiCC   = "MIDI_CC"
	CtrlMidiNote = "MIDI_NOTE"
)

// Event is one normalized control sample. Events are immutable once
// created; only the aggregator state mutates.
type Event struct {
	Kind   Kind
	Source string
	Time   time.Time

	// Kind-specific payload.
	Delta   int
	Pressed bool
	Level   float64 // 0.0 .. 1.0

	// Wire details, preserved so the relay can report exactly what the
	// hardware said.
	Ctrl   string // BIG, SMALL, BTN, KEYPAD, MIDI_CC, MIDI_NOTE
	Label  string // display name, e.g. "TOP LEFT", "KNOB_5B"
	Number int    // cc / note / keypad button number
	Raw    int    // raw MIDI data byte (0..127)
}

func (e Event) String() string {
	switch e.Kind {
	case KindRelativeDelta:
		return fmt.Sprintf("%s%+d", e.Source, e.Delta)
	case KindButtonState:
		if e.Pressed {
			return "+" + e.Source
		}
		return "-" + e.Source
	case KindAbsoluteLevel:
		return fmt.Sprintf("%s=%.3f", e.Source, e.Level)
	}
	return "(empty)"
}

// ButtonSource converts a hardware button label ("TOP LEFT") into its
// stable snapshot key ("btn_top_left").
func ButtonSource(label string) string {
	return "btn_" + strings.ReplaceAll(strings.ToLower(label), " ", "_")
}

// KeypadSource returns the snapshot key for a keypad button number.
func KeypadSource(button int) string {
	return fmt.Sprintf("btn_%d", button)
}

// CCSource converts a MIDI CC label ("KNOB_5B", "FADER_3", "CC_99") into
// its snapshot key.
func CCSource(label string) string {
	return strings.ToLower(label)
}

// NoteSource converts a MIDI note label into its snapshot key. The two
// LCXL button rows drop their BTN_ prefix: "BTN_FOCUS_2" becomes
// "focus_2" and "BTN_CTRL_6" becomes "ctrl_6".
func NoteSource(label string) string {
	return strings.ToLower(strings.TrimPrefix(label, "BTN_"))
}
