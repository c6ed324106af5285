package controlev

import (
	"encoding/json"
	"fmt"
	"math"
)

// wireMessage is the single JSON shape used for every control class.
// Optional fields are pointers so each class serializes only the fields
// its consumers expect.
type wireMessage struct {
	Ctrl       string   `json:"ctrl"`
	Delta      *int     `json:"delta,omitempty"`
	Name       string   `json:"name,omitempty"`
	State      string   `json:"state,omitempty"`
	Button     *int     `json:"button,omitempty"`
	CC         *int     `json:"cc,omitempty"`
	Value      *int     `json:"value,omitempty"`
	Normalized *float64 `json:"normalized,omitempty"`
	Note       *int     `json:"note,omitempty"`
	Velocity   *int     `json:"velocity,omitempty"`
}

const (
	statePressed  = "PRESSED"
	stateReleased = "RELEASED"
	stateOn       = "ON"
	stateOff      = "OFF"
)

// Normalize converts a raw MIDI data byte (0..127) to the 0..100 scale
// carried on the wire, rounded to one decimal.
func Normalize(raw int) float64 {
	return math.Round(float64(raw)/127.0*1000) / 10
}

// Marshal serializes an event into its wire message.
func Marshal(e Event) ([]byte, error) {
	msg := wireMessage{Ctrl: e.Ctrl}
	switch e.Ctrl {
	case CtrlBigDial, CtrlScroller:
		d := e.Delta
		msg.Delta = &d
	case CtrlButton:
		msg.Name = e.Label
		msg.State = pressState(e.Pressed, statePressed, stateReleased)
	case CtrlKeypad:
		n := e.Number
		msg.Button = &n
		msg.State = pressState(e.Pressed, statePressed, stateReleased)
	case CtrlMidiCC:
		cc, val := e.Number, e.Raw
		norm := Normalize(val)
		msg.CC = &cc
		msg.Name = e.Label
		msg.Value = &val
		msg.Normalized = &norm
	case CtrlMidiNote:
		note, vel := e.Number, e.Raw
		msg.Note = &note
		msg.Name = e.Label
		msg.Velocity = &vel
		msg.State = pressState(e.Pressed, stateOn, stateOff)
	default:
		return nil, fmt.Errorf("unknown control class: %q", e.Ctrl)
	}
	return json.Marshal(msg)
}

func pressState(pressed bool, on, off string) string {
	if pressed {
		return on
	}
	return off
}

// Parse decodes a wire message back into a normalized event. A message
// that is not valid JSON, or carries an unknown control class, is an
// error; the relay forwards such messages to viewers anyway and only
// skips aggregation.
func Parse(data []byte) (Event, error) {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Event{}, fmt.Errorf("unparseable message: %w", err)
	}
	switch msg.Ctrl {
	case CtrlBigDial, CtrlScroller:
		if msg.Delta == nil {
			return Event{}, fmt.Errorf("%s message without delta", msg.Ctrl)
		}
		source := "dial"
		if msg.Ctrl == CtrlScroller {
			source = "scroller"
		}
		return Event{
			Kind:   KindRelativeDelta,
			Source: source,
			Delta:  *msg.Delta,
			Ctrl:   msg.Ctrl,
		}, nil
	case CtrlButton:
		if msg.Name == "" {
			return Event{}, fmt.Errorf("BTN message without name")
		}
		return Event{
			Kind:    KindButtonState,
			Source:  ButtonSource(msg.Name),
			Pressed: msg.State == statePressed,
			Ctrl:    msg.Ctrl,
			Label:   msg.Name,
		}, nil
	case CtrlKeypad:
		if msg.Button == nil {
			return Event{}, fmt.Errorf("KEYPAD message without button")
		}
		return Event{
			Kind:    KindButtonState,
			Source:  KeypadSource(*msg.Button),
			Pressed: msg.State == statePressed,
			Ctrl:    msg.Ctrl,
			Number:  *msg.Button,
		}, nil
	case CtrlMidiCC:
		if msg.CC == nil || msg.Value == nil {
			return Event{}, fmt.Errorf("MIDI_CC message without cc or value")
		}
		if msg.Name == "" {
			return Event{}, fmt.Errorf("MIDI_CC message without name")
		}
		return Event{
			Kind:   KindAbsoluteLevel,
			Source: CCSource(msg.Name),
			Level:  float64(*msg.Value) / 127.0,
			Ctrl:   msg.Ctrl,
			Label:  msg.Name,
			Number: *msg.CC,
			Raw:    *msg.Value,
		}, nil
	case CtrlMidiNote:
		if msg.Note == nil {
			return Event{}, fmt.Errorf("MIDI_NOTE message without note")
		}
		if msg.Name == "" {
			return Event{}, fmt.Errorf("MIDI_NOTE message without name")
		}
		vel := 0
		if msg.Velocity != nil {
			vel = *msg.Velocity
		}
		return Event{
			Kind:    KindButtonState,
			Source:  NoteSource(msg.Name),
			Pressed: msg.State == stateOn,
			Ctrl:    msg.Ctrl,
			Label:   msg.Name,
			Number:  *msg.Note,
			Raw:     vel,
		}, nil
	}
	return Event{}, fmt.Errorf("unknown control class: %q", msg.Ctrl)
}
