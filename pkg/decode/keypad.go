package decode

import (
	"time"

	"github.com/controldeck/controldeck/pkg/controlev"
)

const keypadReport = 0x13

// KeypadDecoder decodes the nine-button keypad. The hardware reports a
// single "currently pressed button" byte (1..9, 0 for none), so chords are
// not representable. When one button directly replaces another the decoder
// synthesizes the release of the previous button first, keeping at most
// one button pressed at any time.
type KeypadDecoder struct {
	lastButton byte
	now        func() time.Time
}

func NewKeypadDecoder() *KeypadDecoder {
	return &KeypadDecoder{now: time.Now}
}

func (d *KeypadDecoder) Decode(report []byte) []controlev.Event {
	if len(report) < 7 || report[0] != keypadReport {
		return nil
	}
	button := report[6]
	if button == d.lastButton {
		return nil
	}
	var events []controlev.Event
	if d.lastButton != 0 {
		events = append(events, keypadEvent(int(d.lastButton), false, d.now()))
	}
	if button != 0 {
		events = append(events, keypadEvent(int(button), true, d.now()))
	}
	d.lastButton = button
	return events
}

func keypadEvent(button int, pressed bool, at time.Time) controlev.Event {
	return controlev.Event{
		Kind:    controlev.KindButtonState,
		Source:  controlev.KeypadSource(button),
		Time:    at,
		Pressed: pressed,
		Ctrl:    controlev.CtrlKeypad,
		Number:  button,
	}
}
