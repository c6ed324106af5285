package decode

import (
	"fmt"
	"time"

	"github.com/controldeck/controldeck/pkg/controlev"
	"go.uber.org/zap"
)

const (
	midiControlChange = 0xB0
	midiNoteOn        = 0x90
	midiNoteOff       = 0x80
)

// Launch Control XL controller numbers. Three knob rows and the faders.
var midiCCNames = map[uint8]string{
	13: "KNOB_1A", 14: "KNOB_2A", 15: "KNOB_3A", 16: "KNOB_4A",
	17: "KNOB_5A", 18: "KNOB_6A", 19: "KNOB_7A", 20: "KNOB_8A",
	29: "KNOB_1B", 30: "KNOB_2B", 31: "KNOB_3B", 32: "KNOB_4B",
	33: "KNOB_5B", 34: "KNOB_6B", 35: "KNOB_7B", 36: "KNOB_8B",
	49: "KNOB_1C", 50: "KNOB_2C", 51: "KNOB_3C", 52: "KNOB_4C",
	53: "KNOB_5C", 54: "KNOB_6C", 55: "KNOB_7C", 56: "KNOB_8C",
	77: "FADER_1", 78: "FADER_2", 79: "FADER_3", 80: "FADER_4",
	81: "FADER_5", 82: "FADER_6", 83: "FADER_7", 84: "FADER_8",
}

// Launch Control XL note numbers for the two button rows.
var midiNoteNames = map[uint8]string{
	41: "BTN_FOCUS_1", 42: "BTN_FOCUS_2", 43: "BTN_FOCUS_3", 44: "BTN_FOCUS_4",
	57: "BTN_FOCUS_5", 58: "BTN_FOCUS_6", 59: "BTN_FOCUS_7", 60: "BTN_FOCUS_8",
	73: "BTN_CTRL_1", 74: "BTN_CTRL_2", 75: "BTN_CTRL_3", 76: "BTN_CTRL_4",
	89: "BTN_CTRL_5", 90: "BTN_CTRL_6", 91: "BTN_CTRL_7", 92: "BTN_CTRL_8",
}

// MIDIDecoder decodes standard 3-byte MIDI messages. Mapped notes behave
// as latching toggles: a Note-On with velocity > 0 flips the stored state,
// while Note-Off and zero-velocity Note-On are observed but deliberately
// never emit a second event.
type MIDIDecoder struct {
	log       *zap.Logger
	noteState map[uint8]bool
	now       func() time.Time
}

func NewMIDIDecoder(log *zap.Logger) *MIDIDecoder {
	return &MIDIDecoder{
		log:       log,
		noteState: make(map[uint8]bool),
		now:       time.Now,
	}
}

func (d *MIDIDecoder) Decode(msg []byte) []controlev.Event {
	if len(msg) < 3 {
		return nil
	}
	status := msg[0] & 0xF0 // low nibble is the channel, ignored
	data1, data2 := msg[1], msg[2]

	switch status {
	case midiControlChange:
		return []controlev.Event{d.controlChange(data1, data2)}
	case midiNoteOn:
		if data2 > 0 {
			return []controlev.Event{d.noteToggle(data1, data2)}
		}
		d.logRelease(data1)
	case midiNoteOff:
		d.logRelease(data1)
	}
	return nil
}

func (d *MIDIDecoder) controlChange(cc, value uint8) controlev.Event {
	name, ok := midiCCNames[cc]
	if !ok {
		name = fmt.Sprintf("CC_%d", cc)
	}
	return controlev.Event{
		Kind:   controlev.KindAbsoluteLevel,
		Source: controlev.CCSource(name),
		Time:   d.now(),
		Level:  float64(value) / 127.0,
		Ctrl:   controlev.CtrlMidiCC,
		Label:  name,
		Number: int(cc),
		Raw:    int(value),
	}
}

func (d *MIDIDecoder) noteToggle(note, velocity uint8) controlev.Event {
	name, ok := midiNoteNames[note]
	if !ok {
		name = fmt.Sprintf("Note_%d", note)
	}
	d.noteState[note] = !d.noteState[note]
	return controlev.Event{
		Kind:    controlev.KindButtonState,
		Source:  controlev.NoteSource(name),
		Time:    d.now(),
		Pressed: d.noteState[note],
		Ctrl:    controlev.CtrlMidiNote,
		Label:   name,
		Number:  int(note),
		Raw:     int(velocity),
	}
}

func (d *MIDIDecoder) logRelease(note uint8) {
	if name, ok := midiNoteNames[note]; ok {
		d.log.Debug("note released", zap.String("name", name), zap.Uint8("note", note))
	}
}
