// Package decode turns raw device reports into normalized control events.
// Decoders are pure apart from the small per-decoder state needed to
// synthesize edge-triggered button events; malformed or unknown reports
// decode to nothing.
package decode

import (
	"time"

	"github.com/controldeck/controldeck/pkg/controlev"
)

// The dialpad speaks two report layouts for the same physical controls.
// The generic HID interface emits report 0x11, the vendor interface emits
// report 0x02. Which interface gets opened is a configuration choice
// (see hidsvc); the decoder dispatches on the leading report ID either way.
const (
	dialpadReportGeneric = 0x11
	dialpadReportVendor  = 0x02

	genericTypeDial   = 0x0d
	genericTypeButton = 0x0a
)

// Vendor-layout button bitmask (report 0x02, byte 1).
var vendorButtons = []struct {
	bit   byte
	label string
}{
	{0x08, "TOP LEFT"},
	{0x10, "TOP RIGHT"},
	{0x20, "BOTTOM LEFT"},
	{0x40, "BOTTOM RIGHT"},
}

// Generic-layout button codes (report 0x11, byte 5).
var genericButtons = map[byte]string{
	0x53: "TOP LEFT",
	0x56: "TOP RIGHT",
	0x59: "BOTTOM LEFT",
	0x5a: "BOTTOM RIGHT",
}

// DialpadDecoder decodes dial rotation and corner-button reports. The
// previously observed button bitmask is decoder state: vendor-layout
// buttons are level-encoded in the report and must be XORed against the
// last sample to become edge events.
type DialpadDecoder struct {
	lastButtons byte
	now         func() time.Time
}

func NewDialpadDecoder() *DialpadDecoder {
	return &DialpadDecoder{now: time.Now}
}

// Decode returns zero or more events for one raw input report.
func (d *DialpadDecoder) Decode(report []byte) []controlev.Event {
	if len(report) == 0 {
		return nil
	}
	switch report[0] {
	case dialpadReportGeneric:
		return d.decodeGeneric(report)
	case dialpadReportVendor:
		return d.decodeVendor(report)
	}
	return nil
}

// Generic layout: [0x11, 0xff, type, 0x00, control_id, value, state, ...]
func (d *DialpadDecoder) decodeGeneric(report []byte) []controlev.Event {
	if len(report) < 6 {
		return nil
	}
	var events []controlev.Event
	switch report[2] {
	case genericTypeDial:
		delta := int(int8(report[5]))
		if delta != 0 {
			events = append(events, controlev.Event{
				Kind:   controlev.KindRelativeDelta,
				Source: "dial",
				Time:   d.now(),
				Delta:  delta,
				Ctrl:   controlev.CtrlBigDial,
			})
		}
	case genericTypeButton:
		code := report[5]
		if code == 0 {
			return nil
		}
		label, ok := genericButtons[code]
		if !ok {
			return nil
		}
		pressed := len(report) > 6 && report[6] != 0
		events = append(events, controlev.Event{
			Kind:    controlev.KindButtonState,
			Source:  controlev.ButtonSource(label),
			Time:    d.now(),
			Pressed: pressed,
			Ctrl:    controlev.CtrlButton,
			Label:   label,
		})
	}
	return events
}

// Vendor layout: byte 1 is the button bitmask, byte 6 the small scroller
// delta, byte 7 the big dial delta.
func (d *DialpadDecoder) decodeVendor(report []byte) []controlev.Event {
	if len(report) < 8 {
		return nil
	}
	var events []controlev.Event
	now := d.now()

	if delta := int(int8(report[6])); delta != 0 {
		events = append(events, controlev.Event{
			Kind:   controlev.KindRelativeDelta,
			Source: "scroller",
			Time:   now,
			Delta:  delta,
			Ctrl:   controlev.CtrlScroller,
		})
	}
	if delta := int(int8(report[7])); delta != 0 {
		events = append(events, controlev.Event{
			Kind:   controlev.KindRelativeDelta,
			Source: "dial",
			Time:   now,
			Delta:  delta,
			Ctrl:   controlev.CtrlBigDial,
		})
	}

	buttons := report[1]
	changed := buttons ^ d.lastButtons
	if changed != 0 {
		for _, b := range vendorButtons {
			if changed&b.bit == 0 {
				continue
			}
			events = append(events, controlev.Event{
				Kind:    controlev.KindButtonState,
				Source:  controlev.ButtonSource(b.label),
				Time:    now,
				Pressed: buttons&b.bit != 0,
				Ctrl:    controlev.CtrlButton,
				Label:   b.label,
			})
		}
	}
	d.lastButtons = buttons
	return events
}
