package models

import "fmt"

// Slot is a named operation category with independent cancellation.
type Slot string

const (
	SlotPrompt  Slot = "prompt"
	SlotDebug   Slot = "debug"
	SlotImprove Slot = "improve"
)

// Slots lists every slot in a stable order.
var Slots = []Slot{SlotPrompt, SlotDebug, SlotImprove}

// ParseSlot validates a slot name.
func ParseSlot(s string) (Slot, error) {
	switch Slot(s) {
	case SlotPrompt, SlotDebug, SlotImprove:
		return Slot(s), nil
	}
	return "", fmt.Errorf("unknown slot %q", s)
}

// Mode selects the system instruction for code suggestions.
type Mode string

const (
	ModeDebug   Mode = "debug"
	ModeImprove Mode = "improve"
)

// Mode returns the suggestion mode served by the slot, if any.
func (s Slot) Mode() (Mode, bool) {
	switch s {
	case SlotDebug:
		return ModeDebug, true
	case SlotImprove:
		return ModeImprove, true
	}
	return "", false
}
