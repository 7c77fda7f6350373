package types

import "strings"

// Context is the open slot mapping owned by a client session and echoed to
// the backend on each exchange.
type Context map[string]any

const (
	KeySlots    = "slots"
	KeyHistory  = "history"
	KeySenderID = "sender_id"

	// SlotInformationSufficient is the tracker slot set to InfoAsked while the
	// backend waits on its "have I given you enough information" prompt.
	SlotInformationSufficient = "information_sufficient"
	InfoAsked                 = "asked"
)

// BookingSlotKeys are cleared whenever a new booking starts.
var BookingSlotKeys = []string{
	"guests",
	"room_type",
	"arrival_date",
	"departure_date",
	"nights",
	"rooms",
	"payment_option",
}

var bookingPhrases = []string{
	"book a room",
	"book room",
	"i want to book",
	"reserve a room",
	"make a reservation",
	"reserve",
	"booking",
}

// IsBookingStart reports whether the message starts a new booking.
func IsBookingStart(message string) bool {
	m := strings.ToLower(strings.TrimSpace(message))
	if m == "" {
		return false
	}
	for _, p := range bookingPhrases {
		if strings.Contains(m, p) {
			return true
		}
	}
	return false
}

// Clone returns a shallow copy. The slots sub-map is copied too so callers can
// reset slots without touching the original.
func (c Context) Clone() Context {
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	if slots, ok := c[KeySlots].(map[string]any); ok {
		cp := make(map[string]any, len(slots))
		for k, v := range slots {
			cp[k] = v
		}
		out[KeySlots] = cp
	}
	return out
}

// Merge returns a new context with other's keys written over c's.
func (c Context) Merge(other Context) Context {
	out := c.Clone()
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Slots returns the slots sub-map, creating it when missing.
func (c Context) Slots() map[string]any {
	if slots, ok := c[KeySlots].(map[string]any); ok {
		return slots
	}
	slots := map[string]any{}
	c[KeySlots] = slots
	return slots
}

// ResetBookingSlots unsets every booking slot, both at top level and in slots.
func (c Context) ResetBookingSlots() {
	slots := c.Slots()
	for _, k := range BookingSlotKeys {
		slots[k] = nil
		c[k] = nil
	}
}

// String returns the value of key as a string, or "" when absent.
func (c Context) String(key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}
