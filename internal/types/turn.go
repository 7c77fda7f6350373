package types

import (
	"encoding/json"
	"strings"
	"time"
)

type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Turn is one rendered entry of the conversation feed. Turns are appended and
// never mutated once rendered.
type Turn struct {
	Sender      Sender             `json:"sender"`
	Text        string             `json:"text"`
	Timestamp   time.Time          `json:"timestamp"`
	Attachments []WidgetDescriptor `json:"attachments,omitempty"`
}

// HasWidget reports whether the turn carries at least one widget attachment.
func (t Turn) HasWidget() bool { return len(t.Attachments) > 0 }

const (
	WidgetCalendar = "calendar"

	ModeArrival   = "arrival"
	ModeDeparture = "departure"
	ModeBooking   = "booking"

	// DateLayout is the date format used in widget descriptors and slot messages.
	DateLayout = "2006-01-02"
)

// WidgetDescriptor describes an interactive attachment, such as the calendar.
type WidgetDescriptor struct {
	Type          string         `json:"type"`
	Mode          string         `json:"mode,omitempty"`
	Message       string         `json:"message,omitempty"`
	MinDate       string         `json:"min_date,omitempty"`
	ArrivalDate   string         `json:"arrival_date,omitempty"`
	DepartureDate string         `json:"departure_date,omitempty"`
	Action        any            `json:"action,omitempty"`
	Context       Context        `json:"context,omitempty"`
	Extra         map[string]any `json:"-"`
}

// ParseWidget decodes a structured payload into a widget descriptor. Payloads
// that arrive as a JSON string wrapping an object are unwrapped first.
func ParseWidget(raw json.RawMessage) (WidgetDescriptor, bool) {
	raw = json.RawMessage(strings.TrimSpace(string(raw)))
	if len(raw) == 0 || string(raw) == "null" {
		return WidgetDescriptor{}, false
	}
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return WidgetDescriptor{}, false
		}
		raw = json.RawMessage(inner)
	}
	var w WidgetDescriptor
	if err := json.Unmarshal(raw, &w); err != nil {
		return WidgetDescriptor{}, false
	}
	var extra map[string]any
	if err := json.Unmarshal(raw, &extra); err == nil {
		w.Extra = extra
	}
	return w, true
}

// IsCalendar reports whether the descriptor is a calendar widget.
func (w WidgetDescriptor) IsCalendar() bool {
	return strings.EqualFold(w.Type, WidgetCalendar)
}
