// Package picker implements the calendar widget attached to bot turns: an
// arrival/departure selection state machine that emits one slot message when
// the range is confirmed.
package picker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"stayassist/internal/types"
)

type State int

const (
	Idle State = iota
	ArrivalPicked
	Confirmable
	Confirmed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ArrivalPicked:
		return "arrival_picked"
	case Confirmable:
		return "confirmable"
	case Confirmed:
		return "confirmed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	ErrDisabledDate         = errors.New("date is not selectable")
	ErrInvalidDateSelection = errors.New("departure date must be after the arrival date")
	ErrNotConfirmable       = errors.New("pick an arrival and a departure date first")
	ErrInert                = errors.New("dates already confirmed")
)

// Emitter receives everything the picker produces. SendSlot's echo flag marks
// a message whose acknowledgement was already shown client-side.
type Emitter interface {
	EmitUserTurn(text string)
	EmitBotTurn(text string)
	SendSlot(ctx context.Context, text string, echo bool) error
}

// Selection is the picker-local date state. Zero times mean unset.
type Selection struct {
	Mode      string
	Arrival   time.Time
	Departure time.Time
	MinDate   time.Time
}

// Nights is the length of the selected stay, or 0 when the range is incomplete.
func (s Selection) Nights() int {
	if s.Arrival.IsZero() || s.Departure.IsZero() {
		return 0
	}
	return int(s.Departure.Sub(s.Arrival).Hours() / 24)
}

type Day struct {
	Date     time.Time
	Disabled bool
	Today    bool
	Selected bool
	InRange  bool
}

type Picker struct {
	mu sync.Mutex

	message string
	today   time.Time
	// after, when set, disables itself and every earlier day (departure mode).
	after     time.Time
	sel       Selection
	state     State
	displayed time.Time
	emit      Emitter
}

// New creates a picker for a calendar descriptor. The selectable floor is the
// later of today and the descriptor's min_date.
func New(desc types.WidgetDescriptor, today time.Time, emit Emitter) *Picker {
	today = dateOf(today)
	mode := desc.Mode
	if mode == "" {
		mode = types.ModeBooking
	}
	p := &Picker{
		message: desc.Message,
		today:   today,
		sel:     Selection{Mode: mode, MinDate: today},
		emit:    emit,
	}
	if d, ok := parseDate(desc.MinDate, "min_date"); ok && d.After(today) {
		p.sel.MinDate = d
	}
	if mode == types.ModeDeparture {
		if d, ok := parseDate(desc.ArrivalDate, "arrival_date"); ok {
			p.after = d
			p.sel.Arrival = d
		}
	}
	first := p.sel.MinDate
	if !p.after.IsZero() && p.after.After(first) {
		first = p.after
	}
	p.displayed = monthOf(first)
	return p
}

func parseDate(s, field string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	d, err := time.Parse(types.DateLayout, s)
	if err != nil {
		log.Warn().Err(err).Str("field", field).Str("value", s).Msg("ignoring unparsable calendar date")
		return time.Time{}, false
	}
	return d, true
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func monthOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func (p *Picker) Message() string { return p.message }

func (p *Picker) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Picker) Selection() Selection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sel
}

// Displayed returns the first day of the month currently shown.
func (p *Picker) Displayed() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.displayed
}

func (p *Picker) disabled(d time.Time) bool {
	if d.Before(p.sel.MinDate) {
		return true
	}
	return !p.after.IsZero() && !d.After(p.after)
}

// Disabled reports whether d can never be clicked.
func (p *Picker) Disabled(d time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disabled(dateOf(d))
}

// Days returns every day of the displayed month.
func (p *Picker) Days() []Day {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Day
	for d := p.displayed; d.Month() == p.displayed.Month(); d = d.AddDate(0, 0, 1) {
		out = append(out, Day{
			Date:     d,
			Disabled: p.disabled(d),
			Today:    d.Equal(p.today),
			Selected: d.Equal(p.sel.Arrival) || d.Equal(p.sel.Departure),
			InRange:  !p.sel.Departure.IsZero() && d.After(p.sel.Arrival) && d.Before(p.sel.Departure),
		})
	}
	return out
}

// PrevMonth shows the previous month unless it lies entirely before the
// selectable floor. It reports whether the view changed.
func (p *Picker) PrevMonth() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Confirmed || !p.displayed.After(monthOf(p.sel.MinDate)) {
		return false
	}
	p.displayed = p.displayed.AddDate(0, -1, 0)
	return true
}

func (p *Picker) NextMonth() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Confirmed {
		return false
	}
	p.displayed = p.displayed.AddDate(0, 1, 0)
	return true
}

// Click selects a day. In booking mode the first click sets the arrival and
// the second the departure; a click on a confirmable range starts over. In
// single-date modes a valid click is sent immediately.
func (p *Picker) Click(ctx context.Context, date time.Time) error {
	d := dateOf(date)

	p.mu.Lock()
	if p.state == Confirmed {
		p.mu.Unlock()
		return ErrInert
	}
	if p.disabled(d) {
		p.mu.Unlock()
		return errors.Wrapf(ErrDisabledDate, "%s", d.Format(types.DateLayout))
	}

	if p.sel.Mode != types.ModeBooking {
		if p.sel.Mode == types.ModeDeparture {
			p.sel.Departure = d
		} else {
			p.sel.Arrival = d
		}
		p.state = Confirmed
		text := fmt.Sprintf("%s date: %s", p.sel.Mode, d.Format(types.DateLayout))
		p.mu.Unlock()

		p.emit.EmitUserTurn(text)
		return p.emit.SendSlot(ctx, text, false)
	}
	defer p.mu.Unlock()

	switch p.state {
	case ArrivalPicked:
		if !d.After(p.sel.Arrival) {
			return errors.Wrapf(ErrInvalidDateSelection, "%s is not after %s",
				d.Format(types.DateLayout), p.sel.Arrival.Format(types.DateLayout))
		}
		p.sel.Departure = d
		p.state = Confirmable
	default:
		p.sel.Arrival = d
		p.sel.Departure = time.Time{}
		p.state = ArrivalPicked
	}
	log.Debug().Stringer("state", p.state).Time("date", d).Msg("calendar click")
	return nil
}

// SlotText formats a complete range as the combined slot utterance.
func SlotText(arrival, departure time.Time) string {
	return fmt.Sprintf("arrival date: %s, departure date: %s",
		arrival.Format(types.DateLayout), departure.Format(types.DateLayout))
}

func confirmationText(s Selection) string {
	nights := "nights"
	if s.Nights() == 1 {
		nights = "night"
	}
	return fmt.Sprintf("Got it: arriving %s and leaving %s (%d %s).",
		s.Arrival.Format("Mon 2 Jan 2006"), s.Departure.Format("Mon 2 Jan 2006"), s.Nights(), nights)
}

// Confirm emits the selected range: the user turn, an immediate
// acknowledgement, and then the slot message. The picker is inert afterwards
// even if sending fails.
func (p *Picker) Confirm(ctx context.Context) error {
	p.mu.Lock()
	switch p.state {
	case Confirmed:
		p.mu.Unlock()
		return ErrInert
	case Confirmable:
	default:
		p.mu.Unlock()
		return ErrNotConfirmable
	}
	p.state = Confirmed
	sel := p.sel
	p.mu.Unlock()

	text := SlotText(sel.Arrival, sel.Departure)
	p.emit.EmitUserTurn(text)
	p.emit.EmitBotTurn(confirmationText(sel))
	if err := p.emit.SendSlot(ctx, text, true); err != nil {
		return errors.Wrap(err, "send date range")
	}
	return nil
}
