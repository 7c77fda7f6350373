package session

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"stayassist/internal/picker"
	"stayassist/internal/types"
)

// ErrNoPicker is returned by the calendar controls when no calendar is open.
var ErrNoPicker = errors.New("no date picker is open")

// EmitUserTurn implements picker.Emitter.
func (s *Session) EmitUserTurn(text string) {
	s.appendTurn(context.Background(), types.Turn{Sender: types.SenderUser, Text: text, Timestamp: s.now()})
}

// EmitBotTurn implements picker.Emitter.
func (s *Session) EmitBotTurn(text string) {
	s.appendTurn(context.Background(), types.Turn{Sender: types.SenderBot, Text: text, Timestamp: s.now()})
}

// SendSlot implements picker.Emitter.
func (s *Session) SendSlot(ctx context.Context, text string, echo bool) error {
	return s.exchange(ctx, text, echo)
}

func (s *Session) withPicker(fn func(p *picker.Picker) error) error {
	p := s.Picker()
	if p == nil {
		return ErrNoPicker
	}
	return fn(p)
}

// Pick clicks a day on the open calendar. Rejected clicks are reported to the
// user as a notice and returned.
func (s *Session) Pick(ctx context.Context, date time.Time) error {
	return s.withPicker(func(p *picker.Picker) error {
		err := p.Click(ctx, date)
		switch {
		case errors.Is(err, picker.ErrInvalidDateSelection):
			s.renderer.RenderNotice("Departure must be after your arrival date.")
		case errors.Is(err, picker.ErrDisabledDate):
			s.renderer.RenderNotice("That date can't be selected.")
		case errors.Is(err, picker.ErrInert):
			s.renderer.RenderNotice("These dates were already confirmed.")
		}
		if err == nil && p.State() != picker.Confirmed {
			s.renderer.RenderCalendar(p)
		}
		return err
	})
}

// Confirm confirms the open calendar's range.
func (s *Session) Confirm(ctx context.Context) error {
	return s.withPicker(func(p *picker.Picker) error {
		err := p.Confirm(ctx)
		switch {
		case errors.Is(err, picker.ErrNotConfirmable):
			s.renderer.RenderNotice("Pick an arrival and a departure date first.")
		case errors.Is(err, picker.ErrInert):
			s.renderer.RenderNotice("These dates were already confirmed.")
		}
		return err
	})
}

// PrevMonth and NextMonth page the open calendar.
func (s *Session) PrevMonth() error {
	return s.withPicker(func(p *picker.Picker) error {
		if p.PrevMonth() {
			s.renderer.RenderCalendar(p)
		}
		return nil
	})
}

func (s *Session) NextMonth() error {
	return s.withPicker(func(p *picker.Picker) error {
		if p.NextMonth() {
			s.renderer.RenderCalendar(p)
		}
		return nil
	})
}
