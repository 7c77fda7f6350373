// Package render draws the conversation feed and date pickers as plain text.
package render

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"stayassist/internal/picker"
	"stayassist/internal/types"
)

// Terminal writes turns, calendars and notices to an io.Writer. Disabled days
// are bracketed, selected days starred and days inside the range marked with
// a dot.
type Terminal struct {
	mu sync.Mutex
	w  io.Writer
}

func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{w: w}
}

func (t *Terminal) RenderTurn(turn types.Turn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	label := "bot"
	if turn.Sender == types.SenderUser {
		label = "you"
	}
	if turn.Text != "" {
		fmt.Fprintf(t.w, "%s> %s\n", label, turn.Text)
	}
	for _, w := range turn.Attachments {
		if !w.IsCalendar() && w.Message != "" {
			fmt.Fprintf(t.w, "%s> %s\n", label, w.Message)
		}
	}
}

func (t *Terminal) RenderNotice(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.w, "!! %s\n", text)
}

func (t *Terminal) RenderCalendar(p *picker.Picker) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = io.WriteString(t.w, Calendar(p))
}

// Calendar lays out the picker's displayed month as a Monday-first grid.
func Calendar(p *picker.Picker) string {
	var b strings.Builder
	if msg := p.Message(); msg != "" {
		b.WriteString(msg + "\n")
	}
	month := p.Displayed()
	fmt.Fprintf(&b, "%s\n", centre(month.Format("January 2006"), 7*5))
	b.WriteString("  Mo   Tu   We   Th   Fr   Sa   Su\n")

	days := p.Days()
	if len(days) > 0 {
		lead := (int(days[0].Date.Weekday()) + 6) % 7
		b.WriteString(strings.Repeat("     ", lead))
		col := lead
		for _, d := range days {
			b.WriteString(cell(d))
			col++
			if col == 7 {
				b.WriteString("\n")
				col = 0
			}
		}
		if col != 0 {
			b.WriteString("\n")
		}
	}

	sel := p.Selection()
	switch p.State() {
	case picker.ArrivalPicked:
		fmt.Fprintf(&b, "arrival %s, pick a departure date\n", sel.Arrival.Format(types.DateLayout))
	case picker.Confirmable:
		fmt.Fprintf(&b, "%s to %s, :confirm to book\n",
			sel.Arrival.Format(types.DateLayout), sel.Departure.Format(types.DateLayout))
	case picker.Confirmed:
		b.WriteString("confirmed\n")
	}
	return b.String()
}

func cell(d picker.Day) string {
	n := fmt.Sprintf("%2d", d.Date.Day())
	switch {
	case d.Disabled:
		return "[" + n + "] "
	case d.Selected:
		return "*" + n + "* "
	case d.InRange:
		return "." + n + ". "
	case d.Today:
		return "(" + n + ") "
	}
	return " " + n + "  "
}

func centre(s string, width int) string {
	if len(s) >= width {
		return s
	}
	pad := (width - len(s)) / 2
	return strings.Repeat(" ", pad) + s
}

// ParseDay reads a YYYY-MM-DD date typed by the user.
func ParseDay(s string) (time.Time, error) {
	return time.Parse(types.DateLayout, strings.TrimSpace(s))
}
