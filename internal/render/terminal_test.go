package render

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stayassist/internal/picker"
	"stayassist/internal/types"
)

type nopEmitter struct{}

func (nopEmitter) EmitUserTurn(string)                          {}
func (nopEmitter) EmitBotTurn(string)                           {}
func (nopEmitter) SendSlot(context.Context, string, bool) error { return nil }

var today = time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

func TestRenderTurn(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf)
	term.RenderTurn(types.Turn{Sender: types.SenderUser, Text: "book a room"})
	term.RenderTurn(types.Turn{Sender: types.SenderBot, Text: "For how many guests?"})
	term.RenderNotice("backend unavailable")
	assert.Equal(t, "you> book a room\nbot> For how many guests?\n!! backend unavailable\n", buf.String())
}

func TestCalendar_Grid(t *testing.T) {
	p := picker.New(types.WidgetDescriptor{Type: "calendar", MinDate: "2026-10-05", Message: "Select your dates"}, today, nopEmitter{})
	out := Calendar(p)
	lines := strings.Split(out, "\n")

	assert.Equal(t, "Select your dates", lines[0])
	assert.Contains(t, lines[1], "October 2026")
	assert.Equal(t, "  Mo   Tu   We   Th   Fr   Sa   Su", lines[2])
	// 1 October 2026 is a Thursday.
	assert.True(t, strings.HasPrefix(lines[3], strings.Repeat(" ", 15)+"[ 1] [ 2] [ 3] [ 4] "))
	assert.True(t, strings.HasPrefix(lines[4], " 5   6   7 "))
	assert.Contains(t, out, " 31  ")
}

func TestCalendar_Selection(t *testing.T) {
	p := picker.New(types.WidgetDescriptor{Type: "calendar"}, today, nopEmitter{})
	require.NoError(t, p.Click(context.Background(), time.Date(2026, 10, 10, 0, 0, 0, 0, time.UTC)))
	out := Calendar(p)
	assert.Contains(t, out, "*10*")
	assert.Contains(t, out, "arrival 2026-10-10, pick a departure date")

	require.NoError(t, p.Click(context.Background(), time.Date(2026, 10, 13, 0, 0, 0, 0, time.UTC)))
	out = Calendar(p)
	assert.Contains(t, out, ".11.")
	assert.Contains(t, out, ".12.")
	assert.Contains(t, out, "*13*")
	assert.Contains(t, out, "2026-10-10 to 2026-10-13, :confirm to book")
}

func TestRenderCalendar_WritesGrid(t *testing.T) {
	var buf bytes.Buffer
	p := picker.New(types.WidgetDescriptor{Type: "calendar"}, today, nopEmitter{})
	NewTerminal(&buf).RenderCalendar(p)
	assert.Contains(t, buf.String(), "( 1)")
}

func TestParseDay(t *testing.T) {
	d, err := ParseDay(" 2026-10-10 ")
	require.NoError(t, err)
	assert.Equal(t, 10, d.Day())
	_, err = ParseDay("10/10/2026")
	assert.Error(t, err)
}
