package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stayassist/internal/picker"
	"stayassist/internal/reconcile"
	"stayassist/internal/store"
	"stayassist/internal/transport"
	"stayassist/internal/types"
)

var now = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

type call struct {
	message string
	context types.Context
}

type fakeTransport struct {
	mu      sync.Mutex
	calls   []call
	replies []types.BackendResponse
	closed  int
}

func (f *fakeTransport) Send(_ context.Context, message string, convCtx types.Context) types.BackendResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{message, convCtx})
	if len(f.replies) == 0 {
		return types.BackendResponse{}
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r
}

func (f *fakeTransport) Close() { f.closed++ }

type recordingRenderer struct {
	turns     []types.Turn
	calendars int
	notices   []string
}

func (r *recordingRenderer) RenderTurn(t types.Turn)       { r.turns = append(r.turns, t) }
func (r *recordingRenderer) RenderCalendar(*picker.Picker) { r.calendars++ }
func (r *recordingRenderer) RenderNotice(text string)      { r.notices = append(r.notices, text) }

func reply(texts ...string) types.BackendResponse {
	var r types.BackendResponse
	for _, t := range texts {
		r.Messages = append(r.Messages, types.BackendMessage{Text: t})
	}
	return r
}

func newSession(t *testing.T, ft *fakeTransport, ts store.TurnStore) (*Session, *recordingRenderer) {
	t.Helper()
	rr := &recordingRenderer{}
	if ts == nil {
		ts = store.NewMemoryTurnStore(0)
	}
	s := New(ft, Options{ID: "test", Store: ts, Renderer: rr, Now: func() time.Time { return now }})
	return s, rr
}

func feedTexts(turns []types.Turn) []string {
	var out []string
	for _, t := range turns {
		out = append(out, string(t.Sender)+": "+t.Text)
	}
	return out
}

func TestSend_BookingResetAndDuplicateCollapse(t *testing.T) {
	ft := &fakeTransport{replies: []types.BackendResponse{
		{Messages: []types.BackendMessage{{Text: "Hi"}}, Context: types.Context{"guests": 2, "slots": map[string]any{"guests": 2}}},
		reply("For how many guests?", "For how many guests?"),
	}}
	ts := store.NewMemoryTurnStore(0)
	s, rr := newSession(t, ft, ts)
	ctx := context.Background()

	require.NoError(t, s.Send(ctx, "hello"))
	assert.Equal(t, 2, s.Context()["guests"])

	require.NoError(t, s.Send(ctx, "book a room"))
	require.Len(t, ft.calls, 2)
	sent := ft.calls[1].context
	assert.Nil(t, sent["guests"])
	assert.Nil(t, sent["slots"].(map[string]any)["guests"])
	history := sent[types.KeyHistory].([]map[string]any)
	assert.Equal(t, "book a room", history[len(history)-1]["text"])

	assert.Equal(t, []string{
		"user: hello", "bot: Hi", "user: book a room", "bot: For how many guests?",
	}, feedTexts(s.Feed()))
	assert.Len(t, rr.turns, 4)
	stored, err := ts.GetAll(ctx, "test")
	require.NoError(t, err)
	assert.Len(t, stored, 4)
	_, hasHistory := s.Context()[types.KeyHistory]
	assert.False(t, hasHistory)
}

func TestSend_EmptyReplySynthesizesProcessing(t *testing.T) {
	s, _ := newSession(t, &fakeTransport{}, nil)
	require.NoError(t, s.Send(context.Background(), "what's the wifi password"))
	feed := s.Feed()
	require.Len(t, feed, 2)
	assert.Equal(t, reconcile.DefaultPolicy().Replies.Processing, feed[1].Text)
}

func TestSend_BlankIgnored(t *testing.T) {
	ft := &fakeTransport{}
	s, _ := newSession(t, ft, nil)
	require.NoError(t, s.Send(context.Background(), "   "))
	assert.Empty(t, ft.calls)
	assert.Empty(t, s.Feed())
}

func TestHistoryTailIsBounded(t *testing.T) {
	ft := &fakeTransport{}
	s, _ := newSession(t, ft, nil)
	for i := 0; i < 8; i++ {
		require.NoError(t, s.Send(context.Background(), "question"))
	}
	last := ft.calls[len(ft.calls)-1].context[types.KeyHistory].([]map[string]any)
	assert.Len(t, last, HistoryTail)
}

func calendarReply() types.BackendResponse {
	return types.BackendResponse{Messages: []types.BackendMessage{
		{Text: "Please select your arrival and departure date:"},
		{JSONMessage: json.RawMessage(`{"type":"calendar","mode":"booking","min_date":"2026-10-01"}`)},
	}}
}

func TestCalendarRangeConfirmation(t *testing.T) {
	ft := &fakeTransport{replies: []types.BackendResponse{calendarReply(), {}}}
	s, rr := newSession(t, ft, nil)
	ctx := context.Background()

	require.NoError(t, s.Send(ctx, "suite"))
	require.NotNil(t, s.Picker())
	assert.Equal(t, 1, rr.calendars)

	day := func(d int) time.Time { return time.Date(2026, 10, d, 0, 0, 0, 0, time.UTC) }
	require.NoError(t, s.Pick(ctx, day(10)))
	assert.ErrorIs(t, s.Pick(ctx, day(8)), picker.ErrInvalidDateSelection)
	assert.Len(t, rr.notices, 1)
	assert.Equal(t, picker.ArrivalPicked, s.Picker().State())
	require.NoError(t, s.Pick(ctx, day(15)))
	assert.Len(t, ft.calls, 1, "no message before confirmation")

	require.NoError(t, s.Confirm(ctx))
	require.Len(t, ft.calls, 2)
	assert.Equal(t, "arrival date: 2026-10-10, departure date: 2026-10-15", ft.calls[1].message)

	feed := s.Feed()
	last := feed[len(feed)-2:]
	assert.Equal(t, types.SenderUser, last[0].Sender)
	assert.Equal(t, "arrival date: 2026-10-10, departure date: 2026-10-15", last[0].Text)
	assert.Equal(t, types.SenderBot, last[1].Sender)
	assert.Contains(t, last[1].Text, "5 nights")

	assert.ErrorIs(t, s.Confirm(ctx), picker.ErrInert)
}

func TestCalendarControlsWithoutPicker(t *testing.T) {
	s, _ := newSession(t, &fakeTransport{}, nil)
	assert.ErrorIs(t, s.Pick(context.Background(), now), ErrNoPicker)
	assert.ErrorIs(t, s.Confirm(context.Background()), ErrNoPicker)
	assert.ErrorIs(t, s.NextMonth(), ErrNoPicker)
}

func TestClearHistoryAndReplay(t *testing.T) {
	ts := store.NewMemoryTurnStore(0)
	ft := &fakeTransport{replies: []types.BackendResponse{
		{Messages: []types.BackendMessage{{Text: "Welcome to StayAssist!"}}, Context: types.Context{"room_type": "suite"}},
	}}
	s, _ := newSession(t, ft, ts)
	ctx := context.Background()
	require.NoError(t, s.Send(ctx, "hello"))

	again, rr := newSession(t, &fakeTransport{}, ts)
	n, err := again.Replay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, rr.turns, 2)
	assert.Len(t, again.Feed(), 2)

	require.NoError(t, s.ClearHistory(ctx))
	assert.Empty(t, s.Context())
	assert.Empty(t, s.Feed())
	stored, err := ts.GetAll(ctx, "test")
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestReplaySeedsSessionGreeting(t *testing.T) {
	ts := store.NewMemoryTurnStore(0)
	require.NoError(t, ts.Save(context.Background(), "test", types.Turn{Sender: types.SenderBot, Text: "Welcome to StayAssist! How can I help you today?"}))
	ft := &fakeTransport{replies: []types.BackendResponse{reply("Welcome to StayAssist! How can I help you today?")}}
	s, _ := newSession(t, ft, ts)
	_, err := s.Replay(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.Send(context.Background(), "what now"))
	feed := s.Feed()
	assert.Equal(t, reconcile.DefaultPolicy().Replies.Processing, feed[len(feed)-1].Text)
}

func TestSessionGreetingShownOnceAcrossLongFeed(t *testing.T) {
	welcome := "Welcome to StayAssist! How can I help you today?"
	replies := []types.BackendResponse{reply(welcome)}
	for i := 0; i < 6; i++ {
		replies = append(replies, reply("Breakfast is served from 7."))
	}
	replies = append(replies, reply(welcome))
	s, _ := newSession(t, &fakeTransport{replies: replies}, nil)
	ctx := context.Background()

	require.NoError(t, s.Send(ctx, "hello"))
	for i := 0; i < 6; i++ {
		require.NoError(t, s.Send(ctx, "breakfast"))
	}
	require.NoError(t, s.Send(ctx, "what now"))

	feed := s.Feed()
	require.Greater(t, len(feed), HistoryTail+2)
	var welcomes int
	for _, turn := range feed {
		if turn.Text == welcome {
			welcomes++
		}
	}
	assert.Equal(t, 1, welcomes)
	assert.Equal(t, reconcile.DefaultPolicy().Replies.Processing, feed[len(feed)-1].Text)
}

func TestCloseOnce(t *testing.T) {
	ft := &fakeTransport{}
	s, _ := newSession(t, ft, nil)
	s.Close()
	s.Close()
	assert.Equal(t, 1, ft.closed)
}

func TestSession_WithHTTPTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req types.ChatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_, _ = w.Write([]byte(`{"messages":[{"text":"We have standard rooms and suites."}],"context":{"room_type":null,"step":"rooms"}}`))
	}))
	defer srv.Close()

	tc := transport.New(transport.DefaultOptions(srv.URL))
	s := New(tc, Options{ID: "http"})
	defer s.Close()

	require.NoError(t, s.Send(context.Background(), "which rooms do you have"))
	feed := s.Feed()
	require.Len(t, feed, 2)
	assert.Equal(t, "We have standard rooms and suites.", feed[1].Text)
	assert.Equal(t, "rooms", s.Context()["step"])
}
