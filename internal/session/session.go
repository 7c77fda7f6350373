// Package session holds the per-conversation state of the chat client and
// drives one round trip: user turn, transport, reconciliation, rendering and
// persistence. Calendar widgets in replies get a live date picker whose
// confirmations flow back through the same session.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"stayassist/internal/picker"
	"stayassist/internal/reconcile"
	"stayassist/internal/store"
	"stayassist/internal/types"
)

// HistoryTail is how many recent turns travel with each request.
const HistoryTail = 10

// Transport is the request side of the session; *transport.Client satisfies it.
type Transport interface {
	Send(ctx context.Context, message string, convCtx types.Context) types.BackendResponse
	Close()
}

// Renderer is the display sink. It never feeds state back into the session.
type Renderer interface {
	RenderTurn(turn types.Turn)
	RenderCalendar(p *picker.Picker)
	RenderNotice(text string)
}

type Options struct {
	// ID keys persisted turns. A random id is used when empty.
	ID         string
	Store      store.TurnStore
	Renderer   Renderer
	Reconciler *reconcile.Reconciler
	Now        func() time.Time
}

type Session struct {
	id         string
	transport  Transport
	store      store.TurnStore
	renderer   Renderer
	reconciler *reconcile.Reconciler
	now        func() time.Time

	mu      sync.Mutex
	context types.Context
	feed    []types.Turn
	active  *picker.Picker

	closeOnce sync.Once
}

func New(t Transport, opts Options) *Session {
	s := &Session{
		id:         opts.ID,
		transport:  t,
		store:      opts.Store,
		renderer:   opts.Renderer,
		reconciler: opts.Reconciler,
		now:        opts.Now,
		context:    types.Context{},
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	if s.store == nil {
		s.store = store.NewMemoryTurnStore(0)
	}
	if s.renderer == nil {
		s.renderer = discard{}
	}
	if s.reconciler == nil {
		s.reconciler = reconcile.New(nil)
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Session) ID() string { return s.id }

// Context returns a copy of the current conversation context.
func (s *Session) Context() types.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.context.Clone()
}

// Feed returns a copy of the rendered turns.
func (s *Session) Feed() []types.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Turn(nil), s.feed...)
}

// Picker returns the picker of the most recent calendar widget, or nil.
func (s *Session) Picker() *picker.Picker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Send renders the user's message and runs one exchange with the backend.
func (s *Session) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	s.appendTurn(ctx, types.Turn{Sender: types.SenderUser, Text: text, Timestamp: s.now()})
	return s.exchange(ctx, text, false)
}

// exchange sends text with the current context and renders the reconciled
// reply. echo marks a date confirmation already acknowledged client-side.
func (s *Session) exchange(ctx context.Context, text string, echo bool) error {
	s.mu.Lock()
	if types.IsBookingStart(text) {
		s.context.ResetBookingSlots()
		log.Info().Str("session", s.id).Msg("new booking, booking slots reset")
	}
	prior := s.context.Clone()
	tail := s.tailLocked()
	feed := append([]types.Turn(nil), s.feed...)
	s.mu.Unlock()

	outbound := prior.Clone()
	outbound[types.KeyHistory] = historyPayload(tail)
	resp := s.transport.Send(ctx, text, outbound)
	if resp.Error != "" {
		log.Warn().Str("session", s.id).Str("error", resp.Error).Msg("backend reported an error")
	}

	res := s.reconciler.Reconcile(reconcile.Input{
		Payload:          resp,
		Prior:            prior,
		History:          tail,
		Feed:             feed,
		LastUserText:     text,
		ConfirmationEcho: echo,
		Now:              s.now(),
	})
	delete(res.Context, types.KeyHistory)

	s.mu.Lock()
	s.context = res.Context
	s.mu.Unlock()

	for _, turn := range res.Turns {
		s.appendTurn(ctx, turn)
		for _, w := range turn.Attachments {
			if !w.IsCalendar() {
				continue
			}
			p := picker.New(w, s.now(), s)
			s.mu.Lock()
			s.active = p
			s.mu.Unlock()
			s.renderer.RenderCalendar(p)
		}
	}
	return nil
}

func (s *Session) tailLocked() []types.Turn {
	n := len(s.feed)
	if n > HistoryTail {
		return append([]types.Turn(nil), s.feed[n-HistoryTail:]...)
	}
	return append([]types.Turn(nil), s.feed...)
}

func historyPayload(turns []types.Turn) []map[string]any {
	out := make([]map[string]any, 0, len(turns))
	for _, t := range turns {
		if t.Text == "" {
			continue
		}
		out = append(out, map[string]any{"sender": string(t.Sender), "text": t.Text})
	}
	return out
}

// appendTurn adds a turn to the feed, renders it and persists it. Storage
// failures are logged; the feed stays authoritative.
func (s *Session) appendTurn(ctx context.Context, t types.Turn) {
	s.mu.Lock()
	s.feed = append(s.feed, t)
	s.mu.Unlock()

	s.renderer.RenderTurn(t)
	if err := s.store.Save(ctx, s.id, t); err != nil {
		log.Warn().Err(err).Str("session", s.id).Msg("failed to persist turn")
	}
}

// ClearHistory forgets the context, the feed and the stored transcript.
func (s *Session) ClearHistory(ctx context.Context) error {
	s.mu.Lock()
	s.context = types.Context{}
	s.feed = nil
	s.active = nil
	s.mu.Unlock()
	return s.store.Clear(ctx, s.id)
}

// Replay renders the stored transcript and seeds the feed with it.
func (s *Session) Replay(ctx context.Context) (int, error) {
	turns, err := s.store.GetAll(ctx, s.id)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.feed = append(append([]types.Turn(nil), turns...), s.feed...)
	s.mu.Unlock()
	for _, t := range turns {
		s.renderer.RenderTurn(t)
	}
	return len(turns), nil
}

// Close tears down the transport. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.transport.Close()
	})
}

type discard struct{}

func (discard) RenderTurn(types.Turn)         {}
func (discard) RenderCalendar(*picker.Picker) {}
func (discard) RenderNotice(string)           {}
