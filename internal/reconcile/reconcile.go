// Package reconcile turns a raw dialogue-backend reply into the ordered,
// de-duplicated list of turns the feed should show.
//
// Replies are normalized into text and widget entries and then run through a
// fixed pipeline of named stages, each of which may only drop entries. The
// package keeps no mutable state: the result depends only on the Input.
package reconcile

import (
	"time"

	"stayassist/internal/types"
)

type Input struct {
	Payload types.BackendResponse
	Prior   types.Context
	// History is the tail of the rendered feed at call time.
	History []types.Turn
	// Feed is the whole rendered feed. When set, the session-greeting stage
	// searches it instead of History.
	Feed []types.Turn
	// LastUserText is the most recent user utterance.
	LastUserText string
	// ConfirmationEcho is set when the preceding user turn was a date-range
	// confirmation already acknowledged client-side.
	ConfirmationEcho bool
	Now              time.Time
}

type Result struct {
	Turns   []types.Turn
	Widgets []types.WidgetDescriptor
	Actions []any
	Context types.Context
	// Synthesized is set when Turns holds a client-made greeting or
	// processing reply instead of backend content.
	Synthesized bool
}

type Reconciler struct {
	policy *Policy
	stages []Stage
}

// New builds a reconciler with the default pipeline. A nil policy selects
// DefaultPolicy.
func New(policy *Policy) *Reconciler {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Reconciler{policy: policy, stages: DefaultPipeline()}
}

var defaultReconciler = New(nil)

// Reconcile runs the default reconciler.
func Reconcile(in Input) Result {
	return defaultReconciler.Reconcile(in)
}

func (r *Reconciler) Reconcile(in Input) Result {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	b := &batch{
		policy:   r.policy,
		raw:      in.Payload.Messages,
		history:  in.History,
		feed:     in.Feed,
		lastUser: in.LastUserText,
		context:  in.Prior.Merge(in.Payload.Context),
	}
	if in.Payload.Malformed {
		b.raw = nil
	}
	for _, s := range r.stages {
		s.Apply(b)
	}

	res := Result{Actions: b.actions, Context: b.context}
	for _, e := range b.entries {
		if e.isText() {
			res.Turns = append(res.Turns, types.Turn{Sender: types.SenderBot, Text: e.text, Timestamp: now})
			continue
		}
		res.Turns = append(res.Turns, types.Turn{
			Sender:      types.SenderBot,
			Timestamp:   now,
			Attachments: []types.WidgetDescriptor{*e.widget},
		})
		res.Widgets = append(res.Widgets, *e.widget)
	}
	if len(res.Turns) > 0 || in.ConfirmationEcho {
		return res
	}

	text := r.policy.Replies.Processing
	if r.policy.IsUserGreeting(in.LastUserText) {
		text = r.policy.Replies.Greeting
	}
	res.Turns = []types.Turn{{Sender: types.SenderBot, Text: text, Timestamp: now}}
	res.Synthesized = true
	return res
}
