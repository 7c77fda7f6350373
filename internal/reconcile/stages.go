package reconcile

import (
	"strings"

	"github.com/rs/zerolog/log"

	"stayassist/internal/types"
)

// entry is one normalized item of a reply batch: either text or a widget.
type entry struct {
	text   string
	widget *types.WidgetDescriptor
}

func (e entry) isText() bool { return e.widget == nil }

// batch is the working state threaded through the pipeline for one reply.
type batch struct {
	policy   *Policy
	raw      []types.BackendMessage
	history  []types.Turn
	feed     []types.Turn
	lastUser string

	entries []entry
	actions []any
	context types.Context
}

// Stage is one named step of the reconciliation pipeline.
type Stage struct {
	Name  string
	Apply func(b *batch)
}

// DefaultPipeline returns the stages in the order they must run.
func DefaultPipeline() []Stage {
	return []Stage{
		{Name: "widgets", Apply: extractWidgets},
		{Name: "transitional", Apply: dropTransitional},
		{Name: "fallback-after-prompt", Apply: dropFallbackAfterPrompt},
		{Name: "placeholder", Apply: dropPlaceholders},
		{Name: "post-summary", Apply: dropPostSummaryFollowUps},
		{Name: "duplicates", Apply: dropDuplicates},
		{Name: "greeting-collapse", Apply: collapseGreeting},
		{Name: "repeated-question", Apply: collapseRepeatedQuestions},
		{Name: "session-greeting", Apply: dropSessionGreeting},
	}
}

// keep filters the batch's entries, logging every text that is dropped.
func (b *batch) keep(stage string, pred func(i int, e entry) bool) {
	out := b.entries[:0:0]
	for i, e := range b.entries {
		if pred(i, e) {
			out = append(out, e)
			continue
		}
		ev := log.Debug().Str("stage", stage)
		if e.isText() {
			ev = ev.Str("text", e.text)
		} else {
			ev = ev.Str("widget", e.widget.Type)
		}
		ev.Msg("dropped reply entry")
	}
	b.entries = out
}

func extractWidgets(b *batch) {
	for _, m := range b.raw {
		w, structured := structuredPayload(m)
		if structured != nil {
			if structured.Action != nil {
				b.actions = append(b.actions, structured.Action)
			}
			if len(structured.Context) > 0 {
				b.context = b.context.Merge(structured.Context)
			}
		}
		text := strings.TrimSpace(m.Text)
		if w == nil {
			if text != "" {
				b.entries = append(b.entries, entry{text: m.Text})
			}
			continue
		}
		if text != "" && text != strings.TrimSpace(w.Message) {
			b.entries = append(b.entries, entry{text: m.Text})
		}
		b.entries = append(b.entries, entry{widget: w})
	}
}

// structuredPayload returns the calendar widget carried by m, if any, and the
// decoded structured payload itself.
func structuredPayload(m types.BackendMessage) (*types.WidgetDescriptor, *types.WidgetDescriptor) {
	for _, raw := range [][]byte{m.JSONMessage, m.Custom} {
		d, ok := types.ParseWidget(raw)
		if !ok {
			continue
		}
		if d.IsCalendar() {
			return &d, &d
		}
		return nil, &d
	}
	return nil, nil
}

func dropTransitional(b *batch) {
	b.keep("transitional", func(_ int, e entry) bool {
		return !e.isText() || !equalsAny(bare(e.text), b.policy.Transitional)
	})
}

func dropFallbackAfterPrompt(b *batch) {
	prompted := b.policy.IsContinue(b.lastUser) || infoAsked(b.context)
	for _, t := range b.history {
		if t.Sender == types.SenderBot && containsAny(normalize(t.Text), b.policy.InfoPrompt) {
			prompted = true
			break
		}
	}
	for _, e := range b.entries {
		if e.isText() && containsAny(normalize(e.text), b.policy.InfoPrompt) {
			prompted = true
			break
		}
	}
	if !prompted {
		return
	}
	b.keep("fallback-after-prompt", func(_ int, e entry) bool {
		return !e.isText() || !containsAny(normalize(e.text), b.policy.Fallback)
	})
}

// infoAsked reports whether the backend tracker says the information prompt
// is pending.
func infoAsked(c types.Context) bool {
	slots, _ := c[types.KeySlots].(map[string]any)
	v, _ := slots[types.SlotInformationSufficient].(string)
	return v == types.InfoAsked
}

func dropPlaceholders(b *batch) {
	b.keep("placeholder", func(_ int, e entry) bool {
		return !e.isText() || !containsAny(normalize(e.text), b.policy.Placeholder)
	})
}

func dropPostSummaryFollowUps(b *batch) {
	summarySeen := false
	b.keep("post-summary", func(_ int, e entry) bool {
		if !e.isText() {
			return true
		}
		t := normalize(e.text)
		if summarySeen && containsAny(t, b.policy.FollowUps) {
			return false
		}
		if containsAny(t, b.policy.SummaryIndicators) {
			summarySeen = true
		}
		return true
	})
}

func dropDuplicates(b *batch) {
	seen := map[string]bool{}
	b.keep("duplicates", func(_ int, e entry) bool {
		if !e.isText() {
			return true
		}
		k := normalize(e.text)
		if seen[k] {
			return false
		}
		seen[k] = true
		return true
	})
}

func collapseGreeting(b *batch) {
	if len(b.entries) < 2 || !b.entries[0].isText() || !b.policy.IsBotGreeting(b.entries[0].text) {
		return
	}
	b.keep("greeting-collapse", func(i int, e entry) bool { return i == 0 || !e.isText() })
}

func collapseRepeatedQuestions(b *batch) {
	asked := map[string]bool{}
	b.keep("repeated-question", func(_ int, e entry) bool {
		if !e.isText() {
			return true
		}
		t := normalize(e.text)
		for _, q := range b.policy.RepeatedQuestions {
			if asked[q] && strings.Contains(t, q) {
				return false
			}
		}
		for _, q := range b.policy.RepeatedQuestions {
			if strings.Contains(t, q) {
				asked[q] = true
			}
		}
		return true
	})
}

func dropSessionGreeting(b *batch) {
	g := b.policy.CanonicalGreeting
	if g == "" {
		return
	}
	turns := b.feed
	if turns == nil {
		turns = b.history
	}
	shown := false
	for _, t := range turns {
		if t.Sender == types.SenderBot && strings.Contains(normalize(t.Text), g) {
			shown = true
			break
		}
	}
	if !shown {
		return
	}
	b.keep("session-greeting", func(_ int, e entry) bool {
		return !e.isText() || !strings.Contains(normalize(e.text), g)
	})
}
