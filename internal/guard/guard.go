// Package guard keeps the gateway on topic: it refuses messages that have
// nothing to do with the hotel before they reach the dialogue server.
package guard

import (
	"context"

	"github.com/rs/zerolog/log"
)

const DefaultRefusal = "I can only help with hotel related matters."

type Verdict struct {
	Allowed bool
	// Source is "keywords" or "llm".
	Source string
	Reason string
}

type Guard struct {
	classifier *Classifier
	refusal    string
}

// New builds a guard. classifier may be nil, in which case messages the
// keyword heuristic cannot place are allowed.
func New(classifier *Classifier) *Guard {
	g := &Guard{classifier: classifier, refusal: DefaultRefusal}
	if classifier != nil && classifier.spec.Refusal != "" {
		g.refusal = classifier.spec.Refusal
	}
	return g
}

func (g *Guard) Refusal() string { return g.refusal }

// Check decides whether message may be forwarded. Classifier failures fail
// open.
func (g *Guard) Check(ctx context.Context, message string) Verdict {
	switch Keywords(message) {
	case Allowed:
		return Verdict{Allowed: true, Source: "keywords"}
	case Blocked:
		return Verdict{Allowed: false, Source: "keywords", Reason: "blocked pattern"}
	}
	if g.classifier == nil || message == "" {
		return Verdict{Allowed: true, Source: "keywords"}
	}
	c, err := g.classifier.Classify(ctx, message)
	if err != nil {
		log.Warn().Err(err).Msg("topic classifier failed, allowing message")
		return Verdict{Allowed: true, Source: "keywords"}
	}
	return Verdict{Allowed: c.Allowed, Source: "llm", Reason: c.Reason}
}
