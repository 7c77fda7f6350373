package reconcile

import (
	_ "embed"
	"os"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

//go:embed policy.yaml
var defaultPolicyYAML []byte

// Policy holds the phrase tables that drive the suppression stages.
type Policy struct {
	Transitional      []string `yaml:"transitional"`
	InfoPrompt        []string `yaml:"info_prompt"`
	Fallback          []string `yaml:"fallback"`
	ContinueWords     []string `yaml:"continue_words"`
	ShortcutWords     []string `yaml:"shortcut_words"`
	Placeholder       []string `yaml:"placeholder"`
	SummaryIndicators []string `yaml:"summary_indicators"`
	FollowUps         []string `yaml:"follow_ups"`
	Greeting          struct {
		Prefixes []string `yaml:"prefixes"`
		Openers  []string `yaml:"openers"`
	} `yaml:"greeting"`
	UserGreetings     []string `yaml:"user_greetings"`
	RepeatedQuestions []string `yaml:"repeated_questions"`
	CanonicalGreeting string   `yaml:"canonical_greeting"`
	Replies           struct {
		Greeting   string `yaml:"greeting"`
		Processing string `yaml:"processing"`
	} `yaml:"replies"`

	greetingRe     *regexp.Regexp
	userGreetingRe *regexp.Regexp
	continueRe     *regexp.Regexp
	shortcutRe     *regexp.Regexp
}

var defaultPolicy = mustParsePolicy(defaultPolicyYAML)

// DefaultPolicy returns the built-in phrase tables.
func DefaultPolicy() *Policy { return defaultPolicy }

// LoadPolicy reads a YAML override on top of the built-in tables. Keys absent
// from the file keep their defaults. An empty path returns DefaultPolicy.
func LoadPolicy(path string) (*Policy, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultPolicy(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read policy file")
	}
	p, err := parsePolicy(defaultPolicyYAML)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, p); err != nil {
		return nil, errors.Wrapf(err, "parse policy file %s", path)
	}
	p.compile()
	return p, nil
}

func mustParsePolicy(b []byte) *Policy {
	p, err := parsePolicy(b)
	if err != nil {
		panic(err)
	}
	return p
}

func parsePolicy(b []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(b, &p); err != nil {
		return nil, errors.Wrap(err, "parse policy")
	}
	p.compile()
	return &p, nil
}

func (p *Policy) compile() {
	lower := func(in []string) []string {
		out := make([]string, 0, len(in))
		for _, s := range in {
			if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	p.Transitional = lower(p.Transitional)
	p.InfoPrompt = lower(p.InfoPrompt)
	p.Fallback = lower(p.Fallback)
	p.ContinueWords = lower(p.ContinueWords)
	p.ShortcutWords = lower(p.ShortcutWords)
	p.Placeholder = lower(p.Placeholder)
	p.SummaryIndicators = lower(p.SummaryIndicators)
	p.FollowUps = lower(p.FollowUps)
	p.Greeting.Prefixes = lower(p.Greeting.Prefixes)
	p.Greeting.Openers = lower(p.Greeting.Openers)
	p.UserGreetings = lower(p.UserGreetings)
	p.RepeatedQuestions = lower(p.RepeatedQuestions)
	p.CanonicalGreeting = strings.ToLower(strings.TrimSpace(p.CanonicalGreeting))

	p.greetingRe = alternation(`^(?:`, p.Greeting.Prefixes, `)\b`)
	p.userGreetingRe = alternation(`^(?:`, p.UserGreetings, `)\b`)
	p.continueRe = alternation(`(?:^|\W)(?:`, p.ContinueWords, `)(?:\W|$)`)
	p.shortcutRe = alternation(`(?:^|\W)(?:`, p.ShortcutWords, `)(?:\W|$)`)
}

// alternation builds a case-insensitive regexp matching any of words. It
// returns nil for an empty list.
func alternation(prefix string, words []string, suffix string) *regexp.Regexp {
	if len(words) == 0 {
		return nil
	}
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(?i)` + prefix + strings.Join(quoted, "|") + suffix)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func equalsAny(s string, options []string) bool {
	for _, o := range options {
		if s == o {
			return true
		}
	}
	return false
}

// IsBotGreeting reports whether text opens with a greeting or is a menu opener.
func (p *Policy) IsBotGreeting(text string) bool {
	t := normalize(text)
	if p.greetingRe != nil && p.greetingRe.MatchString(t) {
		return true
	}
	return containsAny(t, p.Greeting.Openers)
}

// IsUserGreeting reports whether a user utterance is a greeting.
func (p *Policy) IsUserGreeting(text string) bool {
	return p.userGreetingRe != nil && p.userGreetingRe.MatchString(normalize(text))
}

// IsContinue reports whether a user utterance contains a whole continue word.
func (p *Policy) IsContinue(text string) bool {
	return p.continueRe != nil && p.continueRe.MatchString(normalize(text))
}

// IsShortcut reports whether a user utterance contains a shortcut phrase as
// whole words, so "book" does not count as "ok".
func (p *Policy) IsShortcut(text string) bool {
	return p.shortcutRe != nil && p.shortcutRe.MatchString(normalize(text))
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// bare strips trailing punctuation and whitespace for whole-phrase matches.
func bare(s string) string {
	return strings.TrimRight(normalize(s), " .!?…,;:")
}
