package guard

import "strings"

type Decision int

const (
	// Unsure means no keyword matched either way.
	Unsure Decision = iota
	Allowed
	Blocked
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case Blocked:
		return "blocked"
	}
	return "unsure"
}

var hotelKeywords = []string{
	"book", "booking", "reserve", "reservation", "room", "rooms", "suite", "standard",
	"guest", "guests", "stay", "staying", "check-in", "checkout", "check-out",
	"pay", "payment", "online", "desk", "front desk", "card", "credit", "debit",
	"arrival", "departure", "date", "dates", "night", "nights", "day", "days",
	"pool", "parking", "breakfast", "lunch", "dinner", "gym", "facility", "facilities",
	"amenity", "amenities", "wifi", "internet", "elevator", "lift", "wheelchair",
	"cancel", "cancellation", "booking number", "reference", "hotel", "stayassist",
	"price", "cost", "fee", "fees", "available", "availability", "open", "hours",
	"time", "times", "when", "what", "which", "how much", "how many",
	"hello", "hi", "hey", "good morning", "good afternoon", "good evening", "greetings",
	"continue", "yes", "ok", "okay", "proceed", "go ahead", "sure", "yeah", "yep",
	"name", "first name", "last name", "email", "address",
	"one", "two", "three", "four", "five", "six", "seven", "eight", "nine", "ten",
	"1", "2", "3", "4", "5", "6", "7", "8", "9", "10",
}

var blockedPatterns = []string{
	"code", "programming", "python", "javascript", "function", "variable", "debug", "error",
	"script", "algorithm", "api", "json", "html", "css", "sql", "database",
	"what are you", "who are you", "what is your", "tell me about yourself",
	"what model", "which model", "what ai", "what llm", "what system",
	"how are you built", "how do you work", "what are your rules",
	"discuss", "debate", "opinion", "think about", "what do you think",
	"joke", "funny", "humor", "laugh",
	"stupid", "idiot", "dumb", "useless", "bad", "terrible", "hate",
	"threat", "harm", "hurt", "kill", "destroy",
	"test", "testing", "trial",
	"ignore", "forget", "disregard", "override", "change your", "pretend you are",
	"act as", "roleplay", "role play", "imagine", "suppose", "assume",
	"reveal", "show me your", "what are your instructions",
	"system prompt", "initial prompt",
}

var allowedShort = []string{
	"yes", "ok", "okay", "no", "standard", "suite", "online", "desk",
	"continue", "proceed", "go ahead", "sure",
}

// Keywords classifies a message by substring heuristics. Hotel vocabulary wins
// over blocked patterns, so "what time is breakfast" is allowed even though it
// starts like a question about the assistant.
func Keywords(message string) Decision {
	m := strings.ToLower(strings.TrimSpace(message))
	if m == "" {
		return Unsure
	}
	if containsAny(m, hotelKeywords) {
		return Allowed
	}
	if containsAny(m, blockedPatterns) {
		return Blocked
	}
	if len(strings.Fields(m)) <= 2 && equalsAny(m, allowedShort) {
		return Allowed
	}
	return Unsure
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
