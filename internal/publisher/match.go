package publisher

import (
	"regexp"
	"strings"
)

// Subscription is a topic pattern plus a loss-tolerance flag, per
// spec.md §3. A literal pattern (no '*') matches by equality; a
// glob pattern is compiled once to an anchored regular expression
// where each '*' becomes '.+' — spec.md §3: "Glob `*` matches any
// non-empty substring."
type Subscription struct {
	Pattern  string
	Lossless bool
	regex    *regexp.Regexp // nil for literal patterns
}

// NewSubscription compiles pattern once, ready for repeated Match
// calls.
func NewSubscription(pattern string, lossless bool) Subscription {
	s := Subscription{Pattern: pattern, Lossless: lossless}
	if strings.Contains(pattern, "*") {
		s.regex = compileGlob(pattern)
	}
	return s
}

func compileGlob(pattern string) *regexp.Regexp {
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	expr := "^" + strings.Join(parts, ".+") + "$"
	return regexp.MustCompile(expr)
}

// Match reports whether topic satisfies this subscription.
func (s Subscription) Match(topic string) bool {
	if s.regex != nil {
		return s.regex.MatchString(topic)
	}
	return s.Pattern == topic
}
