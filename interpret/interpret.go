// Package interpret classifies chat messages into boss-fight effects.
// It is a pure function package: no I/O, no shared state, fully
// deterministic given its inputs.
package interpret

import (
	"regexp"
	"strings"
)

// Effect is the outcome of classifying a single chat message.
type Effect int

const (
	Ignore Effect = iota
	Damage
	Heal
)

func (e Effect) String() string {
	switch e {
	case Damage:
		return "damage"
	case Heal:
		return "heal"
	default:
		return "ignore"
	}
}

// KeywordSet is a case-insensitive set of trigger or heal keywords,
// configured once at boot from comma-separated env values.
type KeywordSet struct {
	keywords []string
}

// NewKeywordSet lowercases and de-duplicates the given keyword list.
// Empty keywords are dropped; a keyword set with no entries never
// matches anything.
func NewKeywordSet(keywords []string) KeywordSet {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return KeywordSet{keywords: out}
}

// Matches reports whether any keyword in the set is a case-insensitive
// substring of message.
func (s KeywordSet) Matches(message string) bool {
	lower := strings.ToLower(message)
	for _, k := range s.keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// Classify implements the rule from the spec: a message that matches a
// trigger keyword and not a heal keyword is Damage(1); a message that
// matches a heal keyword and not a trigger keyword is Heal(1); anything
// else (neither, or both) is Ignore. Per-message magnitude is always
// capped at 1 regardless of how many keyword occurrences appear.
func Classify(message string, triggers, heals KeywordSet) Effect {
	hasHit := triggers.Matches(message)
	hasHeal := heals.Matches(message)

	switch {
	case hasHit && !hasHeal:
		return Damage
	case hasHeal && !hasHit:
		return Heal
	default:
		return Ignore
	}
}

// regexMetaChars are the characters that need escaping to be used
// literally inside a regexp.
var regexMetaChars = regexp.MustCompile(`[.*+?^${}()|[\]\\]`)

// EscapeRegExp returns s with every regex metacharacter escaped so it
// can be embedded literally into a larger pattern. The upstream source
// this system was ported from carried a corrupted version of this
// helper; this implementation simply escapes the full Go/JS common set
// of metacharacters: . * + ? ^ $ { } ( ) | [ ] \
//
// Nothing else in this module calls it; the classifier above uses
// substring search and never uses regex.
func EscapeRegExp(s string) string {
	return regexMetaChars.ReplaceAllStringFunc(s, func(m string) string {
		return "\\" + m
	})
}
