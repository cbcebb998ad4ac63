package store

import (
	"fmt"
	"strings"
)

// MatchMode selects how a search term is compared to identifiers.
type MatchMode string

const (
	MatchExact     MatchMode = "exact"
	MatchPrefix    MatchMode = "prefix"
	MatchSubstring MatchMode = "substring"
)

// MatchPolicy is the search-by-identifier rule of a backend. The empty term
// matches every record under prefix and substring, and none under exact.
type MatchPolicy struct {
	Mode          MatchMode
	CaseSensitive bool
}

// DefaultMatchPolicy is case-insensitive substring matching.
func DefaultMatchPolicy() MatchPolicy {
	return MatchPolicy{Mode: MatchSubstring}
}

func ParseMatchMode(s string) (MatchMode, error) {
	switch m := MatchMode(strings.ToLower(strings.TrimSpace(s))); m {
	case MatchExact, MatchPrefix, MatchSubstring:
		return m, nil
	case "":
		return MatchSubstring, nil
	default:
		return "", fmt.Errorf("unknown match mode %q", s)
	}
}

func (p MatchPolicy) Validate() error {
	_, err := ParseMatchMode(string(p.Mode))
	return err
}

// Matches reports whether identifier satisfies term under p.
func (p MatchPolicy) Matches(identifier, term string) bool {
	if !p.CaseSensitive {
		identifier = strings.ToLower(identifier)
		term = strings.ToLower(term)
	}
	switch p.Mode {
	case MatchExact:
		return identifier == term
	case MatchPrefix:
		return strings.HasPrefix(identifier, term)
	default:
		return strings.Contains(identifier, term)
	}
}

func (p MatchPolicy) String() string {
	mode := p.Mode
	if mode == "" {
		mode = MatchSubstring
	}
	if p.CaseSensitive {
		return string(mode) + "/case-sensitive"
	}
	return string(mode) + "/case-insensitive"
}
