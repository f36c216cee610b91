package policy

import (
	"fmt"
	"strings"
)

// matchKind selects the comparison a compiled pattern performs.
type matchKind int

const (
	matchExact matchKind = iota
	matchPrefix
	matchSuffix
	matchContains
	matchAll
)

// matcher is a glob pattern reduced at load time to a single string
// comparison. Supported shapes: "*", "x*", "*x", "*x*", and a literal.
// Matching is case-insensitive.
type matcher struct {
	kind matchKind
	text string
}

// compilePattern reduces a glob pattern to a matcher. Interior wildcards
// ("a*b") are rejected so a policy author finds out at load time, not by
// silently never matching.
func compilePattern(pattern string) (matcher, error) {
	p := strings.ToLower(pattern)

	switch {
	case p == "*":
		return matcher{kind: matchAll}, nil
	case strings.HasPrefix(p, "*") && strings.HasSuffix(p, "*") && len(p) > 1:
		inner := p[1 : len(p)-1]
		if strings.Contains(inner, "*") {
			return matcher{}, fmt.Errorf("pattern %q: interior wildcards are not supported", pattern)
		}
		return matcher{kind: matchContains, text: inner}, nil
	case strings.HasPrefix(p, "*"):
		rest := p[1:]
		if strings.Contains(rest, "*") {
			return matcher{}, fmt.Errorf("pattern %q: interior wildcards are not supported", pattern)
		}
		return matcher{kind: matchSuffix, text: rest}, nil
	case strings.HasSuffix(p, "*"):
		rest := p[:len(p)-1]
		if strings.Contains(rest, "*") {
			return matcher{}, fmt.Errorf("pattern %q: interior wildcards are not supported", pattern)
		}
		return matcher{kind: matchPrefix, text: rest}, nil
	default:
		if strings.Contains(p, "*") {
			return matcher{}, fmt.Errorf("pattern %q: interior wildcards are not supported", pattern)
		}
		return matcher{kind: matchExact, text: p}, nil
	}
}

func (m matcher) match(s string) bool {
	s = strings.ToLower(s)
	switch m.kind {
	case matchAll:
		return true
	case matchExact:
		return s == m.text
	case matchPrefix:
		return strings.HasPrefix(s, m.text)
	case matchSuffix:
		return strings.HasSuffix(s, m.text)
	case matchContains:
		return strings.Contains(s, m.text)
	default:
		return false
	}
}
