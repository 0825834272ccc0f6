package kv

import (
	"strings"

	kverrors "github.com/orneryd/kvgraph/pkg/errors"
)

// Pattern is a parsed key pattern.
//
// Tokens are separated by '.'. A "*" token matches exactly one token; a ">"
// token must be last and matches one or more remaining tokens. A lone ">"
// matches every key.
type Pattern struct {
	raw    string
	tokens []string
	rest   bool
}

// ParsePattern validates pattern and returns its parsed form.
func ParsePattern(pattern string) (Pattern, error) {
	if pattern == "" {
		return Pattern{}, invalidPattern(pattern, "empty pattern")
	}
	tokens := strings.Split(pattern, ".")
	p := Pattern{raw: pattern}
	for i, tok := range tokens {
		switch {
		case tok == "":
			return Pattern{}, invalidPattern(pattern, "empty token")
		case tok == ">":
			if i != len(tokens)-1 {
				return Pattern{}, invalidPattern(pattern, "'>' must be the final token")
			}
			p.rest = true
			continue
		case tok != "*" && strings.ContainsAny(tok, "*>"):
			return Pattern{}, invalidPattern(pattern, "wildcards must be whole tokens")
		}
		p.tokens = append(p.tokens, tok)
	}
	return p, nil
}

func invalidPattern(pattern, reason string) error {
	return kverrors.Wrap(ErrInvalidPattern, kverrors.CodeStorePatternInvalid, reason, kverrors.Field("pattern", pattern))
}

// String returns the pattern as written.
func (p Pattern) String() string { return p.raw }

// Match reports whether key matches p.
func (p Pattern) Match(key string) bool {
	if key == "" {
		return false
	}
	n := strings.Count(key, ".") + 1
	if p.rest {
		if n <= len(p.tokens) {
			return false
		}
	} else if n != len(p.tokens) {
		return false
	}
	for _, want := range p.tokens {
		var tok string
		tok, key, _ = strings.Cut(key, ".")
		if tok == "" {
			return false
		}
		if want != "*" && want != tok {
			return false
		}
	}
	if p.rest {
		for _, tok := range strings.Split(key, ".") {
			if tok == "" {
				return false
			}
		}
	}
	return true
}

// LiteralPrefix returns the leading run of literal tokens, including the
// trailing separator when a wildcard follows. Backends with ordered keys seek
// to it; an exact pattern returns the whole key.
func (p Pattern) LiteralPrefix() string {
	var b strings.Builder
	for i, tok := range p.tokens {
		if tok == "*" {
			if i > 0 {
				b.WriteByte('.')
			}
			return b.String()
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(tok)
	}
	if p.rest && len(p.tokens) > 0 {
		b.WriteByte('.')
	}
	return b.String()
}

// Exact reports whether the pattern has no wildcards.
func (p Pattern) Exact() bool {
	if p.rest {
		return false
	}
	for _, tok := range p.tokens {
		if tok == "*" {
			return false
		}
	}
	return true
}
