package cli

import (
	"strings"

	"github.com/replicheck/replicheck/wildcard"
)

// Filter selects scenarios by name: match minus exclude, each a
// '|'-separated list of wildcard patterns.
type Filter struct {
	match   []wildcard.Pattern
	exclude []wildcard.Pattern
}

func MakeFilter(match, exclude string) Filter {
	var f Filter
	f.match = wildcard.CompileAll(strings.Split(match, "|"))
	if exclude != "" {
		f.exclude = wildcard.CompileAll(strings.Split(exclude, "|"))
	}
	return f
}

func (f Filter) Match(name string) bool {
	return wildcard.MatchAny(f.match, name) && !wildcard.MatchAny(f.exclude, name)
}
