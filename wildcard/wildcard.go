// Package wildcard implements the glob-style name filters the CLI accepts
// for workloads and faults: '*' matches any run of characters, everything
// else matches literally.
package wildcard

import "strings"

// Pattern is a compiled filter. The zero value matches nothing; compile
// "*" to match everything.
type Pattern struct {
	literals []string
	exact    bool
}

// Compile splits the pattern on '*' once so Match is allocation-free.
func Compile(pattern string) Pattern {
	literals := strings.Split(pattern, "*")
	return Pattern{literals: literals, exact: len(literals) == 1}
}

// Match reports whether name matches the pattern.
func (p Pattern) Match(name string) bool {
	if len(p.literals) == 0 {
		return false
	}
	if p.exact {
		return name == p.literals[0]
	}
	if head := p.literals[0]; head != "" {
		if !strings.HasPrefix(name, head) {
			return false
		}
		name = name[len(head):]
	}
	last := len(p.literals) - 1
	for _, lit := range p.literals[1:last] {
		if lit == "" {
			continue
		}
		i := strings.Index(name, lit)
		if i < 0 {
			return false
		}
		name = name[i+len(lit):]
	}
	tail := p.literals[last]
	return tail == "" || strings.HasSuffix(name, tail)
}

// MatchAny reports whether name matches at least one of the patterns.
func MatchAny(patterns []Pattern, name string) bool {
	for _, p := range patterns {
		if p.Match(name) {
			return true
		}
	}
	return false
}

// CompileAll compiles a comma-free list of patterns.
func CompileAll(patterns []string) []Pattern {
	out := make([]Pattern, len(patterns))
	for i, s := range patterns {
		out[i] = Compile(s)
	}
	return out
}
