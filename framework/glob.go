package framework

import (
	"path/filepath"
	"strings"
)

// MatchGlob reports whether a tool name matches pattern. Patterns use
// filepath.Match syntax; "*" and "**" match every name.
func MatchGlob(pattern, name string) bool {
	pattern = strings.TrimSpace(pattern)
	switch pattern {
	case "":
		return false
	case "*", "**":
		return true
	}
	ok, err := filepath.Match(pattern, name)
	return err == nil && ok
}

// Restrict returns a registry holding only the tools whose names match one
// of patterns. An empty pattern list keeps every tool.
func (r *ToolRegistry) Restrict(patterns []string) *ToolRegistry {
	if r == nil || len(patterns) == 0 {
		return r
	}
	out := &ToolRegistry{tools: make(map[string]Tool)}
	for _, name := range r.names {
		for _, pattern := range patterns {
			if MatchGlob(pattern, name) {
				out.tools[name] = r.tools[name]
				out.names = append(out.names, name)
				break
			}
		}
	}
	return out
}
