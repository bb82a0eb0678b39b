// Package alerts matches attachment text against named keyword rules.
package alerts

import (
	"fmt"
	"slices"
	"strings"
)

// Rule fires when any of its keywords occurs in a text.
type Rule struct {
	Name     string
	Keywords []string
}

// Matcher implements scholarship.AlertMatcher. Matching is case-insensitive.
type Matcher struct {
	rules []Rule
}

// NewMatcher validates and normalises rules.
func NewMatcher(rules []Rule) (*Matcher, error) {
	seen := make(map[string]struct{}, len(rules))
	out := make([]Rule, 0, len(rules))
	for i, r := range rules {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			return nil, fmt.Errorf("alert rule %d has no name", i)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("alert rule %q defined twice", name)
		}
		seen[name] = struct{}{}
		var keywords []string
		for _, k := range r.Keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				keywords = append(keywords, k)
			}
		}
		if len(keywords) == 0 {
			return nil, fmt.Errorf("alert rule %q has no keywords", name)
		}
		out = append(out, Rule{Name: name, Keywords: keywords})
	}
	return &Matcher{rules: out}, nil
}

// Match returns the sorted names of the rules that fire on text.
func (m *Matcher) Match(text string) []string {
	if m == nil || len(m.rules) == 0 || text == "" {
		return nil
	}
	lower := strings.ToLower(text)
	var names []string
	for _, r := range m.rules {
		if slices.ContainsFunc(r.Keywords, func(k string) bool { return strings.Contains(lower, k) }) {
			names = append(names, r.Name)
		}
	}
	slices.Sort(names)
	return names
}
