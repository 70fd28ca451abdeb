package validate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// EventChecker flags scripts attached to no event, which never run, and
// scripts attached to an undeclared one. A misspelled event name with a
// single close match can be fixed.
type EventChecker struct{}

func (c *EventChecker) Name() string { return "event" }

func (c *EventChecker) Check(corpus *Corpus) []Finding {
	names := corpus.Events.Names()
	var findings []Finding
	for _, r := range corpus.Records {
		if r.Event == "" {
			findings = append(findings, Finding{
				Category:    CatEvent,
				Severity:    SevWarning,
				Script:      r.Name,
				Owner:       r.Owner,
				Description: "script is not attached to an event and never runs",
			})
			continue
		}
		if _, ok := corpus.Events.Lookup(r.Event); ok {
			continue
		}
		f := Finding{
			Category:    CatEvent,
			Severity:    SevError,
			Script:      r.Name,
			Event:       r.Event,
			Owner:       r.Owner,
			Description: fmt.Sprintf("unknown event %q", r.Event),
			Current:     r.Event,
		}
		if sugg := suggestEvents(r.Event, names); len(sugg) == 1 {
			rec, name := r, sugg[0]
			f.Proposed = name
			f.Fixable = true
			f.fixFunc = func() { rec.Event = name }
		} else if len(sugg) > 1 {
			f.Proposed = "one of " + strings.Join(sugg, ", ")
		}
		findings = append(findings, f)
	}
	return findings
}

// suggestEvents returns the declared events close to name: subsequence
// matches first, then names at most two edits away.
func suggestEvents(name string, names []string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	ranks := fuzzy.RankFindFold(name, names)
	sort.Sort(ranks)
	for _, r := range ranks {
		add(r.Target)
	}
	for _, cand := range names {
		if fuzzy.LevenshteinDistance(strings.ToLower(name), strings.ToLower(cand)) <= 2 {
			add(cand)
		}
	}
	return out
}
