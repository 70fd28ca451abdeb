// Package validate checks a set of scripts before they go live: compile
// errors, scripts attached to unknown events, assignments nothing reads.
// Some findings carry a fix that can be applied to the script record.
package validate

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/crystal-mush/mudscript/pkg/events"
	"github.com/crystal-mush/mudscript/pkg/scripting/script"
	"github.com/crystal-mush/mudscript/pkg/scriptstore"
)

// Category classifies the type of finding.
type Category int

const (
	CatCompile Category = iota // Parse and type errors
	CatEvent                   // Missing or unknown events
	CatUnused                  // Variables assigned but never read
	CatOwner                   // Scripts without an owner (informational)
)

func (c Category) String() string {
	switch c {
	case CatCompile:
		return "compile"
	case CatEvent:
		return "event"
	case CatUnused:
		return "unused"
	case CatOwner:
		return "owner"
	default:
		return "unknown"
	}
}

// Severity indicates how serious a finding is.
type Severity int

const (
	SevError   Severity = iota // The script cannot run
	SevWarning                 // Should be reviewed
	SevInfo                    // Informational only
)

func (s Severity) String() string {
	switch s {
	case SevError:
		return "error"
	case SevWarning:
		return "warning"
	case SevInfo:
		return "info"
	default:
		return "unknown"
	}
}

// Finding is a single issue of a script.
type Finding struct {
	ID          string           `json:"id"`
	Category    Category         `json:"category"`
	Severity    Severity         `json:"severity"`
	Script      string           `json:"script"`
	Event       string           `json:"event,omitempty"`
	Owner       events.ObjectRef `json:"owner,omitempty"`
	Line        int              `json:"line,omitempty"`
	Column      int              `json:"column,omitempty"`
	Description string           `json:"description"`
	Current     string           `json:"current,omitempty"`  // The offending source line
	Proposed    string           `json:"proposed,omitempty"` // Suggested replacement
	Fixable     bool             `json:"fixable"`
	Fixed       bool             `json:"fixed"`
	fixFunc     func()
}

// Corpus is what the checkers look at.
type Corpus struct {
	Records  []*scriptstore.Record
	Events   *script.Events
	Compiler *script.Compiler
}

// Checker is implemented by each check.
type Checker interface {
	Name() string
	Check(c *Corpus) []Finding
}

// Validator runs the checkers against a corpus.
type Validator struct {
	checkers []Checker
	corpus   *Corpus
	findings []Finding
	idSeq    atomic.Int64
}

// New creates a Validator with all built-in checkers registered.
func New(c *Corpus) *Validator {
	return &Validator{
		corpus: c,
		checkers: []Checker{
			&CompileChecker{},
			&EventChecker{},
			&UnusedChecker{},
			&OwnerChecker{},
		},
	}
}

// Run executes all checkers and returns the findings sorted by script,
// then position.
func (v *Validator) Run() []Finding {
	v.findings = nil
	for _, c := range v.checkers {
		v.findings = append(v.findings, c.Check(v.corpus)...)
	}
	sort.SliceStable(v.findings, func(i, j int) bool {
		a, b := v.findings[i], v.findings[j]
		if a.Script != b.Script {
			return a.Script < b.Script
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Column < b.Column
	})
	for i := range v.findings {
		v.findings[i].ID = fmt.Sprintf("F%d", v.idSeq.Add(1))
	}
	return v.findings
}

// Findings returns the findings of the last Run.
func (v *Validator) Findings() []Finding {
	return v.findings
}

// ApplyFix applies a single fix by finding ID.
func (v *Validator) ApplyFix(id string) error {
	for i := range v.findings {
		f := &v.findings[i]
		if f.ID != id {
			continue
		}
		if !f.Fixable {
			return fmt.Errorf("finding %s is not fixable", id)
		}
		if f.Fixed {
			return fmt.Errorf("finding %s is already fixed", id)
		}
		f.fixFunc()
		f.Fixed = true
		return nil
	}
	return fmt.Errorf("finding %s not found", id)
}

// ApplyAll applies every pending fix of a category and returns the
// records it changed.
func (v *Validator) ApplyAll(cat Category) []*scriptstore.Record {
	changed := make(map[string]bool)
	for i := range v.findings {
		f := &v.findings[i]
		if f.Category == cat && f.Fixable && !f.Fixed {
			f.fixFunc()
			f.Fixed = true
			changed[f.Script] = true
		}
	}
	var out []*scriptstore.Record
	for _, r := range v.corpus.Records {
		if changed[r.Name] {
			out = append(out, r)
		}
	}
	return out
}

// Summary returns counts of findings per severity.
func (v *Validator) Summary() map[Severity]int {
	m := make(map[Severity]int)
	for _, f := range v.findings {
		m[f.Severity]++
	}
	return m
}

// HasErrors reports whether a script of the corpus cannot run.
func (v *Validator) HasErrors() bool {
	return v.Summary()[SevError] > 0
}

// sourceLine returns line n (1-based) of src, trimmed.
func sourceLine(src string, n int) string {
	if n < 1 {
		return ""
	}
	lines := strings.Split(src, "\n")
	if n > len(lines) {
		return ""
	}
	return strings.TrimSpace(lines[n-1])
}

// Merge returns the stored records with the ones of files replacing those
// of the same name, sorted by name.
func Merge(stored, files []*scriptstore.Record) []*scriptstore.Record {
	byName := make(map[string]*scriptstore.Record, len(stored)+len(files))
	for _, r := range stored {
		byName[r.Name] = r
	}
	for _, r := range files {
		byName[r.Name] = r
	}
	out := make([]*scriptstore.Record, 0, len(byName))
	for _, r := range byName {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
