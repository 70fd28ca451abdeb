package validate

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/rodaine/table"
)

// Report is the JSON form of a validation, served by the console.
type Report struct {
	TotalFindings int                    `json:"total_findings"`
	Categories    map[string]CategorySum `json:"categories"`
	Findings      []Finding              `json:"findings"`
}

// CategorySum summarizes findings for a single category.
type CategorySum struct {
	Total   int    `json:"total"`
	Fixable int    `json:"fixable"`
	Fixed   int    `json:"fixed"`
	Label   string `json:"label"`
}

var categoryLabels = map[Category]string{
	CatCompile: "Compile Errors",
	CatEvent:   "Event Problems",
	CatUnused:  "Unused Variables",
	CatOwner:   "Scripts Without Owner",
}

// GenerateReport builds a Report from the validator's current findings.
func GenerateReport(v *Validator) *Report {
	r := &Report{
		TotalFindings: len(v.findings),
		Categories:    make(map[string]CategorySum),
		Findings:      v.findings,
	}
	if r.Findings == nil {
		r.Findings = []Finding{}
	}
	for _, f := range v.findings {
		cs := r.Categories[f.Category.String()]
		cs.Label = categoryLabels[f.Category]
		cs.Total++
		if f.Fixable {
			cs.Fixable++
		}
		if f.Fixed {
			cs.Fixed++
		}
		r.Categories[f.Category.String()] = cs
	}
	return r
}

// WriteJSON writes the report as JSON to the given writer.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteTable prints the findings for a terminal, one row each.
func (r *Report) WriteTable(w io.Writer) {
	tbl := table.New("ID", "Script", "Where", "Severity", "Problem", "Fix").WithWriter(w)
	for _, f := range r.Findings {
		where := ""
		if f.Line > 0 {
			where = fmt.Sprintf("%d:%d", f.Line, f.Column)
		}
		fix := f.Proposed
		if f.Fixed {
			fix = "fixed: " + fix
		}
		tbl.AddRow(f.ID, f.Script, where, f.Severity, f.Description, fix)
	}
	tbl.Print()
}
