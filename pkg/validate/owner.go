package validate

// OwnerChecker notes scripts without an owner. They run for whoever
// triggers their event.
type OwnerChecker struct{}

func (c *OwnerChecker) Name() string { return "owner" }

func (c *OwnerChecker) Check(corpus *Corpus) []Finding {
	var findings []Finding
	for _, r := range corpus.Records {
		if r.Owner != "" {
			continue
		}
		findings = append(findings, Finding{
			Category:    CatOwner,
			Severity:    SevInfo,
			Script:      r.Name,
			Event:       r.Event,
			Description: "script has no owner and runs for the character that triggers it",
		})
	}
	return findings
}
