package validation

import "time"

// Finding is one rule evaluation for one record (or for the whole set when
// Row is SetLevelRow). Findings are plain data; a failing record never aborts
// the pass.
type Finding struct {
	Row          int     `json:"row"`
	EnrollmentID string  `json:"enrollment_id,omitempty"`
	Rule         string  `json:"rule"`
	Outcome      Outcome `json:"outcome"`
	Detail       string  `json:"detail,omitempty"`
}

// SetLevelRow marks findings produced by set-level rules.
const SetLevelRow = -1

// Report is the fully enumerable validation output for one batch.
type Report struct {
	AsOf     time.Time `json:"as_of"`
	Rows     int       `json:"rows"`
	Findings []Finding `json:"findings"`
}

// Failures returns the failing findings.
func (r *Report) Failures() []Finding {
	return r.withOutcome(OutcomeFail)
}

// Inconclusive returns the findings whose checks could not run.
func (r *Report) Inconclusive() []Finding {
	return r.withOutcome(OutcomeInconclusive)
}

func (r *Report) withOutcome(o Outcome) []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Outcome == o {
			out = append(out, f)
		}
	}
	return out
}

// ByRule returns all findings for the named rule.
func (r *Report) ByRule(rule string) []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Rule == rule {
			out = append(out, f)
		}
	}
	return out
}

// Counts tallies findings per outcome.
func (r *Report) Counts() map[Outcome]int {
	counts := make(map[Outcome]int, 3)
	for _, f := range r.Findings {
		counts[f.Outcome]++
	}
	return counts
}

// Clean reports whether the batch had no failures. Inconclusive findings do
// not make a batch dirty, but callers can still surface them.
func (r *Report) Clean() bool {
	for _, f := range r.Findings {
		if f.Outcome == OutcomeFail {
			return false
		}
	}
	return true
}
