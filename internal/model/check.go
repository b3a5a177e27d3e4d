package model

// Status is the outcome of a single check.
type Status string

const (
	// StatusPass marks a resource that matches the desired state.
	StatusPass Status = "pass"
	// StatusFail marks an absent or security-relevant drifted resource.
	StatusFail Status = "fail"
	// StatusWarning marks non-critical drift or reduced-confidence verification.
	StatusWarning Status = "warning"
	// StatusError marks a check that could not be completed.
	StatusError Status = "error"
)

// IsValid reports whether the status is one of the known values.
func (s Status) IsValid() bool {
	switch s {
	case StatusPass, StatusFail, StatusWarning, StatusError:
		return true
	default:
		return false
	}
}

// Risk labels how dangerous a remediation is.
type Risk string

const (
	RiskLow         Risk = "low"
	RiskMedium      Risk = "medium"
	RiskHigh        Risk = "high"
	RiskDestructive Risk = "destructive"
)

var riskRank = map[Risk]int{RiskLow: 1, RiskMedium: 2, RiskHigh: 3, RiskDestructive: 4}

// IsValid reports whether the risk is one of the known values.
func (r Risk) IsValid() bool {
	_, ok := riskRank[r]
	return ok
}

// Rank orders risks; unknown values rank zero.
func (r Risk) Rank() int {
	return riskRank[r]
}

// Mandatory reports whether this risk always needs human approval.
func (r Risk) Mandatory() bool {
	return r == RiskHigh || r == RiskDestructive
}

// MaxRisk returns the more severe of a and b.
func MaxRisk(a, b Risk) Risk {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Category groups checks for rendering so that "nothing is wrong" is never
// confused with "the check could not run".
type Category string

const (
	CategoryCompliant     Category = "compliant"
	CategoryAbsent        Category = "absent"
	CategoryDrift         Category = "drift"
	CategoryPartial       Category = "partial"
	CategoryTransport     Category = "transport"
	CategoryConfiguration Category = "configuration"
	CategoryCancelled     Category = "cancelled"
	CategoryInternal      Category = "internal"
)

// CheckResult is one classified comparison between desired and live state.
type CheckResult struct {
	ID               string   `json:"id"`
	Scope            string   `json:"scope"`
	Name             string   `json:"name"`
	Status           Status   `json:"status"`
	Category         Category `json:"category"`
	Message          string   `json:"message"`
	Diff             string   `json:"diff,omitempty"`
	SuggestedAction  string   `json:"suggestedAction,omitempty"`
	ChangeID         string   `json:"changeId,omitempty"`
	Risk             Risk     `json:"risk,omitempty"`
	RequiresApproval bool     `json:"requiresApproval,omitempty"`
}

// Normalize enforces that high and destructive remediations always require approval.
func (c *CheckResult) Normalize() {
	if c.Risk.Mandatory() {
		c.RequiresApproval = true
	}
	if c.Category == "" {
		switch c.Status {
		case StatusPass:
			c.Category = CategoryCompliant
		case StatusError:
			c.Category = CategoryTransport
		default:
			c.Category = CategoryDrift
		}
	}
}
