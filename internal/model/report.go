package model

import (
	"sort"
	"time"
)

// Summary counts checks by status. Every check is counted exactly once.
type Summary struct {
	Total    int `json:"total"`
	Passed   int `json:"passed"`
	Failed   int `json:"failed"`
	Warnings int `json:"warnings"`
	Errors   int `json:"errors"`
}

// Summarize partitions checks by status. Unknown statuses count as errors.
func Summarize(checks []CheckResult) Summary {
	s := Summary{Total: len(checks)}
	for _, check := range checks {
		switch check.Status {
		case StatusPass:
			s.Passed++
		case StatusFail:
			s.Failed++
		case StatusWarning:
			s.Warnings++
		default:
			s.Errors++
		}
	}
	return s
}

// AllPassed reports whether every check passed.
func (s Summary) AllPassed() bool {
	return s.Total == s.Passed
}

// ExitCode maps the summary to the CLI convention: 0 clean, 1 drift, 3 errors.
func (s Summary) ExitCode() int {
	switch {
	case s.Errors > 0:
		return 3
	case s.Failed > 0 || s.Warnings > 0:
		return 1
	default:
		return 0
	}
}

// Mode selects what an audit produces.
type Mode string

const (
	// ModeCheck produces checks only.
	ModeCheck Mode = "check"
	// ModePlan also derives structured changes for remediable checks.
	ModePlan Mode = "plan"
)

// AuditReport aggregates one audit invocation.
type AuditReport struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Mode      Mode          `json:"mode"`
	Scope     []string      `json:"scope"`
	Checks    []CheckResult `json:"checks"`
	Summary   Summary       `json:"summary"`
	Changes   []Change      `json:"changes,omitempty"`
}

// SortChecks groups checks by scope, then orders by ID.
func SortChecks(checks []CheckResult) {
	sort.SliceStable(checks, func(i, j int) bool {
		if checks[i].Scope != checks[j].Scope {
			return checks[i].Scope < checks[j].Scope
		}
		return checks[i].ID < checks[j].ID
	})
}

// ByScope returns the checks belonging to scope.
func (r *AuditReport) ByScope(scope string) []CheckResult {
	if r == nil {
		return nil
	}
	var out []CheckResult
	for _, check := range r.Checks {
		if check.Scope == scope {
			out = append(out, check)
		}
	}
	return out
}
