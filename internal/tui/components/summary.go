package components

import (
	"fmt"
	"strings"

	"github.com/alexisbeaulieu97/reconciler/internal/model"
)

// SummaryData aggregates counts for rendering summaries.
type SummaryData struct {
	Summary   model.Summary
	Finished  bool
	Cancelled bool
	Err       error
}

// Summary renders a textual audit summary.
type Summary struct {
	data SummaryData
}

// NewSummary creates a new Summary component.
func NewSummary(data SummaryData) Summary {
	return Summary{data: data}
}

// View renders the summary.
func (s Summary) View() string {
	var lines []string
	sum := s.data.Summary
	if sum.Total > 0 {
		lines = append(lines, fmt.Sprintf("Checks: %d total, %d passed, %d failed, %d warnings, %d errors",
			sum.Total, sum.Passed, sum.Failed, sum.Warnings, sum.Errors))
	}

	switch {
	case s.data.Err != nil:
		lines = append(lines, "Audit failed: "+s.data.Err.Error())
	case s.data.Cancelled:
		lines = append(lines, "Audit cancelled")
	case s.data.Finished && sum.Total == 0:
		lines = append(lines, "No checks ran")
	case s.data.Finished && sum.AllPassed():
		lines = append(lines, "Everything matches the desired state")
	case s.data.Finished && sum.Errors > 0:
		lines = append(lines, "Some checks could not complete")
	case s.data.Finished:
		lines = append(lines, "Drift detected")
	}

	return strings.Join(lines, "\n")
}
