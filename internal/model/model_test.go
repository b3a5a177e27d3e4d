package model

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestStatus_IsValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status Status
		want   bool
	}{
		{"pass is valid", StatusPass, true},
		{"fail is valid", StatusFail, true},
		{"warning is valid", StatusWarning, true},
		{"error is valid", StatusError, true},
		{"invalid status", Status("satisfied"), false},
		{"empty status", Status(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, tt.status.IsValid())
		})
	}
}

func TestNormalizeForcesApprovalOnHighRisk(t *testing.T) {
	t.Parallel()

	for _, risk := range []Risk{RiskHigh, RiskDestructive} {
		check := CheckResult{Status: StatusFail, ChangeID: "a.b.c.d", Risk: risk}
		check.Normalize()
		require.True(t, check.RequiresApproval, string(risk))
	}

	low := CheckResult{Status: StatusWarning, Risk: RiskLow}
	low.Normalize()
	require.False(t, low.RequiresApproval)
	require.Equal(t, CategoryDrift, low.Category)
}

func TestNormalizeKeepsExplicitCategory(t *testing.T) {
	t.Parallel()

	check := CheckResult{Status: StatusError, Category: CategoryConfiguration}
	check.Normalize()
	require.Equal(t, CategoryConfiguration, check.Category)

	transport := CheckResult{Status: StatusError}
	transport.Normalize()
	require.Equal(t, CategoryTransport, transport.Category)
}

func TestMaxRisk(t *testing.T) {
	t.Parallel()

	require.Equal(t, RiskHigh, MaxRisk(RiskLow, RiskHigh))
	require.Equal(t, RiskHigh, MaxRisk(RiskHigh, RiskMedium))
	require.Equal(t, RiskMedium, MaxRisk(Risk(""), RiskMedium))
	require.Equal(t, RiskLow, MaxRisk(RiskLow, Risk("bogus")))
}

func TestSummarizePartitionsChecks(t *testing.T) {
	t.Parallel()

	statuses := []Status{StatusPass, StatusFail, StatusWarning, StatusError}
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 50).Draw(t, "n")
		checks := make([]CheckResult, n)
		for i := range checks {
			checks[i].Status = rapid.SampledFrom(statuses).Draw(t, "status")
		}

		s := Summarize(checks)
		require.Equal(t, n, s.Total)
		require.Equal(t, s.Total, s.Passed+s.Failed+s.Warnings+s.Errors)
	})
}

func TestSummaryExitCode(t *testing.T) {
	t.Parallel()

	require.Equal(t, 0, Summary{Total: 2, Passed: 2}.ExitCode())
	require.Equal(t, 1, Summary{Total: 2, Passed: 1, Warnings: 1}.ExitCode())
	require.Equal(t, 3, Summary{Total: 2, Failed: 1, Errors: 1}.ExitCode())
	require.True(t, Summary{}.AllPassed())
}

func TestSortChecksGroupsByScope(t *testing.T) {
	t.Parallel()

	checks := []CheckResult{
		{ID: "storage.bucket.b", Scope: "storage"},
		{ID: "billing.price.x", Scope: "billing"},
		{ID: "storage.bucket.a", Scope: "storage"},
	}
	SortChecks(checks)

	require.Equal(t, "billing.price.x", checks[0].ID)
	require.Equal(t, "storage.bucket.a", checks[1].ID)
	require.Equal(t, "storage.bucket.b", checks[2].ID)

	report := &AuditReport{Checks: checks}
	require.Len(t, report.ByScope("storage"), 2)
}

func TestParseChangeID(t *testing.T) {
	t.Parallel()

	req, err := ParseChangeID("email.domain.verify.mail.example.com")
	require.NoError(t, err)
	require.Equal(t, ChangeRequest{System: "email", ResourceType: "domain", Action: "verify", Name: "mail.example.com"}, req)

	for _, bad := range []string{"", "storage", "storage.bucket.create", "Storage.bucket.create.x", "storage.bu cket.create.x", "storage.bucket.create. ", "storage.bucket.create.a\nb"} {
		_, err := ParseChangeID(bad)
		require.Error(t, err, bad)
	}
}

func TestChangeIDRoundTrip(t *testing.T) {
	t.Parallel()

	segment := rapid.StringMatching(`[a-z0-9_-]{1,12}`)
	rapid.Check(t, func(t *rapid.T) {
		req := ChangeRequest{
			System:       segment.Draw(t, "system"),
			ResourceType: segment.Draw(t, "resource"),
			Action:       segment.Draw(t, "action"),
			Name:         rapid.StringMatching(`[A-Za-z0-9_.@/-]{1,24}`).Draw(t, "name"),
		}
		parsed, err := ParseChangeID(req.String())
		require.NoError(t, err)
		require.Equal(t, req, parsed)
	})
}
