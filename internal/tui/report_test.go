package tui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/reconciler/internal/model"
)

func TestRenderReport(t *testing.T) {
	t.Parallel()

	report := &model.AuditReport{
		ID:        "run-1",
		Mode:      model.ModePlan,
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Checks: []model.CheckResult{
			{ID: "billing.price.price_abc", Scope: "billing", Status: model.StatusFail, Category: model.CategoryAbsent, Message: "price price_abc not found"},
			{ID: "email.audit", Scope: "email", Status: model.StatusError, Category: model.CategoryTransport, Message: "error: email unreachable (network)"},
			{
				ID: "hosting.env.API_TOKEN", Scope: "hosting", Status: model.StatusWarning, Category: model.CategoryDrift,
				Message: "API_TOKEN missing from: production", Diff: "-a\n+b",
				ChangeID: "hosting.env.update.API_TOKEN", Risk: model.RiskMedium, SuggestedAction: "add the production target",
			},
		},
		Changes: []model.Change{{
			ID: "hosting.env.update.API_TOKEN", Risk: model.RiskMedium,
			Actions: []model.ChangeAction{{Type: model.ActionAPI, Description: "PATCH env API_TOKEN"}},
		}},
	}
	report.Summary = model.Summarize(report.Checks)

	out := RenderReport(report)
	require.Contains(t, out, "Audit run-1 • plan • 2026-03-01T12:00:00Z")
	require.Contains(t, out, "billing.price.price_abc")
	require.Contains(t, out, "[absent]")
	require.Contains(t, out, "[transport]")
	require.Contains(t, out, "missing from: production")
	require.Contains(t, out, "change hosting.env.update.API_TOKEN (risk medium)")
	require.Contains(t, out, "Planned changes")
	require.Contains(t, out, "api: PATCH env API_TOKEN")
	require.Contains(t, out, "Checks: 3 total, 0 passed, 1 failed, 1 warnings, 1 errors")
	require.Contains(t, out, "Some checks could not complete")
	require.Empty(t, RenderReport(nil))
}

func TestRenderApplyResults(t *testing.T) {
	t.Parallel()

	out := RenderApplyResults([]model.ApplyResult{
		{ChangeID: "storage.bucket.create.avatars", Success: true, Path: model.PathDirect, Message: "created"},
		{
			ChangeID: "database.table.create.users", Path: model.PathReview, Message: "review failed",
			Error: "step open_pull_request failed", FailedStep: "open_pull_request",
			LeftBehind: []string{"branch reconcile/database-create-abc"},
		},
	})
	require.Contains(t, out, "storage.bucket.create.avatars via direct: created")
	require.Contains(t, out, "failed step: open_pull_request")
	require.Contains(t, out, "left behind: branch reconcile/database-create-abc")
}
