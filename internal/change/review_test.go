package change

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/reconciler/internal/connector"
	"github.com/alexisbeaulieu97/reconciler/internal/connector/connectortest"
	"github.com/alexisbeaulieu97/reconciler/internal/model"
	reconerrors "github.com/alexisbeaulieu97/reconciler/pkg/errors"
)

const migrationID = "database.table.create.members"

func databaseFake(path string) *connectortest.Fake {
	return &connectortest.Fake{
		ConnectorName: "database",
		Caps:          connector.Capabilities{SupportsReview: true},
		ChangeRisk:    model.RiskHigh,
		Files: map[string][]connector.Artifact{
			migrationID: {{Path: path, Content: []byte("CREATE TABLE members ();\n"), Summary: "create members"}},
		},
	}
}

func TestReviewRejectsUnsafePathsBeforeAnyCall(t *testing.T) {
	t.Parallel()

	paths := []string{
		"../etc/passwd",
		"supabase/migrations/../../secrets.sql",
		"/supabase/migrations/x.sql",
		"supabase\\migrations\\x.sql",
		"supabase/migrations/x\x00.sql",
		"src/app.go",
	}
	for _, p := range paths {
		p := p
		t.Run(p, func(t *testing.T) {
			t.Parallel()
			publisher := &connectortest.Publisher{}
			engine := newEngine(t, publisher, nil, databaseFake(p))

			results := engine.Apply(context.Background(), Request{ChangeIDs: []string{migrationID}, GeneratePR: true})
			require.False(t, results[0].Success)
			require.Equal(t, model.PathReview, results[0].Path)
			require.Equal(t, StepValidatePaths, results[0].FailedStep)
			require.Empty(t, publisher.Calls())
		})
	}
}

func TestReviewOpensPullRequest(t *testing.T) {
	t.Parallel()

	publisher := &connectortest.Publisher{PRURL: "https://example.test/pull/1"}
	engine := newEngine(t, publisher, nil, databaseFake("supabase/migrations/20260301_create_members.sql"))

	results := engine.Apply(context.Background(), Request{ChangeIDs: []string{migrationID}, GeneratePR: true})
	require.True(t, results[0].Success, results[0].Error)
	require.Equal(t, model.PathReview, results[0].Path)
	require.Equal(t, "https://example.test/pull/1", results[0].PRURL)

	branch := "reconcile/database-create-abc123"
	require.Equal(t, []string{
		"base_commit main",
		"create_branch " + branch,
		"put_file supabase/migrations/20260301_create_members.sql",
		"open_pull_request " + branch + "->main",
	}, publisher.Calls())
	content, ok := publisher.File(branch, "supabase/migrations/20260301_create_members.sql")
	require.True(t, ok)
	require.Equal(t, "CREATE TABLE members ();\n", string(content))
}

func TestReviewOfGatedChangeIsAnnouncedForApproval(t *testing.T) {
	t.Parallel()

	publisher := &connectortest.Publisher{PRURL: "https://example.test/pull/7"}
	requester := &recordingRequester{}
	engine := newEngine(t, publisher, requester, databaseFake("supabase/migrations/20260301_create_members.sql"))

	results := engine.Apply(context.Background(), Request{ChangeIDs: []string{migrationID}, GeneratePR: true})
	require.True(t, results[0].Success, results[0].Error)
	require.Equal(t, model.PathReview, results[0].Path)
	require.Contains(t, results[0].Message, "approval requested")

	require.Len(t, requester.changes, 1)
	announced := requester.changes[0]
	require.Equal(t, migrationID, announced.ID)
	require.Equal(t, model.RiskHigh, announced.Risk)
	require.True(t, announced.RequiresApproval)
	last := announced.Actions[len(announced.Actions)-1]
	require.Equal(t, model.ActionPR, last.Type)
	require.Equal(t, "https://example.test/pull/7", last.Path)
}

func TestReviewStandsWhenAnnouncementFails(t *testing.T) {
	t.Parallel()

	publisher := &connectortest.Publisher{PRURL: "https://example.test/pull/8"}
	engine := newEngine(t, publisher, &recordingRequester{err: errors.New("chat unavailable")},
		databaseFake("supabase/migrations/20260301_create_members.sql"))

	results := engine.Apply(context.Background(), Request{ChangeIDs: []string{migrationID}, GeneratePR: true})
	require.True(t, results[0].Success)
	require.Equal(t, "https://example.test/pull/8", results[0].PRURL)
	require.Contains(t, results[0].Message, "approval request could not be sent")
}

func TestReviewCompensatesFailedStep(t *testing.T) {
	t.Parallel()

	publisher := &connectortest.Publisher{FailOn: map[string]error{
		connectortest.StepPutFile: reconerrors.NewTransportError("github", reconerrors.TransportStatus, 422, nil),
	}}
	engine := newEngine(t, publisher, nil, databaseFake("supabase/migrations/x.sql"))

	results := engine.Apply(context.Background(), Request{ChangeIDs: []string{migrationID}, GeneratePR: true})
	result := results[0]
	require.False(t, result.Success)
	require.Equal(t, StepPutFile, result.FailedStep)
	require.Empty(t, result.LeftBehind)
	require.Contains(t, publisher.Calls(), "delete_branch reconcile/database-create-abc123")
	require.Empty(t, publisher.Branches())
	require.NotContains(t, publisher.Calls(), "open_pull_request reconcile/database-create-abc123->main")
}

func TestReviewReportsLeftBehind(t *testing.T) {
	t.Parallel()

	publisher := &connectortest.Publisher{FailOn: map[string]error{
		connectortest.StepOpenPR:       reconerrors.NewTransportError("github", reconerrors.TransportTimeout, 0, context.DeadlineExceeded),
		connectortest.StepDeleteBranch: errors.New("forbidden"),
	}}
	engine := newEngine(t, publisher, nil, databaseFake("supabase/migrations/x.sql"))

	results := engine.Apply(context.Background(), Request{ChangeIDs: []string{migrationID}, GeneratePR: true})
	result := results[0]
	require.False(t, result.Success)
	require.Equal(t, StepOpenPR, result.FailedStep)
	require.Equal(t, []string{
		"pull request from reconcile/database-create-abc123 (state unknown)",
		"branch reconcile/database-create-abc123",
	}, result.LeftBehind)
}

func TestReviewWithoutPublisher(t *testing.T) {
	t.Parallel()

	engine := newEngine(t, nil, nil, databaseFake("supabase/migrations/x.sql"))
	results := engine.Apply(context.Background(), Request{ChangeIDs: []string{migrationID}, GeneratePR: true})
	require.False(t, results[0].Success)
	require.Equal(t, "no review publisher configured", results[0].Message)
}

func TestReviewBypassesApprovalGate(t *testing.T) {
	t.Parallel()

	publisher := &connectortest.Publisher{}
	requester := &recordingRequester{}
	engine := newEngine(t, publisher, requester, databaseFake("config/crons.json"))

	results := engine.Apply(context.Background(), Request{ChangeIDs: []string{migrationID}, GeneratePR: true})
	require.True(t, results[0].Success)
	require.Empty(t, requester.changes)
}

func TestReviewWithoutArtifactsFallsThrough(t *testing.T) {
	t.Parallel()

	hosting := &connectortest.Fake{ConnectorName: "hosting", Caps: connector.Capabilities{SupportsApply: true}}
	publisher := &connectortest.Publisher{}
	engine := newEngine(t, publisher, nil, hosting)

	results := engine.Apply(context.Background(), Request{ChangeIDs: []string{"hosting.env.update.API_TOKEN"}, GeneratePR: true})
	require.False(t, results[0].Success)
	require.Equal(t, model.PathNone, results[0].Path)
	require.Empty(t, publisher.Calls())
}

func TestValidateArtifactPaths(t *testing.T) {
	t.Parallel()

	ok := []connector.Artifact{{Path: "config/crons.json"}, {Path: "supabase/migrations/a/b.sql"}}
	require.NoError(t, ValidateArtifactPaths(ok, []string{"config/", "supabase/migrations"}))

	require.Error(t, ValidateArtifactPaths(ok, nil))
	require.Error(t, ValidateArtifactPaths([]connector.Artifact{{Path: "configuration/x"}}, []string{"config"}))
	require.Error(t, ValidateArtifactPaths([]connector.Artifact{{Path: "config/./../x"}}, []string{"config"}))
}
