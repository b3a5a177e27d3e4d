package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/reconciler/internal/desired"
	"github.com/alexisbeaulieu97/reconciler/internal/model"
	reconerrors "github.com/alexisbeaulieu97/reconciler/pkg/errors"
)

const testSHA = "0123456789abcdef0123456789abcdef01234567"

type fakeRepo struct {
	mu         sync.Mutex
	labels     map[string]label
	protection map[string]json.RawMessage
	refs       map[string]string
	files      map[string]string
	calls      []string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		labels:     map[string]label{},
		protection: map[string]json.RawMessage{},
		refs:       map[string]string{"main": testSHA},
		files:      map[string]string{},
	}
}

func (f *fakeRepo) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)

	path := strings.TrimPrefix(r.URL.Path, "/repos/acme/web")
	switch {
	case path == "" && r.Method == http.MethodGet:
		_ = json.NewEncoder(w).Encode(map[string]string{"default_branch": "main"})
	case strings.HasPrefix(path, "/labels"):
		name := strings.TrimPrefix(strings.TrimPrefix(path, "/labels"), "/")
		switch r.Method {
		case http.MethodGet:
			l, ok := f.labels[name]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_ = json.NewEncoder(w).Encode(l)
		case http.MethodPost, http.MethodPatch:
			var l label
			_ = json.NewDecoder(r.Body).Decode(&l)
			f.labels[l.Name] = l
			w.WriteHeader(http.StatusCreated)
		}
	case strings.HasPrefix(path, "/branches/"):
		branch := strings.TrimSuffix(strings.TrimPrefix(path, "/branches/"), "/protection")
		switch r.Method {
		case http.MethodGet:
			p, ok := f.protection[branch]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_, _ = w.Write(p)
		case http.MethodPut:
			f.protection[branch] = json.RawMessage(`{"required_pull_request_reviews":{"required_approving_review_count":1},"enforce_admins":{"enabled":true},"required_status_checks":{"contexts":["ci"]}}`)
		}
	case strings.HasPrefix(path, "/git/ref/heads/"):
		sha, ok := f.refs[strings.TrimPrefix(path, "/git/ref/heads/")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"object": map[string]string{"sha": sha}})
	case path == "/git/refs" && r.Method == http.MethodPost:
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.refs[strings.TrimPrefix(body["ref"], "refs/heads/")] = body["sha"]
		w.WriteHeader(http.StatusCreated)
	case strings.HasPrefix(path, "/git/refs/heads/") && r.Method == http.MethodDelete:
		delete(f.refs, strings.TrimPrefix(path, "/git/refs/heads/"))
		w.WriteHeader(http.StatusNoContent)
	case strings.HasPrefix(path, "/contents/"):
		file := strings.TrimPrefix(path, "/contents/")
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.files[body["branch"]+":"+file] = body["content"]
		w.WriteHeader(http.StatusCreated)
	case path == "/pulls":
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"html_url": "https://example.test/acme/web/pull/7"})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newConnector(t *testing.T, spec desired.GitHubSpec) (*Connector, *fakeRepo) {
	t.Helper()
	fake := newFakeRepo()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	spec.Owner, spec.Repo = "acme", "web"
	return New(Config{BaseURL: srv.URL, Token: "ghp_test"}, &spec), fake
}

func TestAuditLabelsAndProtection(t *testing.T) {
	t.Parallel()

	conn, fake := newConnector(t, desired.GitHubSpec{
		Labels: []desired.Label{
			{Name: "bug", Color: "D73A4A"},
			{Name: "triage", Color: "ededed"},
			{Name: "needs review", Color: "0e8a16"},
		},
		BranchProtection: []desired.BranchProtection{
			{Branch: "main", RequiredReviews: 1, RequiredStatusChecks: []string{"ci"}, EnforceAdmins: true},
			{Branch: "release", RequiredReviews: 2},
		},
	})
	fake.labels["bug"] = label{Name: "bug", Color: "d73a4a"}
	fake.labels["triage"] = label{Name: "triage", Color: "000000"}
	fake.protection["main"] = json.RawMessage(`{"required_pull_request_reviews":{"required_approving_review_count":1},"enforce_admins":{"enabled":true},"required_status_checks":{"contexts":["ci"]}}`)

	results, err := conn.Audit(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 5)

	require.Equal(t, model.StatusPass, results[0].Status)

	require.Equal(t, model.StatusWarning, results[1].Status)
	require.Equal(t, "github.label.update.triage", results[1].ChangeID)
	require.Equal(t, model.RiskLow, results[1].Risk)

	require.Equal(t, model.StatusFail, results[2].Status)
	require.Equal(t, "github.label.create.needs review", results[2].ChangeID)

	require.Equal(t, model.StatusPass, results[3].Status)

	release := results[4]
	require.Equal(t, model.StatusFail, release.Status)
	require.Equal(t, model.CategoryAbsent, release.Category)
	require.Equal(t, model.RiskHigh, release.Risk)
	require.True(t, release.RequiresApproval)
}

func TestProtectionDriftListsStatusChecks(t *testing.T) {
	t.Parallel()

	conn, fake := newConnector(t, desired.GitHubSpec{
		BranchProtection: []desired.BranchProtection{{Branch: "main", RequiredReviews: 1, RequiredStatusChecks: []string{"ci", "lint"}}},
	})
	fake.protection["main"] = json.RawMessage(`{"required_pull_request_reviews":{"required_approving_review_count":1},"required_status_checks":{"contexts":["ci"]}}`)

	results, err := conn.Audit(context.Background())
	require.NoError(t, err)
	require.Equal(t, model.StatusFail, results[0].Status)
	require.Equal(t, "required_status_checks differs", results[0].Message)
	require.Contains(t, results[0].Diff, "-required_status_checks: ci,lint")
}

func TestApplyLabelIdempotent(t *testing.T) {
	t.Parallel()

	conn, fake := newConnector(t, desired.GitHubSpec{Labels: []desired.Label{{Name: "bug", Color: "d73a4a"}}})
	req := model.ChangeRequest{System: "github", ResourceType: "label", Action: "create", Name: "bug"}

	out, err := conn.Apply(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "label created", out.Message)

	out, err = conn.Apply(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "label already exists", out.Message)
	require.Equal(t, "d73a4a", fake.labels["bug"].Color)
}

func TestApplyProtection(t *testing.T) {
	t.Parallel()

	conn, _ := newConnector(t, desired.GitHubSpec{
		BranchProtection: []desired.BranchProtection{{Branch: "main", RequiredReviews: 1, RequiredStatusChecks: []string{"ci"}, EnforceAdmins: true}},
	})
	req := model.ChangeRequest{System: "github", ResourceType: "branch_protection", Action: "update", Name: "main"}

	out, err := conn.Apply(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "branch protection updated", out.Message)

	out, err = conn.Apply(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "branch protection already matches desired state", out.Message)
}

func TestReviewPublisherFlow(t *testing.T) {
	t.Parallel()

	conn, fake := newConnector(t, desired.GitHubSpec{})
	ctx := context.Background()

	base, err := conn.DefaultBranch(ctx)
	require.NoError(t, err)
	require.Equal(t, "main", base)

	sha, err := conn.BaseCommit(ctx, base)
	require.NoError(t, err)
	require.Equal(t, testSHA, sha)

	require.NoError(t, conn.CreateBranch(ctx, "reconcile/abc", sha))
	require.NoError(t, conn.PutFile(ctx, "reconcile/abc", "config/crons.json", []byte("{}"), "add crons"))
	url, err := conn.OpenPullRequest(ctx, "reconcile/abc", base, "Reconcile", "body")
	require.NoError(t, err)
	require.Equal(t, "https://example.test/acme/web/pull/7", url)
	require.Contains(t, fake.files, "reconcile/abc:config/crons.json")

	require.NoError(t, conn.DeleteBranch(ctx, "reconcile/abc"))
	require.NotContains(t, fake.refs, "reconcile/abc")
	require.NoError(t, conn.DeleteBranch(ctx, "reconcile/abc"))
}

func TestCreateBranchValidatesInputs(t *testing.T) {
	t.Parallel()

	conn, fake := newConnector(t, desired.GitHubSpec{})
	ctx := context.Background()

	var validationErr *reconerrors.ValidationError
	require.ErrorAs(t, conn.CreateBranch(ctx, "bad..name", testSHA), &validationErr)
	require.ErrorAs(t, conn.CreateBranch(ctx, "reconcile/ok", "not-a-sha"), &validationErr)
	require.Empty(t, fake.calls)
}

func TestIsConfiguredNeedsRepository(t *testing.T) {
	t.Parallel()

	require.False(t, New(Config{Token: "x"}, nil).IsConfigured())
	require.True(t, New(Config{Token: "x"}, &desired.GitHubSpec{Owner: "a", Repo: "b"}).IsConfigured())
	_, err := New(Config{}, nil).DefaultBranch(context.Background())
	var cfgErr *reconerrors.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}
