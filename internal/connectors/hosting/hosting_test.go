package hosting

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
)

type fakePlatform struct {
	mu      sync.Mutex
	envs    []envVar
	crons   []cronDefinition
	patches int
	teamIDs []string
}

func (f *fakePlatform) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teamIDs = append(f.teamIDs, r.URL.Query().Get("teamId"))

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/v9/projects/prj_1/env":
		_ = json.NewEncoder(w).Encode(map[string]any{"envs": f.envs})
	case r.Method == http.MethodGet && r.URL.Path == "/v9/projects/prj_1":
		_ = json.NewEncoder(w).Encode(map[string]any{"crons": map[string]any{"definitions": f.crons}})
	case r.Method == http.MethodPatch && strings.HasPrefix(r.URL.Path, "/v9/projects/prj_1/env/"):
		f.patches++
		id := strings.TrimPrefix(r.URL.Path, "/v9/projects/prj_1/env/")
		var body struct {
			Target []string `json:"target"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		for i := range f.envs {
			if f.envs[i].ID == id {
				f.envs[i].Target = body.Target
			}
		}
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newConnector(t *testing.T, spec *desired.HostingSpec, fake *fakePlatform) *Connector {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, Token: "tok", Project: "prj_1", Team: "team_1"}, spec)
}

func TestEnvMissingTargetNamesEnvironment(t *testing.T) {
	t.Parallel()

	fake := &fakePlatform{envs: []envVar{{ID: "env_1", Key: "API_TOKEN", Target: []string{"preview"}}}}
	conn := newConnector(t, &desired.HostingSpec{
		Env: []desired.EnvVar{{Key: "API_TOKEN", Targets: []string{"production", "preview"}}},
	}, fake)

	results, err := conn.Audit(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, model.StatusWarning, results[0].Status)
	require.Contains(t, results[0].Message, "production")
	require.NotContains(t, results[0].Message, "preview")
	require.Equal(t, "hosting.env.update.API_TOKEN", results[0].ChangeID)
	require.Equal(t, []string{"team_1"}, fake.teamIDs)
}

func TestEnvAbsentAndCompliant(t *testing.T) {
	t.Parallel()

	fake := &fakePlatform{envs: []envVar{
		{ID: "env_1", Key: "DATABASE_URL", Target: []string{"production"}},
		{ID: "env_2", Key: "DATABASE_URL", Target: []string{"preview"}},
	}}
	conn := newConnector(t, &desired.HostingSpec{Env: []desired.EnvVar{
		{Key: "DATABASE_URL", Targets: []string{"production", "preview"}},
		{Key: "SENTRY_DSN", Targets: []string{"production"}},
	}}, fake)

	results, err := conn.Audit(context.Background())
	require.NoError(t, err)
	require.Equal(t, model.StatusPass, results[0].Status)
	require.Equal(t, model.StatusFail, results[1].Status)
	require.Equal(t, model.CategoryAbsent, results[1].Category)
	require.Empty(t, results[1].ChangeID)
}

func TestApplyAddsTargetsOnce(t *testing.T) {
	t.Parallel()

	fake := &fakePlatform{envs: []envVar{{ID: "env_1", Key: "API_TOKEN", Target: []string{"preview"}}}}
	conn := newConnector(t, &desired.HostingSpec{
		Env: []desired.EnvVar{{Key: "API_TOKEN", Targets: []string{"production", "preview"}}},
	}, fake)
	req := model.ChangeRequest{System: "hosting", ResourceType: "env", Action: "update", Name: "API_TOKEN"}

	out, err := conn.Apply(context.Background(), req)
	require.NoError(t, err)
	require.True(t, out.Success)
	require.ElementsMatch(t, []string{"preview", "production"}, fake.envs[0].Target)

	out, err = conn.Apply(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "env var already present in all targets", out.Message)
	require.Equal(t, 1, fake.patches)
}

func TestCronsAndArtifacts(t *testing.T) {
	t.Parallel()

	fake := &fakePlatform{crons: []cronDefinition{{Path: "/api/cron/digest", Schedule: "0 9 * * 1"}}}
	conn := newConnector(t, &desired.HostingSpec{Crons: []desired.Cron{
		{Path: "/api/cron/digest", Schedule: "0 8 * * 1"},
		{Path: "/api/cron/cleanup", Schedule: "0 3 * * *"},
	}}, fake)

	results, err := conn.Audit(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, model.StatusWarning, results[0].Status)
	require.Equal(t, "hosting.cron.update./api/cron/digest", results[0].ChangeID)
	require.Equal(t, model.StatusFail, results[1].Status)
	require.Equal(t, "hosting.cron.create./api/cron/cleanup", results[1].ChangeID)

	req, err := model.ParseChangeID(results[1].ChangeID)
	require.NoError(t, err)
	artifacts, err := conn.Artifacts(req)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	require.Equal(t, CronConfigPath, artifacts[0].Path)
	require.Contains(t, string(artifacts[0].Content), `"/api/cron/cleanup"`)

	_, err = conn.Apply(context.Background(), req)
	require.Error(t, err)

	none, err := conn.Artifacts(model.ChangeRequest{System: "hosting", ResourceType: "env", Action: "update", Name: "X"})
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestConfiguredNeedsProject(t *testing.T) {
	t.Parallel()

	require.False(t, New(Config{Token: "tok"}, nil).IsConfigured())
	require.True(t, New(Config{Token: "tok", Project: "prj"}, nil).IsConfigured())
}
