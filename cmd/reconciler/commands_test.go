package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/reconciler/internal/adminapi"
)

const missingPriceState = `version: "1.0.0"
billing:
  prices:
    - id: price_abc
`

type workspace struct {
	dir        string
	configPath string
}

func newWorkspace(t *testing.T, config, state string) workspace {
	t.Helper()

	dir := t.TempDir()
	configPath := filepath.Join(dir, "reconciler.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "desired.yaml"), []byte(state), 0o600))
	return workspace{dir: dir, configPath: configPath}
}

func (w workspace) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := newRootCmd()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(append([]string{"--config", w.configPath}, args...))
	err := root.Execute()
	return out.String(), err
}

func notFoundServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAuditReportsMissingPriceAsDrift(t *testing.T) {
	srv := notFoundServer(t)
	ws := newWorkspace(t, `state = "desired.yaml"

[connectors.billing]
base_url = "`+srv.URL+`"
token = "sk_test"
`, missingPriceState)

	out, err := ws.run(t, "audit", "--scope", "billing", "--json")
	require.Equal(t, exitDrift, exitCode(err))

	var report struct {
		Checks []struct {
			Scope   string `json:"scope"`
			Status  string `json:"status"`
			Message string `json:"message"`
		} `json:"checks"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.Checks, 1)
	require.Equal(t, "billing", report.Checks[0].Scope)
	require.Equal(t, "fail", report.Checks[0].Status)
	require.Contains(t, report.Checks[0].Message, "not found")
}

func TestAuditUnconfiguredScopeIsAnError(t *testing.T) {
	ws := newWorkspace(t, `state = "desired.yaml"`+"\n", missingPriceState)

	_, err := ws.run(t, "audit", "--scope", "billing")
	require.Equal(t, exitErrors, exitCode(err))
}

func TestAuditRejectsUnknownScope(t *testing.T) {
	ws := newWorkspace(t, `state = "desired.yaml"`+"\n", missingPriceState)

	_, err := ws.run(t, "audit", "--scope", "crmscript")
	require.Equal(t, exitConfig, exitCode(err))
}

func TestValidate(t *testing.T) {
	ws := newWorkspace(t, `state = "desired.yaml"

[connectors.billing]
token = "sk_test"
`, missingPriceState)

	out, err := ws.run(t, "validate")
	require.NoError(t, err)
	require.Contains(t, out, "version 1.0.0")
	require.Contains(t, out, "billing   credentials present")
	require.Contains(t, out, "email     no credentials")
	require.Contains(t, out, "configuration is valid")
}

func TestValidateRejectsBrokenDocuments(t *testing.T) {
	cases := map[string]struct {
		config string
		state  string
	}{
		"bad state":      {config: `state = "desired.yaml"` + "\n", state: "version: [1, 0\n"},
		"unknown system": {config: "[connectors.crm]\ntoken = \"x\"\n", state: missingPriceState},
		"missing state":  {config: `state = "nope.yaml"` + "\n", state: missingPriceState},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			ws := newWorkspace(t, tc.config, tc.state)
			_, err := ws.run(t, "validate")
			require.Error(t, err)
			require.Equal(t, exitConfig, exitCode(err))
		})
	}
}

func TestMissingConfigFileIsAConfigError(t *testing.T) {
	ws := workspace{configPath: filepath.Join(t.TempDir(), "absent.toml")}

	_, err := ws.run(t, "validate")
	require.Equal(t, exitConfig, exitCode(err))
}

func TestApplyReportsMalformedChangeID(t *testing.T) {
	ws := newWorkspace(t, `state = "desired.yaml"`+"\n", missingPriceState)

	out, err := ws.run(t, "apply", "--json", "nope")
	require.Equal(t, exitDrift, exitCode(err))

	var payload struct {
		Results []struct {
			ChangeID string `json:"changeId"`
			Success  bool   `json:"success"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	require.Len(t, payload.Results, 1)
	require.Equal(t, "nope", payload.Results[0].ChangeID)
	require.False(t, payload.Results[0].Success)
}

func TestApplyHasNoLocalApproveFlag(t *testing.T) {
	ws := newWorkspace(t, `state = "desired.yaml"`+"\n", missingPriceState)

	_, err := ws.run(t, "apply", "--direct", "--approve", "storage.bucket.update.media", "storage.bucket.update.media")
	require.Equal(t, exitConfig, exitCode(err))
}

func TestTokenIssuesVerifiableToken(t *testing.T) {
	ws := newWorkspace(t, `state = "desired.yaml"

[server]
jwt_secret = "s3cret"
`, missingPriceState)

	out, err := ws.run(t, "token", "--subject", "ops", "--role", adminapi.RoleOwner, "--ttl", "10m")
	require.NoError(t, err)

	claims := &adminapi.Claims{}
	_, err = jwt.ParseWithClaims(string(bytes.TrimSpace([]byte(out))), claims, func(*jwt.Token) (any, error) {
		return []byte("s3cret"), nil
	})
	require.NoError(t, err)
	require.Equal(t, "ops", claims.Subject)
	require.Equal(t, adminapi.RoleOwner, claims.Role)
	require.WithinDuration(t, time.Now().Add(10*time.Minute), claims.ExpiresAt.Time, time.Minute)
}

func TestTokenRejectsUnknownRole(t *testing.T) {
	ws := newWorkspace(t, `state = "desired.yaml"`+"\n", missingPriceState)

	_, err := ws.run(t, "token", "--subject", "ops", "--role", "viewer")
	require.Equal(t, exitConfig, exitCode(err))
}

func TestServeRequiresJWTSecret(t *testing.T) {
	ws := newWorkspace(t, `state = "desired.yaml"`+"\n", missingPriceState)

	_, err := ws.run(t, "serve")
	require.Equal(t, exitConfig, exitCode(err))
}

func TestDashboardFallsBackToPlainReport(t *testing.T) {
	original := isTerminal
	isTerminal = func() bool { return false }
	t.Cleanup(func() { isTerminal = original })

	srv := notFoundServer(t)
	ws := newWorkspace(t, `state = "desired.yaml"

[connectors.billing]
base_url = "`+srv.URL+`"
token = "sk_test"
`, missingPriceState)

	out, err := ws.run(t, "dashboard", "--scope", "billing")
	require.Equal(t, exitDrift, exitCode(err))
	require.Contains(t, out, "billing")
	require.Contains(t, out, "not found")
}
