package connectors

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/reconciler/internal/desired"
	"github.com/alexisbeaulieu97/reconciler/internal/settings"
)

func TestBuildRegistersEverySystem(t *testing.T) {
	t.Parallel()

	cfg, err := settings.Parse([]byte(`
[connectors.billing]
token = "sk_test"

[connectors.github]
token = "ghp_test"

[connectors.database]
dsn = "postgres://localhost/app"
`), "test.toml", func(string) (string, bool) { return "", false })
	require.NoError(t, err)

	state := &desired.State{Version: "1.0", GitHub: &desired.GitHubSpec{Owner: "acme", Repo: "web"}}
	reg, err := Build(cfg, state, Deps{})
	require.NoError(t, err)
	require.Equal(t, desired.Systems, reg.Names())

	configured := map[string]bool{}
	for _, name := range reg.Names() {
		c, ok := reg.Get(name)
		require.True(t, ok)
		configured[name] = c.IsConfigured()
	}
	require.Equal(t, map[string]bool{
		"billing":  true,
		"database": true,
		"email":    false,
		"github":   true,
		"hosting":  false,
		"secrets":  true,
		"storage":  false,
	}, configured)

	publisher, ok := ReviewPublisher(reg)
	require.True(t, ok)
	require.NotNil(t, publisher)
}

func TestPresence(t *testing.T) {
	t.Parallel()

	cfg, err := settings.Parse([]byte(`
[connectors.email]
token = "${RESEND_KEY}"
[connectors.storage]
token = "key"
`), "test.toml", func(string) (string, bool) { return "", false })
	require.NoError(t, err)

	present := Presence(cfg)
	require.True(t, present["storage"])
	require.False(t, present["email"])
	require.False(t, present["billing"])
}

func TestReviewPublisherRequiresConfiguration(t *testing.T) {
	t.Parallel()

	cfg, err := settings.Parse(nil, "empty.toml", func(string) (string, bool) { return "", false })
	require.NoError(t, err)
	reg, err := Build(cfg, nil, Deps{})
	require.NoError(t, err)
	_, ok := ReviewPublisher(reg)
	require.False(t, ok)
}
