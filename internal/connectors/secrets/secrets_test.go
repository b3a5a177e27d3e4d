package secrets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/reconciler/internal/desired"
	"github.com/alexisbeaulieu97/reconciler/internal/model"
)

func TestAuditPresence(t *testing.T) {
	t.Parallel()

	conn := New(map[string]bool{"billing": true, "email": false}, &desired.SecretsSpec{
		Required: []string{"billing", "email", "hosting"},
	})
	require.True(t, conn.IsConfigured())
	require.False(t, conn.Capabilities().SupportsApply)

	results, err := conn.Audit(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, model.StatusPass, results[0].Status)
	require.Equal(t, "secrets.api_key.billing", results[0].ID)
	require.Equal(t, model.StatusFail, results[1].Status)
	require.Equal(t, model.StatusFail, results[2].Status)
	require.Contains(t, results[2].SuggestedAction, "[connectors.hosting]")
}

func TestAuditStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(nil, &desired.SecretsSpec{Required: []string{"billing"}}).Audit(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
