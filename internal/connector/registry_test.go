package connector_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/reconciler/internal/connector"
	"github.com/alexisbeaulieu97/reconciler/internal/connector/connectortest"
	reconerrors "github.com/alexisbeaulieu97/reconciler/pkg/errors"
)

func newRegistry(t *testing.T, names ...string) *connector.Registry {
	t.Helper()
	reg := connector.NewRegistry()
	for _, name := range names {
		require.NoError(t, reg.Register(&connectortest.Fake{ConnectorName: name}))
	}
	return reg
}

func TestRegisterRejectsDuplicatesAndBadNames(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t, "storage")
	require.Error(t, reg.Register(&connectortest.Fake{ConnectorName: "storage"}))
	require.Error(t, reg.Register(&connectortest.Fake{ConnectorName: "bad name"}))
	require.Error(t, reg.Register(nil))
}

func TestResolveAll(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t, "storage", "billing", "hosting")
	for _, scope := range [][]string{nil, {"all"}} {
		sel, err := reg.Resolve(scope)
		require.NoError(t, err)
		require.False(t, sel.Explicit)
		require.Len(t, sel.Connectors, 3)
		require.Equal(t, "billing", sel.Connectors[0].Name())
	}
}

func TestResolveSubset(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t, "storage", "billing", "hosting")
	sel, err := reg.Resolve([]string{"storage", "billing", "storage"})
	require.NoError(t, err)
	require.True(t, sel.Explicit)
	require.Len(t, sel.Connectors, 2)
	require.Equal(t, "billing", sel.Connectors[0].Name())
	require.Equal(t, "storage", sel.Connectors[1].Name())
}

func TestResolveUnknownIsSanitized(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t, "storage")
	_, err := reg.Resolve([]string{"storage", "crm'; DROP TABLE x;--"})
	var validationErr *reconerrors.ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Contains(t, err.Error(), "crmDROPTABLEx--")
	require.NotContains(t, err.Error(), ";")

	_, err = reg.Resolve([]string{"all", "storage"})
	require.Error(t, err)
}
