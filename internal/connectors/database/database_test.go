package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/reconciler/internal/desired"
	"github.com/alexisbeaulieu97/reconciler/internal/model"
	reconerrors "github.com/alexisbeaulieu97/reconciler/pkg/errors"
)

type fakeCatalog struct {
	tables map[string]map[string]string
	err    error
	schema string
	closed bool
}

func (f *fakeCatalog) Columns(_ context.Context, schema string) (map[string]map[string]string, error) {
	f.schema = schema
	return f.tables, f.err
}

func (f *fakeCatalog) Close(context.Context) error {
	f.closed = true
	return nil
}

func opener(catalog *fakeCatalog) Opener {
	return func(context.Context, string) (Catalog, error) { return catalog, nil }
}

func fixedClock() time.Time { return time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC) }

func spec() *desired.DatabaseSpec {
	notCritical := false
	return &desired.DatabaseSpec{Tables: []desired.Table{
		{Name: "members", Columns: []desired.Column{{Name: "id", Type: "uuid"}, {Name: "email"}, {Name: "joined_at", Type: "timestamptz"}}},
		{Name: "events", Columns: []desired.Column{{Name: "id", Type: "uuid"}}},
		{Name: "rsvps", Columns: []desired.Column{{Name: "id"}}, Critical: &notCritical},
	}}
}

func TestAuditTablesAndColumns(t *testing.T) {
	t.Parallel()

	catalog := &fakeCatalog{tables: map[string]map[string]string{
		"members": {"id": "uuid", "email": "text", "legacy": "text"},
		"events":  {"id": "uuid"},
	}}
	conn := New(Config{DSN: "postgres://localhost/app"}, spec(), WithOpener(opener(catalog)))

	results, err := conn.Audit(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, "public", catalog.schema)
	require.True(t, catalog.closed)

	members := results[0]
	require.Equal(t, model.StatusWarning, members.Status)
	require.Equal(t, "missing columns: joined_at", members.Message)
	require.Equal(t, "database.column.add.members", members.ChangeID)
	require.Equal(t, model.RiskMedium, members.Risk)
	require.Contains(t, members.Diff, "-columns: email,id,joined_at")
	require.Contains(t, members.Diff, "+columns: email,id")

	require.Equal(t, model.StatusPass, results[1].Status)

	rsvps := results[2]
	require.Equal(t, model.StatusWarning, rsvps.Status)
	require.Equal(t, model.CategoryAbsent, rsvps.Category)
	require.Equal(t, "database.table.create.rsvps", rsvps.ChangeID)
	require.True(t, rsvps.RequiresApproval)
}

func TestAuditConnectFailureIsTransportError(t *testing.T) {
	t.Parallel()

	failing := func(context.Context, string) (Catalog, error) {
		return nil, reconerrors.NewTransportError("database", reconerrors.TransportNetwork, 0, errors.New("connection refused"))
	}
	conn := New(Config{DSN: "postgres://localhost/app"}, spec(), WithOpener(failing))

	results, err := conn.Audit(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		require.Equal(t, model.StatusError, r.Status)
		require.Empty(t, r.ChangeID)
	}
}

func TestArtifacts(t *testing.T) {
	t.Parallel()

	conn := New(Config{DSN: "x"}, spec(), WithClock(fixedClock))

	create, err := conn.Artifacts(model.ChangeRequest{System: "database", ResourceType: "table", Action: "create", Name: "members"})
	require.NoError(t, err)
	require.Len(t, create, 1)
	require.Equal(t, "supabase/migrations/20260301123000_reconcile_create_members.sql", create[0].Path)
	require.Equal(t, "CREATE TABLE IF NOT EXISTS \"public\".\"members\" (\n  \"id\" uuid,\n  \"email\" text,\n  \"joined_at\" timestamptz\n);\n", string(create[0].Content))

	add, err := conn.Artifacts(model.ChangeRequest{System: "database", ResourceType: "column", Action: "add", Name: "events"})
	require.NoError(t, err)
	require.Equal(t, "ALTER TABLE \"public\".\"events\" ADD COLUMN IF NOT EXISTS \"id\" uuid;\n", string(add[0].Content))

	_, err = conn.Artifacts(model.ChangeRequest{System: "database", ResourceType: "table", Action: "create", Name: "ghost"})
	require.Error(t, err)

	actions := conn.Describe(model.ChangeRequest{System: "database", ResourceType: "table", Action: "create", Name: "events"})
	require.Len(t, actions, 2)
	require.Equal(t, model.ActionSQL, actions[0].Type)
}

func TestArtifactsRejectUnsafeColumnType(t *testing.T) {
	t.Parallel()

	conn := New(Config{DSN: "x"}, &desired.DatabaseSpec{Tables: []desired.Table{
		{Name: "members", Columns: []desired.Column{{Name: "id", Type: "int; DROP TABLE members"}}},
	}})
	_, err := conn.Artifacts(model.ChangeRequest{System: "database", ResourceType: "table", Action: "create", Name: "members"})
	var validationErr *reconerrors.ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestReviewOnly(t *testing.T) {
	t.Parallel()

	conn := New(Config{}, nil)
	require.False(t, conn.IsConfigured())
	caps := conn.Capabilities()
	require.False(t, caps.SupportsApply)
	require.True(t, caps.SupportsReview)
	_, err := conn.Apply(context.Background(), model.ChangeRequest{})
	require.Error(t, err)
}
