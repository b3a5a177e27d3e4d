// Package database audits required tables and columns in PostgreSQL. Changes
// are never executed; they are proposed as migration files for review.
package database

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alexisbeaulieu97/reconciler/internal/connector"
	"github.com/alexisbeaulieu97/reconciler/internal/desired"
	"github.com/alexisbeaulieu97/reconciler/internal/model"
	reconerrors "github.com/alexisbeaulieu97/reconciler/pkg/errors"
)

// MigrationDir is where proposed migrations are written.
const MigrationDir = "supabase/migrations"

const (
	defaultSchema     = "public"
	defaultColumnType = "text"

	resourceTable  = "table"
	resourceColumn = "column"
	actionCreate   = "create"
	actionAdd      = "add"
)

var columnTypePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9 _(),\[\]]{0,63}$`)

// Config is the database credential bundle.
type Config struct {
	DSN     string
	Timeout time.Duration
}

// Option customizes a Connector.
type Option func(*Connector)

// WithOpener replaces the PostgreSQL opener.
func WithOpener(open Opener) Option {
	return func(c *Connector) { c.open = open }
}

// WithClock sets the clock used to timestamp migration files.
func WithClock(now func() time.Time) Option {
	return func(c *Connector) { c.now = now }
}

// Connector implements connector.Connector, connector.ArtifactProvider and connector.Planner.
type Connector struct {
	cfg  Config
	spec desired.DatabaseSpec
	open Opener
	now  func() time.Time
}

// New builds a database connector.
func New(cfg Config, spec *desired.DatabaseSpec, opts ...Option) *Connector {
	c := &Connector{cfg: cfg, open: OpenPostgres, now: time.Now}
	if spec != nil {
		c.spec = *spec
	}
	if c.spec.Schema == "" {
		c.spec.Schema = defaultSchema
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Connector) Name() string { return desired.SystemDatabase }

func (c *Connector) Capabilities() connector.Capabilities {
	return connector.Capabilities{SupportsReview: true}
}

func (c *Connector) IsConfigured() bool { return c.cfg.DSN != "" }

func (c *Connector) Audit(ctx context.Context) ([]model.CheckResult, error) {
	if len(c.spec.Tables) == 0 {
		return nil, nil
	}
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	live, err := c.readColumns(ctx)
	results := make([]model.CheckResult, 0, len(c.spec.Tables))
	for _, want := range c.spec.Tables {
		r := connector.Resource{Scope: desired.SystemDatabase, Type: resourceTable, Name: want.Name}
		critical := desired.IsCritical(want.Critical)
		if err != nil {
			results = append(results, connector.FromError(r, critical, err))
			continue
		}

		columns, ok := live[want.Name]
		if !ok {
			check := connector.Absent(r, critical, fmt.Sprintf("table %s.%s not found", c.spec.Schema, want.Name))
			results = append(results, connector.Remediable(check, r.Change(actionCreate), model.RiskHigh, "propose a migration creating "+want.Name))
			continue
		}

		missing := missingColumns(want, columns)
		if len(missing) == 0 {
			results = append(results, connector.Compliant(r, "table has all declared columns"))
			continue
		}
		cmp := connector.NewComparison().Field("columns", declaredColumns(want), presentColumns(want, columns))
		check := connector.Drifted(r, false, "missing columns: "+strings.Join(missing, ", "), cmp.Diff())
		req := model.ChangeRequest{System: desired.SystemDatabase, ResourceType: resourceColumn, Action: actionAdd, Name: want.Name}
		results = append(results, connector.Remediable(check, req, model.RiskMedium, "propose a migration adding "+strings.Join(missing, ", ")))
	}
	return results, nil
}

func (c *Connector) readColumns(ctx context.Context) (map[string]map[string]string, error) {
	catalog, err := c.open(ctx, c.cfg.DSN)
	if err != nil {
		return nil, err
	}
	defer func() { _ = catalog.Close(context.WithoutCancel(ctx)) }()
	return catalog.Columns(ctx, c.spec.Schema)
}

// Apply is never called; schema changes only go through review.
func (c *Connector) Apply(context.Context, model.ChangeRequest) (connector.Outcome, error) {
	return connector.Outcome{}, reconerrors.NewValidationError("database", "schema changes are applied through review", nil)
}

// Artifacts renders an idempotent migration for req.
func (c *Connector) Artifacts(req model.ChangeRequest) ([]connector.Artifact, error) {
	table, ok := c.lookup(req.Name)
	if !ok {
		return nil, reconerrors.NewValidationError("name", fmt.Sprintf("table %q is not declared", req.Name), nil)
	}

	var sql string
	var err error
	switch {
	case req.ResourceType == resourceTable && req.Action == actionCreate:
		sql, err = createTableSQL(c.spec.Schema, table)
	case req.ResourceType == resourceColumn && req.Action == actionAdd:
		sql, err = addColumnsSQL(c.spec.Schema, table)
	default:
		return nil, reconerrors.NewValidationError("action", fmt.Sprintf("unsupported database change %s.%s", req.ResourceType, req.Action), nil)
	}
	if err != nil {
		return nil, err
	}

	name := fmt.Sprintf("%s_reconcile_%s_%s.sql", c.now().UTC().Format("20060102150405"), req.Action, table.Name)
	return []connector.Artifact{{
		Path:    MigrationDir + "/" + name,
		Content: []byte(sql),
		Summary: fmt.Sprintf("%s %s %s", req.Action, req.ResourceType, table.Name),
	}}, nil
}

// Describe lists the SQL a change would propose.
func (c *Connector) Describe(req model.ChangeRequest) []model.ChangeAction {
	artifacts, err := c.Artifacts(req)
	if err != nil || len(artifacts) == 0 {
		return nil
	}
	return []model.ChangeAction{
		{Type: model.ActionSQL, Description: artifacts[0].Summary, Path: artifacts[0].Path, Content: string(artifacts[0].Content)},
		{Type: model.ActionPR, Description: "open pull request with migration"},
	}
}

func (c *Connector) lookup(name string) (desired.Table, bool) {
	for _, t := range c.spec.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return desired.Table{}, false
}

func createTableSQL(schema string, table desired.Table) (string, error) {
	defs := make([]string, 0, len(table.Columns))
	for _, col := range table.Columns {
		def, err := columnDef(col)
		if err != nil {
			return "", err
		}
		defs = append(defs, "  "+def)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", pgx.Identifier{schema, table.Name}.Sanitize())
	b.WriteString(strings.Join(defs, ",\n"))
	b.WriteString("\n);\n")
	return b.String(), nil
}

func addColumnsSQL(schema string, table desired.Table) (string, error) {
	var b strings.Builder
	ident := pgx.Identifier{schema, table.Name}.Sanitize()
	for _, col := range table.Columns {
		def, err := columnDef(col)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s;\n", ident, def)
	}
	return b.String(), nil
}

func columnDef(col desired.Column) (string, error) {
	typ := col.Type
	if typ == "" {
		typ = defaultColumnType
	}
	if !columnTypePattern.MatchString(typ) {
		return "", reconerrors.NewValidationError("type", fmt.Sprintf("unsupported column type for %s", col.Name), nil)
	}
	return pgx.Identifier{col.Name}.Sanitize() + " " + typ, nil
}

func missingColumns(want desired.Table, live map[string]string) []string {
	var missing []string
	for _, col := range want.Columns {
		if _, ok := live[col.Name]; !ok {
			missing = append(missing, col.Name)
		}
	}
	sort.Strings(missing)
	return missing
}

func declaredColumns(want desired.Table) string {
	names := make([]string, 0, len(want.Columns))
	for _, col := range want.Columns {
		names = append(names, col.Name)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

func presentColumns(want desired.Table, live map[string]string) string {
	names := make([]string, 0, len(want.Columns))
	for _, col := range want.Columns {
		if _, ok := live[col.Name]; ok {
			names = append(names, col.Name)
		}
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// Risk rates req: creating a table is high, adding columns medium.
func (c *Connector) Risk(req model.ChangeRequest) model.Risk {
	if req.ResourceType == resourceTable {
		return model.RiskHigh
	}
	return model.RiskMedium
}
