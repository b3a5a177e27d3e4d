// Package hosting audits deployment-platform environment variables and cron
// schedules. Missing env targets are applied directly; crons are proposed as a
// configuration fragment for review.
package hosting

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/alexisbeaulieu97/reconciler/internal/connector"
	"github.com/alexisbeaulieu97/reconciler/internal/connector/httpapi"
	"github.com/alexisbeaulieu97/reconciler/internal/desired"
	"github.com/alexisbeaulieu97/reconciler/internal/model"
	reconerrors "github.com/alexisbeaulieu97/reconciler/pkg/errors"
)

// DefaultBaseURL is the deployment platform API root.
const DefaultBaseURL = "https://api.vercel.com"

// CronConfigPath is where the proposed cron configuration fragment is written.
const CronConfigPath = "config/hosting-crons.json"

const (
	resourceEnv  = "env"
	resourceCron = "cron"
	actionCreate = "create"
	actionUpdate = "update"
)

// Config is the hosting credential bundle.
type Config struct {
	BaseURL    string
	Token      string
	Project    string
	Team       string
	Timeout    time.Duration
	HTTPClient *http.Client
}

type envVar struct {
	ID     string   `json:"id"`
	Key    string   `json:"key"`
	Target []string `json:"target"`
}

type cronDefinition struct {
	Path     string `json:"path"`
	Schedule string `json:"schedule"`
}

type project struct {
	Crons *struct {
		Definitions []cronDefinition `json:"definitions"`
	} `json:"crons"`
}

// Connector implements connector.Connector, connector.ArtifactProvider and connector.Planner.
type Connector struct {
	cfg       Config
	spec      desired.HostingSpec
	client    *httpapi.Client
	clientErr error
}

// New builds a hosting connector.
func New(cfg Config, spec *desired.HostingSpec) *Connector {
	c := &Connector{cfg: cfg}
	if spec != nil {
		c.spec = *spec
	}
	if c.cfg.BaseURL == "" {
		c.cfg.BaseURL = DefaultBaseURL
	}
	if c.IsConfigured() {
		var query url.Values
		if cfg.Team != "" {
			query = url.Values{"teamId": {cfg.Team}}
		}
		c.client, c.clientErr = httpapi.New(httpapi.Options{
			System:     desired.SystemHosting,
			BaseURL:    c.cfg.BaseURL,
			Token:      cfg.Token,
			Timeout:    cfg.Timeout,
			Query:      query,
			HTTPClient: cfg.HTTPClient,
		})
	}
	return c
}

func (c *Connector) Name() string { return desired.SystemHosting }

func (c *Connector) Capabilities() connector.Capabilities {
	return connector.Capabilities{SupportsApply: true, SupportsReview: true}
}

func (c *Connector) IsConfigured() bool {
	return c.cfg.Token != "" && c.cfg.Project != ""
}

func (c *Connector) Audit(ctx context.Context) ([]model.CheckResult, error) {
	if c.clientErr != nil {
		return nil, c.clientErr
	}

	var results []model.CheckResult
	if len(c.spec.Env) > 0 {
		live, err := c.listEnv(ctx)
		for _, want := range c.spec.Env {
			r := connector.Resource{Scope: desired.SystemHosting, Type: resourceEnv, Name: want.Key}
			if err != nil {
				results = append(results, connector.FromError(r, desired.IsCritical(want.Critical), err))
				continue
			}
			results = append(results, auditEnv(r, want, live))
		}
	}

	if len(c.spec.Crons) > 0 {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		live, err := c.listCrons(ctx)
		for _, want := range c.spec.Crons {
			r := connector.Resource{Scope: desired.SystemHosting, Type: resourceCron, Name: want.Path}
			if err != nil {
				results = append(results, connector.FromError(r, true, err))
				continue
			}
			results = append(results, auditCron(r, want, live))
		}
	}
	return results, nil
}

func auditEnv(r connector.Resource, want desired.EnvVar, live []envVar) model.CheckResult {
	targets, found := liveTargets(want.Key, live)
	if !found {
		check := connector.Absent(r, desired.IsCritical(want.Critical), fmt.Sprintf("env var %s not found", want.Key))
		return connector.Manual(check, fmt.Sprintf("add %s to the project for %s", want.Key, strings.Join(want.Targets, ", ")))
	}

	missing := mapset.NewSet[string](want.Targets...).Difference(targets).ToSlice()
	if len(missing) == 0 {
		return connector.Compliant(r, "env var present in all targets")
	}
	sort.Strings(missing)
	cmp := connector.NewComparison().Field("targets", sortedJoin(mapset.NewSet[string](want.Targets...)), sortedJoin(targets))
	check := connector.Drifted(r, false, fmt.Sprintf("%s missing from: %s", want.Key, strings.Join(missing, ", ")), cmp.Diff())
	return connector.Remediable(check, r.Change(actionUpdate), model.RiskMedium, "add "+want.Key+" to "+strings.Join(missing, ", "))
}

func auditCron(r connector.Resource, want desired.Cron, live []cronDefinition) model.CheckResult {
	for _, def := range live {
		if def.Path != want.Path {
			continue
		}
		if strings.Join(strings.Fields(def.Schedule), " ") == strings.Join(strings.Fields(want.Schedule), " ") {
			return connector.Compliant(r, "cron scheduled as declared")
		}
		cmp := connector.NewComparison().Field("schedule", want.Schedule, def.Schedule)
		check := connector.Drifted(r, false, cmp.Summary(), cmp.Diff())
		return connector.Remediable(check, r.Change(actionUpdate), model.RiskMedium, "propose updated cron configuration")
	}
	check := connector.Absent(r, true, fmt.Sprintf("cron %s not found", want.Path))
	return connector.Remediable(check, r.Change(actionCreate), model.RiskMedium, "propose cron configuration")
}

func (c *Connector) Apply(ctx context.Context, req model.ChangeRequest) (connector.Outcome, error) {
	if c.clientErr != nil {
		return connector.Outcome{}, c.clientErr
	}
	switch req.ResourceType {
	case resourceEnv:
		if req.Action != actionUpdate {
			return connector.Outcome{}, reconerrors.NewValidationError("action", "env vars only support adding targets", nil)
		}
		return c.addTargets(ctx, req.Name)
	case resourceCron:
		return connector.Outcome{}, reconerrors.NewValidationError("resourceType", "crons are applied through review", nil)
	}
	return connector.Outcome{}, reconerrors.NewValidationError("resourceType", fmt.Sprintf("hosting cannot apply %q", req.ResourceType), nil)
}

func (c *Connector) addTargets(ctx context.Context, key string) (connector.Outcome, error) {
	want, ok := c.lookupEnv(key)
	if !ok {
		return connector.Outcome{}, reconerrors.NewValidationError("name", fmt.Sprintf("env var %q is not declared", key), nil)
	}

	live, err := c.listEnv(ctx)
	if err != nil {
		return connector.Outcome{}, err
	}
	targets, found := liveTargets(key, live)
	if !found {
		return connector.Outcome{}, fmt.Errorf("env var %s: %w", key, reconerrors.ErrNotFound)
	}
	if mapset.NewSet[string](want.Targets...).IsSubset(targets) {
		return connector.Outcome{Success: true, Message: "env var already present in all targets"}, nil
	}

	var entry envVar
	for _, e := range live {
		if e.Key == key {
			entry = e
			break
		}
	}
	missing := mapset.NewSet[string](want.Targets...).Difference(targets)
	union := mapset.NewSet[string](entry.Target...).Union(missing).ToSlice()
	sort.Strings(union)

	path := "v9/projects/" + c.cfg.Project + "/env/" + entry.ID
	if _, err := c.client.Do(ctx, http.MethodPatch, path, nil, map[string]any{"target": union}, nil); err != nil {
		return connector.Outcome{}, err
	}
	return connector.Outcome{Success: true, Message: "env var targets updated: " + strings.Join(union, ", ")}, nil
}

// Artifacts materializes the full declared cron set as a configuration fragment.
func (c *Connector) Artifacts(req model.ChangeRequest) ([]connector.Artifact, error) {
	if req.ResourceType != resourceCron {
		return nil, nil
	}
	if _, ok := c.lookupCron(req.Name); !ok {
		return nil, reconerrors.NewValidationError("name", fmt.Sprintf("cron %q is not declared", req.Name), nil)
	}

	defs := make([]cronDefinition, 0, len(c.spec.Crons))
	for _, cron := range c.spec.Crons {
		defs = append(defs, cronDefinition{Path: cron.Path, Schedule: cron.Schedule})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Path < defs[j].Path })
	content, err := json.MarshalIndent(map[string]any{"crons": defs}, "", "  ")
	if err != nil {
		return nil, err
	}
	return []connector.Artifact{{
		Path:    CronConfigPath,
		Content: append(content, '\n'),
		Summary: fmt.Sprintf("%s cron %s", req.Action, req.Name),
	}}, nil
}

// Describe lists the actions a change would take.
func (c *Connector) Describe(req model.ChangeRequest) []model.ChangeAction {
	switch req.ResourceType {
	case resourceEnv:
		return []model.ChangeAction{{Type: model.ActionAPI, Description: "PATCH env " + req.Name + " targets"}}
	case resourceCron:
		return []model.ChangeAction{
			{Type: model.ActionFile, Description: "write cron configuration", Path: CronConfigPath},
			{Type: model.ActionPR, Description: "open pull request for cron " + req.Name},
		}
	}
	return nil
}

func (c *Connector) listEnv(ctx context.Context) ([]envVar, error) {
	var resp struct {
		Envs []envVar `json:"envs"`
	}
	if err := c.client.Get(ctx, "v9/projects/"+c.cfg.Project+"/env", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Envs, nil
}

func (c *Connector) listCrons(ctx context.Context) ([]cronDefinition, error) {
	var p project
	if err := c.client.Get(ctx, "v9/projects/"+c.cfg.Project, nil, &p); err != nil {
		return nil, err
	}
	if p.Crons == nil {
		return nil, nil
	}
	return p.Crons.Definitions, nil
}

func (c *Connector) lookupEnv(key string) (desired.EnvVar, bool) {
	for _, e := range c.spec.Env {
		if e.Key == key {
			return e, true
		}
	}
	return desired.EnvVar{}, false
}

func (c *Connector) lookupCron(path string) (desired.Cron, bool) {
	for _, cron := range c.spec.Crons {
		if cron.Path == path {
			return cron, true
		}
	}
	return desired.Cron{}, false
}

// liveTargets unions targets across every entry for key; the platform stores
// one entry per distinct value.
func liveTargets(key string, live []envVar) (mapset.Set[string], bool) {
	targets := mapset.NewSet[string]()
	found := false
	for _, e := range live {
		if e.Key != key {
			continue
		}
		found = true
		targets.Append(e.Target...)
	}
	return targets, found
}

func sortedJoin(set mapset.Set[string]) string {
	values := set.ToSlice()
	sort.Strings(values)
	return strings.Join(values, ",")
}

func (c *Connector) Risk(model.ChangeRequest) model.Risk { return model.RiskMedium }
