// Package github audits repository labels and branch protection and publishes
// review branches and pull requests.
package github

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/alexisbeaulieu97/reconciler/internal/connector"
	"github.com/alexisbeaulieu97/reconciler/internal/connector/httpapi"
	"github.com/alexisbeaulieu97/reconciler/internal/desired"
	"github.com/alexisbeaulieu97/reconciler/internal/model"
	reconerrors "github.com/alexisbeaulieu97/reconciler/pkg/errors"
)

// DefaultBaseURL is the version-control API root.
const DefaultBaseURL = "https://api.github.com"

const (
	resourceLabel      = "label"
	resourceProtection = "branch_protection"
	actionCreate       = "create"
	actionUpdate       = "update"
)

// Config is the version-control credential bundle.
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

type label struct {
	Name        string `json:"name"`
	Color       string `json:"color"`
	Description string `json:"description"`
}

type protection struct {
	RequiredPullRequestReviews *struct {
		RequiredApprovingReviewCount int `json:"required_approving_review_count"`
	} `json:"required_pull_request_reviews"`
	RequiredStatusChecks *struct {
		Contexts []string `json:"contexts"`
	} `json:"required_status_checks"`
	EnforceAdmins *struct {
		Enabled bool `json:"enabled"`
	} `json:"enforce_admins"`
}

// Connector implements connector.Connector and connector.ReviewPublisher.
type Connector struct {
	cfg       Config
	spec      desired.GitHubSpec
	client    *httpapi.Client
	clientErr error
}

// New builds a version-control connector. Review publishing needs the owner
// and repo from spec even when no labels or rules are declared.
func New(cfg Config, spec *desired.GitHubSpec) *Connector {
	c := &Connector{cfg: cfg}
	if spec != nil {
		c.spec = *spec
	}
	if c.cfg.BaseURL == "" {
		c.cfg.BaseURL = DefaultBaseURL
	}
	if c.IsConfigured() {
		c.client, c.clientErr = httpapi.New(httpapi.Options{
			System:  desired.SystemGitHub,
			BaseURL: c.cfg.BaseURL,
			Token:   cfg.Token,
			Timeout: cfg.Timeout,
			Headers: map[string]string{
				"Accept":               "application/vnd.github+json",
				"X-GitHub-Api-Version": "2022-11-28",
			},
			HTTPClient: cfg.HTTPClient,
		})
	}
	return c
}

func (c *Connector) Name() string { return desired.SystemGitHub }

func (c *Connector) Capabilities() connector.Capabilities {
	return connector.Capabilities{SupportsApply: true}
}

func (c *Connector) IsConfigured() bool {
	return c.cfg.Token != "" && c.spec.Owner != "" && c.spec.Repo != ""
}

func (c *Connector) repoPath(parts ...string) string {
	segments := append([]string{"repos", c.spec.Owner, c.spec.Repo}, parts...)
	return strings.Join(segments, "/")
}

func (c *Connector) Audit(ctx context.Context) ([]model.CheckResult, error) {
	if c.clientErr != nil {
		return nil, c.clientErr
	}

	results := make([]model.CheckResult, 0, len(c.spec.Labels)+len(c.spec.BranchProtection))
	for _, want := range c.spec.Labels {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, c.auditLabel(ctx, want))
	}
	for _, want := range c.spec.BranchProtection {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, c.auditProtection(ctx, want))
	}
	return results, nil
}

func (c *Connector) auditLabel(ctx context.Context, want desired.Label) model.CheckResult {
	r := connector.Resource{Scope: desired.SystemGitHub, Type: resourceLabel, Name: want.Name}
	live, err := c.fetchLabel(ctx, want.Name)
	if err != nil {
		check := connector.FromError(r, desired.IsCritical(want.Critical), err)
		if check.Category == model.CategoryAbsent {
			return connector.Remediable(check, r.Change(actionCreate), model.RiskLow, "create label "+want.Name)
		}
		return check
	}

	cmp := compareLabel(want, live)
	if !cmp.Drifted() {
		return connector.Compliant(r, "label matches desired state")
	}
	return connector.Remediable(connector.Drifted(r, false, cmp.Summary(), cmp.Diff()),
		r.Change(actionUpdate), model.RiskLow, "update label "+want.Name)
}

func (c *Connector) auditProtection(ctx context.Context, want desired.BranchProtection) model.CheckResult {
	r := connector.Resource{Scope: desired.SystemGitHub, Type: resourceProtection, Name: want.Branch}
	live, err := c.fetchProtection(ctx, want.Branch)
	if err != nil {
		check := connector.FromError(r, true, err)
		if check.Category == model.CategoryAbsent {
			check.Message = "branch " + want.Branch + " is not protected"
			return connector.Remediable(check, r.Change(actionUpdate), model.RiskHigh, "protect branch "+want.Branch)
		}
		return check
	}

	cmp := compareProtection(want, live)
	if !cmp.Drifted() {
		return connector.Compliant(r, "branch protection matches desired state")
	}
	return connector.Remediable(connector.Drifted(r, true, cmp.Summary(), cmp.Diff()),
		r.Change(actionUpdate), model.RiskHigh, "update protection for "+want.Branch)
}

func (c *Connector) Apply(ctx context.Context, req model.ChangeRequest) (connector.Outcome, error) {
	if c.clientErr != nil {
		return connector.Outcome{}, c.clientErr
	}
	switch req.ResourceType {
	case resourceLabel:
		want, ok := c.lookupLabel(req.Name)
		if !ok {
			return connector.Outcome{}, reconerrors.NewValidationError("name", fmt.Sprintf("label %q is not declared", req.Name), nil)
		}
		return c.applyLabel(ctx, req.Action, want)
	case resourceProtection:
		want, ok := c.lookupProtection(req.Name)
		if !ok {
			return connector.Outcome{}, reconerrors.NewValidationError("name", fmt.Sprintf("branch %q has no declared protection", req.Name), nil)
		}
		if req.Action != actionUpdate {
			return connector.Outcome{}, reconerrors.NewValidationError("action", "branch protection only supports update", nil)
		}
		return c.applyProtection(ctx, want)
	}
	return connector.Outcome{}, reconerrors.NewValidationError("resourceType", fmt.Sprintf("github cannot apply %q", req.ResourceType), nil)
}

// Describe lists the API calls a change would make.
func (c *Connector) Describe(req model.ChangeRequest) []model.ChangeAction {
	switch {
	case req.ResourceType == resourceLabel && req.Action == actionCreate:
		return []model.ChangeAction{{Type: model.ActionAPI, Description: "POST " + c.repoPath("labels")}}
	case req.ResourceType == resourceLabel:
		return []model.ChangeAction{{Type: model.ActionAPI, Description: "PATCH " + c.repoPath("labels", req.Name)}}
	case req.ResourceType == resourceProtection:
		return []model.ChangeAction{{Type: model.ActionAPI, Description: "PUT " + c.repoPath("branches", req.Name, "protection")}}
	}
	return nil
}

func (c *Connector) applyLabel(ctx context.Context, action string, want desired.Label) (connector.Outcome, error) {
	live, err := c.fetchLabel(ctx, want.Name)
	exists := err == nil
	if err != nil && httpapi.StatusCode(err) != http.StatusNotFound {
		return connector.Outcome{}, err
	}

	body := map[string]string{"name": want.Name, "color": strings.ToLower(want.Color), "description": want.Description}
	switch action {
	case actionCreate:
		if exists {
			return connector.Outcome{Success: true, Message: "label already exists"}, nil
		}
		if _, err := c.client.Do(ctx, http.MethodPost, c.repoPath("labels"), nil, body, nil); err != nil {
			if httpapi.StatusCode(err) == http.StatusUnprocessableEntity {
				return connector.Outcome{Success: true, Message: "label already exists"}, nil
			}
			return connector.Outcome{}, err
		}
		return connector.Outcome{Success: true, Message: "label created"}, nil
	case actionUpdate:
		if !exists {
			return connector.Outcome{}, fmt.Errorf("label %s does not exist: %w", want.Name, reconerrors.ErrNotFound)
		}
		if !compareLabel(want, live).Drifted() {
			return connector.Outcome{Success: true, Message: "label already matches desired state"}, nil
		}
		if _, err := c.client.Do(ctx, http.MethodPatch, c.repoPath("labels", want.Name), nil, body, nil); err != nil {
			return connector.Outcome{}, err
		}
		return connector.Outcome{Success: true, Message: "label updated"}, nil
	}
	return connector.Outcome{}, reconerrors.NewValidationError("action", fmt.Sprintf("unsupported label action %q", action), nil)
}

func (c *Connector) applyProtection(ctx context.Context, want desired.BranchProtection) (connector.Outcome, error) {
	live, err := c.fetchProtection(ctx, want.Branch)
	if err == nil && !compareProtection(want, live).Drifted() {
		return connector.Outcome{Success: true, Message: "branch protection already matches desired state"}, nil
	}
	if err != nil && httpapi.StatusCode(err) != http.StatusNotFound {
		return connector.Outcome{}, err
	}

	checks := want.RequiredStatusChecks
	if checks == nil {
		checks = []string{}
	}
	body := map[string]any{
		"required_status_checks": map[string]any{"strict": true, "contexts": checks},
		"enforce_admins":         want.EnforceAdmins,
		"required_pull_request_reviews": map[string]any{
			"required_approving_review_count": want.RequiredReviews,
		},
		"restrictions": nil,
	}
	if _, err := c.client.Do(ctx, http.MethodPut, c.repoPath("branches", want.Branch, "protection"), nil, body, nil); err != nil {
		return connector.Outcome{}, err
	}
	return connector.Outcome{Success: true, Message: "branch protection updated"}, nil
}

func (c *Connector) fetchLabel(ctx context.Context, name string) (label, error) {
	var live label
	err := c.client.Get(ctx, c.repoPath("labels", name), nil, &live)
	return live, err
}

func (c *Connector) fetchProtection(ctx context.Context, branch string) (protection, error) {
	var live protection
	err := c.client.Get(ctx, c.repoPath("branches", branch, "protection"), nil, &live)
	return live, err
}

func (c *Connector) lookupLabel(name string) (desired.Label, bool) {
	for _, l := range c.spec.Labels {
		if l.Name == name {
			return l, true
		}
	}
	return desired.Label{}, false
}

func (c *Connector) lookupProtection(branch string) (desired.BranchProtection, bool) {
	for _, p := range c.spec.BranchProtection {
		if p.Branch == branch {
			return p, true
		}
	}
	return desired.BranchProtection{}, false
}

func compareLabel(want desired.Label, live label) *connector.Comparison {
	cmp := connector.NewComparison().
		Field("color", strings.ToLower(strings.TrimPrefix(want.Color, "#")), strings.ToLower(live.Color))
	if want.Description != "" {
		cmp.Field("description", want.Description, live.Description)
	}
	return cmp
}

func compareProtection(want desired.BranchProtection, live protection) *connector.Comparison {
	reviews := 0
	if live.RequiredPullRequestReviews != nil {
		reviews = live.RequiredPullRequestReviews.RequiredApprovingReviewCount
	}
	admins := false
	if live.EnforceAdmins != nil {
		admins = live.EnforceAdmins.Enabled
	}
	var liveChecks []string
	if live.RequiredStatusChecks != nil {
		liveChecks = live.RequiredStatusChecks.Contexts
	}

	cmp := connector.NewComparison().
		Field("required_reviews", strconv.Itoa(want.RequiredReviews), strconv.Itoa(reviews)).
		Field("enforce_admins", strconv.FormatBool(want.EnforceAdmins), strconv.FormatBool(admins))

	wantSet := mapset.NewSet[string](want.RequiredStatusChecks...)
	liveSet := mapset.NewSet[string](liveChecks...)
	if !wantSet.Equal(liveSet) {
		cmp.Field("required_status_checks", sortedJoin(wantSet), sortedJoin(liveSet))
	}
	return cmp
}

func sortedJoin(set mapset.Set[string]) string {
	values := set.ToSlice()
	sort.Strings(values)
	return strings.Join(values, ",")
}

// Risk rates req: label changes are low, protection changes high.
func (c *Connector) Risk(req model.ChangeRequest) model.Risk {
	if req.ResourceType == resourceProtection {
		return model.RiskHigh
	}
	return model.RiskLow
}
