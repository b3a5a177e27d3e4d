// Package storage audits and remediates object-storage buckets through the
// storage REST API.
package storage

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alexisbeaulieu97/reconciler/internal/connector"
	"github.com/alexisbeaulieu97/reconciler/internal/connector/httpapi"
	"github.com/alexisbeaulieu97/reconciler/internal/desired"
	"github.com/alexisbeaulieu97/reconciler/internal/model"
	reconerrors "github.com/alexisbeaulieu97/reconciler/pkg/errors"
)

const (
	resourceBucket = "bucket"
	actionCreate   = "create"
	actionUpdate   = "update"
)

// Config is the storage credential bundle.
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

type bucket struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Public           bool     `json:"public"`
	FileSizeLimit    *int64   `json:"file_size_limit"`
	AllowedMimeTypes []string `json:"allowed_mime_types"`
}

// Connector implements connector.Connector for object storage.
type Connector struct {
	cfg       Config
	spec      desired.StorageSpec
	client    *httpapi.Client
	clientErr error
}

// New builds a storage connector. A nil spec audits nothing.
func New(cfg Config, spec *desired.StorageSpec) *Connector {
	c := &Connector{cfg: cfg}
	if spec != nil {
		c.spec = *spec
	}
	if c.IsConfigured() {
		c.client, c.clientErr = httpapi.New(httpapi.Options{
			System:     desired.SystemStorage,
			BaseURL:    strings.TrimRight(cfg.BaseURL, "/") + "/storage/v1",
			Token:      cfg.Token,
			Timeout:    cfg.Timeout,
			Headers:    map[string]string{"apikey": cfg.Token},
			HTTPClient: cfg.HTTPClient,
		})
	}
	return c
}

func (c *Connector) Name() string { return desired.SystemStorage }

func (c *Connector) Capabilities() connector.Capabilities {
	return connector.Capabilities{SupportsApply: true}
}

func (c *Connector) IsConfigured() bool {
	return c.cfg.BaseURL != "" && c.cfg.Token != ""
}

func (c *Connector) Audit(ctx context.Context) ([]model.CheckResult, error) {
	if c.clientErr != nil {
		return nil, c.clientErr
	}
	results := make([]model.CheckResult, 0, len(c.spec.Buckets))
	for _, want := range c.spec.Buckets {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, c.auditBucket(ctx, want))
	}
	return results, nil
}

func (c *Connector) auditBucket(ctx context.Context, want desired.Bucket) model.CheckResult {
	r := connector.Resource{Scope: desired.SystemStorage, Type: resourceBucket, Name: want.Name}
	critical := desired.IsCritical(want.Critical)

	live, err := c.fetch(ctx, want.Name)
	if err != nil {
		check := connector.FromError(r, critical, err)
		if check.Category == model.CategoryAbsent {
			return connector.Remediable(check, r.Change(actionCreate), model.RiskLow, "create bucket "+want.Name)
		}
		return check
	}

	cmp := compare(want, live)
	if !cmp.Drifted() {
		return connector.Compliant(r, "bucket matches desired state")
	}
	// Exposure of a private bucket is the only security-relevant drift.
	securityRelevant := cmp.Has("public") && live.Public && !want.Public
	check := connector.Drifted(r, securityRelevant, cmp.Summary(), cmp.Diff())
	return connector.Remediable(check, r.Change(actionUpdate), updateRisk(want, live), "update bucket "+want.Name)
}

func (c *Connector) Apply(ctx context.Context, req model.ChangeRequest) (connector.Outcome, error) {
	if c.clientErr != nil {
		return connector.Outcome{}, c.clientErr
	}
	if req.ResourceType != resourceBucket {
		return connector.Outcome{}, reconerrors.NewValidationError("resourceType", fmt.Sprintf("storage cannot apply %q", req.ResourceType), nil)
	}
	want, ok := c.lookup(req.Name)
	if !ok {
		return connector.Outcome{}, reconerrors.NewValidationError("name", fmt.Sprintf("bucket %q is not declared", req.Name), nil)
	}

	switch req.Action {
	case actionCreate:
		return c.create(ctx, want)
	case actionUpdate:
		return c.update(ctx, want)
	default:
		return connector.Outcome{}, reconerrors.NewValidationError("action", fmt.Sprintf("unsupported bucket action %q", req.Action), nil)
	}
}

// Describe lists the API calls a change would make.
func (c *Connector) Describe(req model.ChangeRequest) []model.ChangeAction {
	switch req.Action {
	case actionCreate:
		return []model.ChangeAction{{Type: model.ActionAPI, Description: "POST /bucket " + req.Name}}
	case actionUpdate:
		return []model.ChangeAction{{Type: model.ActionAPI, Description: "PUT /bucket/" + req.Name}}
	}
	return nil
}

func (c *Connector) create(ctx context.Context, want desired.Bucket) (connector.Outcome, error) {
	if _, err := c.fetch(ctx, want.Name); err == nil {
		return connector.Outcome{Success: true, Message: "bucket already exists"}, nil
	} else if httpapi.StatusCode(err) != http.StatusNotFound {
		return connector.Outcome{}, err
	}

	_, err := c.client.Do(ctx, http.MethodPost, "bucket", nil, payload(want, true), nil)
	if err != nil {
		if httpapi.StatusCode(err) == http.StatusConflict {
			return connector.Outcome{Success: true, Message: "bucket already exists"}, nil
		}
		return connector.Outcome{}, err
	}
	return connector.Outcome{Success: true, Message: "bucket created"}, nil
}

func (c *Connector) update(ctx context.Context, want desired.Bucket) (connector.Outcome, error) {
	live, err := c.fetch(ctx, want.Name)
	if err != nil {
		return connector.Outcome{}, err
	}
	if !compare(want, live).Drifted() {
		return connector.Outcome{Success: true, Message: "bucket already matches desired state"}, nil
	}
	if _, err := c.client.Do(ctx, http.MethodPut, "bucket/"+want.Name, nil, payload(want, false), nil); err != nil {
		return connector.Outcome{}, err
	}
	return connector.Outcome{Success: true, Message: "bucket updated"}, nil
}

func (c *Connector) fetch(ctx context.Context, name string) (bucket, error) {
	var live bucket
	err := c.client.Get(ctx, "bucket/"+name, nil, &live)
	return live, err
}

func (c *Connector) lookup(name string) (desired.Bucket, bool) {
	for _, b := range c.spec.Buckets {
		if b.Name == name {
			return b, true
		}
	}
	return desired.Bucket{}, false
}

func compare(want desired.Bucket, live bucket) *connector.Comparison {
	cmp := connector.NewComparison().
		Field("public", strconv.FormatBool(want.Public), strconv.FormatBool(live.Public))
	if want.FileSizeLimit > 0 {
		liveLimit := "unlimited"
		if live.FileSizeLimit != nil {
			liveLimit = strconv.FormatInt(*live.FileSizeLimit, 10)
		}
		cmp.Field("file_size_limit", strconv.FormatInt(want.FileSizeLimit, 10), liveLimit)
	}
	if len(want.AllowedMimeTypes) > 0 {
		cmp.Field("allowed_mime_types", joinSorted(want.AllowedMimeTypes), joinSorted(live.AllowedMimeTypes))
	}
	return cmp
}

// updateRisk: making a bucket public is high risk, anything else medium.
func updateRisk(want desired.Bucket, live bucket) model.Risk {
	if want.Public && !live.Public {
		return model.RiskHigh
	}
	return model.RiskMedium
}

func payload(want desired.Bucket, withID bool) map[string]any {
	body := map[string]any{"public": want.Public}
	if withID {
		body["id"] = want.Name
		body["name"] = want.Name
	}
	if want.FileSizeLimit > 0 {
		body["file_size_limit"] = want.FileSizeLimit
	}
	if len(want.AllowedMimeTypes) > 0 {
		body["allowed_mime_types"] = want.AllowedMimeTypes
	}
	return body
}

func joinSorted(values []string) string {
	out := append([]string(nil), values...)
	sort.Strings(out)
	return strings.Join(out, ",")
}

// Risk rates req without consulting live state. An update to a bucket declared
// public may expose it, so it is rated high.
func (c *Connector) Risk(req model.ChangeRequest) model.Risk {
	if req.Action == actionCreate {
		return model.RiskLow
	}
	if want, ok := c.lookup(req.Name); ok && want.Public {
		return model.RiskHigh
	}
	return model.RiskMedium
}
