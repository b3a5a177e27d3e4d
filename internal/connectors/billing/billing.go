// Package billing audits prices and webhook endpoints in the payments system.
// The connector is read-only.
package billing

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
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

// DefaultBaseURL is the payments API root.
const DefaultBaseURL = "https://api.stripe.com"

const (
	resourcePrice   = "price"
	resourceWebhook = "webhook"
	allEvents       = "*"
)

// Config is the billing credential bundle.
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

type price struct {
	ID         string `json:"id"`
	Active     bool   `json:"active"`
	UnitAmount *int64 `json:"unit_amount"`
	Currency   string `json:"currency"`
	Recurring  *struct {
		Interval string `json:"interval"`
	} `json:"recurring"`
}

type webhookEndpoint struct {
	ID            string   `json:"id"`
	URL           string   `json:"url"`
	Status        string   `json:"status"`
	EnabledEvents []string `json:"enabled_events"`
}

type webhookList struct {
	Data    []webhookEndpoint `json:"data"`
	HasMore bool              `json:"has_more"`
}

// Connector implements connector.Connector for the payments system.
type Connector struct {
	cfg       Config
	spec      desired.BillingSpec
	client    *httpapi.Client
	clientErr error
}

// New builds a billing connector.
func New(cfg Config, spec *desired.BillingSpec) *Connector {
	c := &Connector{cfg: cfg}
	if spec != nil {
		c.spec = *spec
	}
	if c.cfg.BaseURL == "" {
		c.cfg.BaseURL = DefaultBaseURL
	}
	if c.IsConfigured() {
		c.client, c.clientErr = httpapi.New(httpapi.Options{
			System:     desired.SystemBilling,
			BaseURL:    c.cfg.BaseURL + "/v1",
			Token:      cfg.Token,
			Timeout:    cfg.Timeout,
			HTTPClient: cfg.HTTPClient,
		})
	}
	return c
}

func (c *Connector) Name() string { return desired.SystemBilling }

func (c *Connector) Capabilities() connector.Capabilities { return connector.Capabilities{} }

func (c *Connector) IsConfigured() bool { return c.cfg.Token != "" }

func (c *Connector) Audit(ctx context.Context) ([]model.CheckResult, error) {
	if c.clientErr != nil {
		return nil, c.clientErr
	}

	var results []model.CheckResult
	for _, want := range c.spec.Prices {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, c.auditPrice(ctx, want))
	}

	if len(c.spec.Webhooks) == 0 {
		return results, nil
	}
	endpoints, err := c.listWebhooks(ctx)
	for _, want := range c.spec.Webhooks {
		r := connector.Resource{Scope: desired.SystemBilling, Type: resourceWebhook, Name: want.URL}
		if err != nil {
			results = append(results, connector.FromError(r, true, err))
			continue
		}
		results = append(results, auditWebhook(r, want, endpoints))
	}
	return results, nil
}

// Apply is never called for read-only connectors.
func (c *Connector) Apply(context.Context, model.ChangeRequest) (connector.Outcome, error) {
	return connector.Outcome{}, reconerrors.NewValidationError("billing", "billing is read-only", nil)
}

func (c *Connector) auditPrice(ctx context.Context, want desired.Price) model.CheckResult {
	r := connector.Resource{Scope: desired.SystemBilling, Type: resourcePrice, Name: want.ID}
	critical := desired.IsCritical(want.Critical)

	var live price
	if err := c.client.Get(ctx, "prices/"+want.ID, nil, &live); err != nil {
		check := connector.FromError(r, critical, err)
		if check.Category == model.CategoryAbsent {
			return connector.Manual(check, "create price "+want.ID+" in the payments dashboard and update the desired state")
		}
		return check
	}

	cmp := connector.NewComparison().Field("active", "true", strconv.FormatBool(live.Active))
	if want.UnitAmount > 0 {
		liveAmount := "none"
		if live.UnitAmount != nil {
			liveAmount = strconv.FormatInt(*live.UnitAmount, 10)
		}
		cmp.Field("unit_amount", strconv.FormatInt(want.UnitAmount, 10), liveAmount)
	}
	if want.Currency != "" {
		cmp.Field("currency", want.Currency, strings.ToLower(live.Currency))
	}
	if want.Interval != "" {
		liveInterval := "one_time"
		if live.Recurring != nil {
			liveInterval = live.Recurring.Interval
		}
		cmp.Field("interval", want.Interval, liveInterval)
	}

	if !cmp.Drifted() {
		return connector.Compliant(r, "price matches desired state")
	}
	return connector.Manual(connector.Drifted(r, critical, cmp.Summary(), cmp.Diff()),
		"prices are immutable; create a replacement price and update the desired state")
}

func auditWebhook(r connector.Resource, want desired.Webhook, endpoints []webhookEndpoint) model.CheckResult {
	var live *webhookEndpoint
	for i := range endpoints {
		if endpoints[i].URL == want.URL {
			live = &endpoints[i]
			break
		}
	}
	if live == nil {
		return connector.Manual(connector.Absent(r, true, fmt.Sprintf("webhook endpoint %s not found", want.URL)),
			"register the webhook endpoint in the payments dashboard")
	}

	liveEvents := mapset.NewSet[string](live.EnabledEvents...)
	if !liveEvents.Contains(allEvents) {
		missing := mapset.NewSet[string](want.Events...).Difference(liveEvents).ToSlice()
		if len(missing) > 0 {
			sort.Strings(missing)
			check := connector.Drifted(r, true, "missing events: "+strings.Join(missing, ", "), "")
			return connector.Manual(check, "enable the missing events on the webhook endpoint")
		}
	}
	if live.Status != "" && live.Status != "enabled" {
		return connector.Manual(connector.Drifted(r, false, "webhook endpoint is "+live.Status, ""),
			"re-enable the webhook endpoint")
	}
	return connector.Compliant(r, "webhook endpoint receives all required events")
}

func (c *Connector) listWebhooks(ctx context.Context) ([]webhookEndpoint, error) {
	var all []webhookEndpoint
	query := url.Values{"limit": {"100"}}
	for {
		var page webhookList
		if err := c.client.Get(ctx, "webhook_endpoints", query, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Data...)
		if !page.HasMore || len(page.Data) == 0 {
			return all, nil
		}
		query.Set("starting_after", page.Data[len(page.Data)-1].ID)
	}
}
