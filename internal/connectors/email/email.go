// Package email audits sending domains and sender identities on the
// transactional email provider. The connector is read-only.
package email

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/alexisbeaulieu97/reconciler/internal/connector"
	"github.com/alexisbeaulieu97/reconciler/internal/connector/httpapi"
	"github.com/alexisbeaulieu97/reconciler/internal/desired"
	"github.com/alexisbeaulieu97/reconciler/internal/model"
	reconerrors "github.com/alexisbeaulieu97/reconciler/pkg/errors"
)

// DefaultBaseURL is the email provider API root.
const DefaultBaseURL = "https://api.resend.com"

const (
	resourceDomain = "domain"
	resourceSender = "sender"

	statusVerified = "verified"
	statusFailed   = "failed"
)

// Config is the email credential bundle.
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

type domain struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Connector implements connector.Connector for the email provider.
type Connector struct {
	cfg       Config
	spec      desired.EmailSpec
	client    *httpapi.Client
	clientErr error
}

// New builds an email connector.
func New(cfg Config, spec *desired.EmailSpec) *Connector {
	c := &Connector{cfg: cfg}
	if spec != nil {
		c.spec = *spec
	}
	if c.cfg.BaseURL == "" {
		c.cfg.BaseURL = DefaultBaseURL
	}
	if c.IsConfigured() {
		c.client, c.clientErr = httpapi.New(httpapi.Options{
			System:     desired.SystemEmail,
			BaseURL:    c.cfg.BaseURL,
			Token:      cfg.Token,
			Timeout:    cfg.Timeout,
			HTTPClient: cfg.HTTPClient,
		})
	}
	return c
}

func (c *Connector) Name() string { return desired.SystemEmail }

func (c *Connector) Capabilities() connector.Capabilities { return connector.Capabilities{} }

func (c *Connector) IsConfigured() bool { return c.cfg.Token != "" }

func (c *Connector) Apply(context.Context, model.ChangeRequest) (connector.Outcome, error) {
	return connector.Outcome{}, reconerrors.NewValidationError("email", "email is read-only", nil)
}

func (c *Connector) Audit(ctx context.Context) ([]model.CheckResult, error) {
	if c.clientErr != nil {
		return nil, c.clientErr
	}
	if len(c.spec.Domains) == 0 && len(c.spec.Senders) == 0 {
		return nil, nil
	}

	var resp struct {
		Data []domain `json:"data"`
	}
	listErr := c.client.Get(ctx, "domains", nil, &resp)
	live := make(map[string]domain, len(resp.Data))
	for _, d := range resp.Data {
		live[strings.ToLower(d.Name)] = d
	}

	results := make([]model.CheckResult, 0, len(c.spec.Domains)+len(c.spec.Senders))
	for _, want := range c.spec.Domains {
		r := connector.Resource{Scope: desired.SystemEmail, Type: resourceDomain, Name: want.Name}
		critical := desired.IsCritical(want.Critical)
		if listErr != nil {
			results = append(results, connector.FromError(r, critical, listErr))
			continue
		}
		results = append(results, auditDomain(r, critical, live))
	}
	for _, sender := range c.spec.Senders {
		r := connector.Resource{Scope: desired.SystemEmail, Type: resourceSender, Name: sender}
		if listErr != nil {
			results = append(results, connector.FromError(r, true, listErr))
			continue
		}
		results = append(results, auditSender(r, sender, live))
	}
	return results, nil
}

func auditDomain(r connector.Resource, critical bool, live map[string]domain) model.CheckResult {
	d, ok := live[strings.ToLower(r.Name)]
	if !ok {
		return connector.Manual(connector.Absent(r, critical, fmt.Sprintf("domain %s not found", r.Name)),
			"add the domain to the email provider and publish its DNS records")
	}
	switch d.Status {
	case statusVerified:
		return connector.Compliant(r, "domain verified")
	case statusFailed:
		return connector.Manual(connector.Drifted(r, true, "domain verification failed", ""),
			"check the domain's DNS records and re-run verification")
	case "pending", "not_started":
		return connector.Manual(connector.Drifted(r, critical, "domain verification "+strings.ReplaceAll(d.Status, "_", " "), ""),
			"publish the domain's DNS records")
	}
	return connector.Unverifiable(r, "domain exists", "provider reported status "+d.Status)
}

func auditSender(r connector.Resource, sender string, live map[string]domain) model.CheckResult {
	at := strings.LastIndex(sender, "@")
	if at < 0 {
		return connector.Drifted(r, true, "sender is not an email address", "")
	}
	host := strings.ToLower(sender[at+1:])
	d, ok := live[host]
	switch {
	case !ok:
		return connector.Manual(connector.Absent(r, true, fmt.Sprintf("sender domain %s not found", host)),
			"send from a verified domain")
	case d.Status != statusVerified:
		return connector.Manual(connector.Drifted(r, true, fmt.Sprintf("sender domain %s is not verified", host), ""),
			"verify "+host+" before sending from it")
	}
	return connector.Compliant(r, "sender uses verified domain "+host)
}
