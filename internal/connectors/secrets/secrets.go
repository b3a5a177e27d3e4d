// Package secrets reports whether the credential bundles the desired state
// requires are present. It reads only presence flags, never secret values.
package secrets

import (
	"context"
	"fmt"

	"github.com/alexisbeaulieu97/reconciler/internal/connector"
	"github.com/alexisbeaulieu97/reconciler/internal/desired"
	"github.com/alexisbeaulieu97/reconciler/internal/model"
	reconerrors "github.com/alexisbeaulieu97/reconciler/pkg/errors"
)

const resourceKey = "api_key"

// Connector implements connector.Connector over credential presence flags.
type Connector struct {
	present map[string]bool
	spec    desired.SecretsSpec
}

// New builds a secrets connector from the set of systems whose bundle is present.
func New(present map[string]bool, spec *desired.SecretsSpec) *Connector {
	c := &Connector{present: make(map[string]bool, len(present))}
	for name, ok := range present {
		c.present[name] = ok
	}
	if spec != nil {
		c.spec = *spec
	}
	return c
}

func (c *Connector) Name() string { return desired.SystemSecrets }

func (c *Connector) Capabilities() connector.Capabilities { return connector.Capabilities{} }

// IsConfigured is always true; presence flags need no credentials of their own.
func (c *Connector) IsConfigured() bool { return true }

func (c *Connector) Audit(ctx context.Context) ([]model.CheckResult, error) {
	results := make([]model.CheckResult, 0, len(c.spec.Required))
	for _, system := range c.spec.Required {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		r := connector.Resource{Scope: desired.SystemSecrets, Type: resourceKey, Name: system}
		if c.present[system] {
			results = append(results, connector.Compliant(r, "credential present"))
			continue
		}
		check := connector.Absent(r, true, fmt.Sprintf("credential for %s not found", system))
		results = append(results, connector.Manual(check, fmt.Sprintf("set the [connectors.%s] credentials", system)))
	}
	return results, nil
}

func (c *Connector) Apply(context.Context, model.ChangeRequest) (connector.Outcome, error) {
	return connector.Outcome{}, reconerrors.NewValidationError("secrets", "secrets are read-only", nil)
}
