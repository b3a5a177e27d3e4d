// Package connectors wires the concrete connectors into a registry from the
// runtime credentials and the desired state.
package connectors

import (
	"net/http"

	"github.com/alexisbeaulieu97/reconciler/internal/connector"
	"github.com/alexisbeaulieu97/reconciler/internal/connectors/billing"
	"github.com/alexisbeaulieu97/reconciler/internal/connectors/database"
	"github.com/alexisbeaulieu97/reconciler/internal/connectors/email"
	"github.com/alexisbeaulieu97/reconciler/internal/connectors/github"
	"github.com/alexisbeaulieu97/reconciler/internal/connectors/hosting"
	"github.com/alexisbeaulieu97/reconciler/internal/connectors/secrets"
	"github.com/alexisbeaulieu97/reconciler/internal/connectors/storage"
	"github.com/alexisbeaulieu97/reconciler/internal/desired"
	"github.com/alexisbeaulieu97/reconciler/internal/settings"
)

// Factory builds one connector from its credential bundle and the desired state.
type Factory func(creds settings.Credentials, state *desired.State, deps Deps) connector.Connector

// Deps are shared collaborators injected into every connector.
type Deps struct {
	HTTPClient *http.Client
	// Present reports which systems have a credential bundle.
	Present map[string]bool
	// DatabaseOpener replaces the PostgreSQL opener, mainly for tests.
	DatabaseOpener database.Opener
}

// Factories maps each system to its constructor.
var Factories = map[string]Factory{
	desired.SystemBilling: func(c settings.Credentials, s *desired.State, d Deps) connector.Connector {
		return billing.New(billing.Config{BaseURL: c.BaseURL, Token: c.Token, Timeout: c.Timeout.Duration, HTTPClient: d.HTTPClient}, s.Billing)
	},
	desired.SystemDatabase: func(c settings.Credentials, s *desired.State, d Deps) connector.Connector {
		var opts []database.Option
		if d.DatabaseOpener != nil {
			opts = append(opts, database.WithOpener(d.DatabaseOpener))
		}
		return database.New(database.Config{DSN: c.DSN, Timeout: c.Timeout.Duration}, s.Database, opts...)
	},
	desired.SystemEmail: func(c settings.Credentials, s *desired.State, d Deps) connector.Connector {
		return email.New(email.Config{BaseURL: c.BaseURL, Token: c.Token, Timeout: c.Timeout.Duration, HTTPClient: d.HTTPClient}, s.Email)
	},
	desired.SystemGitHub: func(c settings.Credentials, s *desired.State, d Deps) connector.Connector {
		return github.New(github.Config{BaseURL: c.BaseURL, Token: c.Token, Timeout: c.Timeout.Duration, HTTPClient: d.HTTPClient}, s.GitHub)
	},
	desired.SystemHosting: func(c settings.Credentials, s *desired.State, d Deps) connector.Connector {
		return hosting.New(hosting.Config{
			BaseURL: c.BaseURL, Token: c.Token, Project: c.Project, Team: c.Team,
			Timeout: c.Timeout.Duration, HTTPClient: d.HTTPClient,
		}, s.Hosting)
	},
	desired.SystemSecrets: func(_ settings.Credentials, s *desired.State, d Deps) connector.Connector {
		return secrets.New(d.Present, s.Secrets)
	},
	desired.SystemStorage: func(c settings.Credentials, s *desired.State, d Deps) connector.Connector {
		return storage.New(storage.Config{BaseURL: c.BaseURL, Token: c.Token, Timeout: c.Timeout.Duration, HTTPClient: d.HTTPClient}, s.Storage)
	},
}

// Build registers one connector per known system. Systems without a
// credential bundle still register and report themselves unconfigured.
func Build(cfg *settings.Settings, state *desired.State, deps Deps) (*connector.Registry, error) {
	if state == nil {
		state = &desired.State{}
	}
	if deps.Present == nil {
		deps.Present = Presence(cfg)
	}

	reg := connector.NewRegistry()
	for _, system := range desired.Systems {
		factory, ok := Factories[system]
		if !ok {
			continue
		}
		creds, _ := cfg.Credentials(system)
		if err := reg.Register(factory(creds, state, deps)); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Presence reports which systems carry a non-empty token or DSN.
func Presence(cfg *settings.Settings) map[string]bool {
	present := make(map[string]bool, len(desired.Systems))
	for _, system := range desired.Systems {
		creds, ok := cfg.Credentials(system)
		present[system] = ok && (creds.Token != "" || creds.DSN != "")
	}
	return present
}

// ReviewPublisher returns the registered connector that can publish review
// branches, if it is configured.
func ReviewPublisher(reg *connector.Registry) (connector.ReviewPublisher, bool) {
	c, ok := reg.Get(desired.SystemGitHub)
	if !ok || !c.IsConfigured() {
		return nil, false
	}
	publisher, ok := c.(connector.ReviewPublisher)
	return publisher, ok
}
