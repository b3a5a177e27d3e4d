package main

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/term"

	"github.com/alexisbeaulieu97/reconciler/internal/approval"
	"github.com/alexisbeaulieu97/reconciler/internal/audit"
	"github.com/alexisbeaulieu97/reconciler/internal/change"
	"github.com/alexisbeaulieu97/reconciler/internal/connector"
	"github.com/alexisbeaulieu97/reconciler/internal/connectors"
	"github.com/alexisbeaulieu97/reconciler/internal/desired"
	"github.com/alexisbeaulieu97/reconciler/internal/logger"
	"github.com/alexisbeaulieu97/reconciler/internal/metrics"
	"github.com/alexisbeaulieu97/reconciler/internal/model"
	"github.com/alexisbeaulieu97/reconciler/internal/settings"
)

// app holds what every command needs once the runtime config is loaded.
type app struct {
	settings   *settings.Settings
	configPath string
	log        *logger.Logger
	metrics    *metrics.Metrics
	httpClient *http.Client
}

// session is one freshly loaded view of desired state, policy and engines.
type session struct {
	state    *desired.State
	policy   *desired.Policy
	registry *connector.Registry
	audit    *audit.Engine
	changes  *change.Engine
}

var loadApp = func(flags *rootFlags) (*app, error) {
	cfg, err := settings.Load(flags.configPath)
	if err != nil {
		return nil, configError(err)
	}

	level := cfg.LogLevel
	if flags.verbose {
		level = "debug"
	}
	log, err := logger.New(logger.Options{
		Level:         level,
		HumanReadable: term.IsTerminal(int(os.Stderr.Fd())),
		Writer:        os.Stderr,
	})
	if err != nil {
		return nil, configError(err)
	}

	return &app{
		settings:   cfg,
		configPath: flags.configPath,
		log:        log,
		httpClient: cleanhttp.DefaultPooledClient(),
	}, nil
}

// path resolves document paths relative to the config file's directory.
func (a *app) path(p string) string {
	if strings.TrimSpace(p) == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(a.configPath), p)
}

func (a *app) loadDocuments() (*desired.State, *desired.Policy, error) {
	state, err := desired.LoadState(a.path(a.settings.StatePath))
	if err != nil {
		return nil, nil, err
	}
	policy, err := desired.LoadPolicy(a.path(a.settings.PolicyPath))
	if err != nil {
		return nil, nil, err
	}
	return state, policy, nil
}

// session reloads the desired state and policy and assembles both engines.
func (a *app) session(onConnector func(string, []model.CheckResult)) (*session, error) {
	state, policy, err := a.loadDocuments()
	if err != nil {
		return nil, err
	}

	reg, err := connectors.Build(a.settings, state, connectors.Deps{HTTPClient: a.httpClient})
	if err != nil {
		return nil, err
	}

	opts := change.Options{Registry: reg, Policy: policy, Logger: a.log, Metrics: a.metrics}
	if publisher, ok := connectors.ReviewPublisher(reg); ok {
		opts.Publisher = publisher
	}
	if a.settings.Approval.Enabled() {
		gateway, err := approval.NewGateway(approval.Config{
			BaseURL:    a.settings.Approval.BaseURL,
			Token:      a.settings.Approval.Token,
			Channel:    a.settings.Approval.Channel,
			HTTPClient: a.httpClient,
		}, a.log)
		if err != nil {
			return nil, err
		}
		opts.Approvals = gateway
	}
	changes := change.New(opts)

	return &session{
		state:    state,
		policy:   policy,
		registry: reg,
		changes:  changes,
		audit: audit.New(audit.Options{
			Registry:         reg,
			Policy:           policy,
			Planner:          changes,
			Timeout:          a.settings.Audit.Timeout.Duration,
			ConnectorTimeout: a.settings.Audit.ConnectorTimeout.Duration,
			Logger:           a.log,
			Metrics:          a.metrics,
			OnConnector:      onConnector,
		}),
	}, nil
}
