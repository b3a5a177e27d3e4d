// Package audit runs every selected connector concurrently and assembles a
// single classified report.
package audit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/alexisbeaulieu97/reconciler/internal/change"
	"github.com/alexisbeaulieu97/reconciler/internal/connector"
	"github.com/alexisbeaulieu97/reconciler/internal/desired"
	"github.com/alexisbeaulieu97/reconciler/internal/logger"
	"github.com/alexisbeaulieu97/reconciler/internal/metrics"
	"github.com/alexisbeaulieu97/reconciler/internal/model"
	reconerrors "github.com/alexisbeaulieu97/reconciler/pkg/errors"
)

const (
	defaultTimeout          = 60 * time.Second
	defaultConnectorTimeout = 20 * time.Second
)

// Options configures an Engine.
type Options struct {
	Registry *connector.Registry
	Policy   *desired.Policy
	// Planner builds Changes in plan mode; nil disables plan mode.
	Planner          *change.Engine
	Timeout          time.Duration
	ConnectorTimeout time.Duration
	Logger           *logger.Logger
	Metrics          *metrics.Metrics
	Now              func() time.Time
	NewID            func() string
	// OnConnector is called from the Run goroutine as each connector settles.
	OnConnector func(name string, checks []model.CheckResult)
}

// Request selects connectors and the report mode.
type Request struct {
	Scope []string
	Mode  model.Mode
}

// Engine runs audits. It is safe for concurrent use.
type Engine struct {
	registry         *connector.Registry
	policy           *desired.Policy
	planner          *change.Engine
	timeout          time.Duration
	connectorTimeout time.Duration
	log              *logger.Logger
	metrics          *metrics.Metrics
	now              func() time.Time
	newID            func() string
	onConnector      func(name string, checks []model.CheckResult)
}

// New constructs an Engine.
func New(opts Options) *Engine {
	e := &Engine{
		registry:         opts.Registry,
		policy:           opts.Policy,
		planner:          opts.Planner,
		timeout:          opts.Timeout,
		connectorTimeout: opts.ConnectorTimeout,
		log:              opts.Logger,
		metrics:          opts.Metrics,
		now:              opts.Now,
		newID:            opts.NewID,
		onConnector:      opts.OnConnector,
	}
	if e.registry == nil {
		e.registry = connector.NewRegistry()
	}
	if e.policy == nil {
		e.policy = desired.DefaultPolicy()
	}
	if e.timeout <= 0 {
		e.timeout = defaultTimeout
	}
	if e.connectorTimeout <= 0 {
		e.connectorTimeout = defaultConnectorTimeout
	}
	if e.log == nil {
		e.log = logger.Nop()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	if e.onConnector == nil {
		e.onConnector = func(string, []model.CheckResult) {}
	}
	return e
}

type outcome struct {
	index  int
	checks []model.CheckResult
}

// Run audits the selected connectors. Unknown scope names fail before any
// connector is touched. Connector failures never fail the run; they become
// error checks in the report.
func (e *Engine) Run(ctx context.Context, req Request) (*model.AuditReport, error) {
	mode := req.Mode
	if mode == "" {
		mode = model.ModeCheck
	}
	if mode != model.ModeCheck && mode != model.ModePlan {
		return nil, reconerrors.NewValidationError("mode", fmt.Sprintf("unknown mode %q", logger.SafeToken(string(mode))), nil)
	}

	selection, err := e.registry.Resolve(req.Scope)
	if err != nil {
		return nil, err
	}

	runID := e.newID()
	log := e.log.WithFields(map[string]any{"run_id": runID, "mode": string(mode)})
	log.Info("audit started")

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	n := len(selection.Connectors)
	perConnector := make([][]model.CheckResult, n)
	finished := make([]bool, n)
	pending := 0
	results := make(chan outcome, n)

	for i, c := range selection.Connectors {
		if !c.IsConfigured() {
			perConnector[i] = []model.CheckResult{connector.Unconfigured(c.Name(), selection.Explicit)}
			finished[i] = true
			e.onConnector(c.Name(), perConnector[i])
			continue
		}
		pending++
		go func(i int, c connector.Connector) {
			results <- outcome{index: i, checks: e.auditConnector(ctx, c, log)}
		}(i, c)
	}

collect:
	for pending > 0 {
		select {
		case out := <-results:
			perConnector[out.index] = out.checks
			finished[out.index] = true
			pending--
			e.onConnector(selection.Connectors[out.index].Name(), out.checks)
		case <-ctx.Done():
			break collect
		}
	}
	for drained := false; pending > 0 && !drained; {
		select {
		case out := <-results:
			perConnector[out.index] = out.checks
			finished[out.index] = true
			pending--
			e.onConnector(selection.Connectors[out.index].Name(), out.checks)
		default:
			drained = true
		}
	}

	scope := make([]string, 0, n)
	var checks []model.CheckResult
	for i, c := range selection.Connectors {
		scope = append(scope, c.Name())
		if !finished[i] {
			log.WithConnector(c.Name()).Warn("connector did not finish before the audit deadline")
			perConnector[i] = []model.CheckResult{connector.Cancelled(c.Name())}
			e.onConnector(c.Name(), perConnector[i])
		}
		checks = append(checks, perConnector[i]...)
	}

	e.overlayPolicy(checks)
	model.SortChecks(checks)

	report := &model.AuditReport{
		ID:        runID,
		Timestamp: e.now().UTC(),
		Mode:      mode,
		Scope:     scope,
		Checks:    checks,
		Summary:   model.Summarize(checks),
	}
	if mode == model.ModePlan && e.planner != nil {
		report.Changes = e.planner.Plan(checks)
	}

	e.metrics.ObserveAudit(report)
	log.WithFields(map[string]any{
		"total":    report.Summary.Total,
		"failed":   report.Summary.Failed,
		"warnings": report.Summary.Warnings,
		"errors":   report.Summary.Errors,
	}).Info("audit finished")
	return report, nil
}

// auditConnector runs one connector in isolation. A panic or returned error
// yields exactly one synthesized error check.
func (e *Engine) auditConnector(ctx context.Context, c connector.Connector, runLog *logger.Logger) (checks []model.CheckResult) {
	name := c.Name()
	log := runLog.WithConnector(name)
	start := e.now()
	defer func() {
		if r := recover(); r != nil {
			log.Error(fmt.Errorf("panic: %v", r), "connector audit panicked")
			checks = []model.CheckResult{connector.Failed(name, "error: connector audit panicked")}
		}
		e.metrics.ObserveConnector(logger.SafeToken(name), e.now().Sub(start))
	}()

	cctx, cancel := context.WithTimeout(ctx, e.connectorTimeout)
	defer cancel()

	checks, err := c.Audit(cctx)
	if err != nil {
		log.Error(err, "connector audit failed")
		switch {
		case errors.Is(err, context.Canceled) || (ctx.Err() != nil && errors.Is(err, context.DeadlineExceeded)):
			return []model.CheckResult{connector.Cancelled(name)}
		case errors.Is(err, context.DeadlineExceeded) || cctx.Err() != nil:
			return []model.CheckResult{connector.Failed(name, "error: timed out after "+e.connectorTimeout.String())}
		}
		return []model.CheckResult{connector.Failed(name, "error: "+describe(err))}
	}
	return attribute(name, checks)
}

// attribute pins every check to the connector that produced it.
func attribute(name string, checks []model.CheckResult) []model.CheckResult {
	safe := logger.SafeToken(name)
	out := make([]model.CheckResult, 0, len(checks))
	for i, check := range checks {
		check.Scope = safe
		if check.ID == "" {
			check.ID = safe + ".check." + strconv.Itoa(i)
		}
		if !check.Status.IsValid() {
			check.Status = model.StatusError
			check.Category = model.CategoryInternal
		}
		check.Normalize()
		out = append(out, check)
	}
	return out
}

// overlayPolicy raises risk to the policy rule's level and ORs in the rule's
// approval flag, then re-normalizes.
func (e *Engine) overlayPolicy(checks []model.CheckResult) {
	for i := range checks {
		check := &checks[i]
		if check.ChangeID == "" {
			continue
		}
		req, err := model.ParseChangeID(check.ChangeID)
		if err != nil {
			e.log.WithConnector(check.Scope).Warn("dropping malformed change id")
			check.ChangeID = ""
			continue
		}
		rule := e.policy.RuleFor(req.System, req.ResourceType)
		check.Risk = model.MaxRisk(check.Risk, rule.Risk)
		check.RequiresApproval = check.RequiresApproval || rule.RequiresApproval
		check.Normalize()
	}
}

func describe(err error) string {
	var transportErr *reconerrors.TransportError
	if errors.As(err, &transportErr) {
		return fmt.Sprintf("%s unreachable (%s)", logger.SafeToken(transportErr.System), transportErr.Kind)
	}
	var cfgErr *reconerrors.ConfigurationError
	if errors.As(err, &cfgErr) {
		return cfgErr.Error()
	}
	return err.Error()
}
