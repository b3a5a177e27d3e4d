// Package change selects an application path for requested changes and
// carries them out: direct apply, review-mediated apply or an approval request.
package change

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/alexisbeaulieu97/reconciler/internal/connector"
	"github.com/alexisbeaulieu97/reconciler/internal/desired"
	"github.com/alexisbeaulieu97/reconciler/internal/logger"
	"github.com/alexisbeaulieu97/reconciler/internal/metrics"
	"github.com/alexisbeaulieu97/reconciler/internal/model"
	reconerrors "github.com/alexisbeaulieu97/reconciler/pkg/errors"
)

// ApprovalRequester sends a change to a human for a decision.
type ApprovalRequester interface {
	Request(ctx context.Context, change model.Change) error
}

// Options configures an Engine.
type Options struct {
	Registry *connector.Registry
	Policy   *desired.Policy
	// Publisher is required for review-mediated apply.
	Publisher connector.ReviewPublisher
	// Approvals is optional; without it approval-gated changes only report pending.
	Approvals ApprovalRequester
	Logger    *logger.Logger
	Metrics   *metrics.Metrics
	// NewSuffix generates the unique part of review branch names.
	NewSuffix func() string
}

// Request lists the changes to apply and the paths the caller permits.
type Request struct {
	ChangeIDs   []string
	GeneratePR  bool
	DirectApply bool
	// Approvals carries verified decisions keyed by change id. An approval
	// lifts the approval gate only; direct apply still needs an auto-apply rule.
	Approvals map[string]model.ApprovalStatus
}

// Engine applies changes. It holds no state between calls.
type Engine struct {
	registry  *connector.Registry
	policy    *desired.Policy
	publisher connector.ReviewPublisher
	approvals ApprovalRequester
	log       *logger.Logger
	metrics   *metrics.Metrics
	newSuffix func() string
}

// New constructs an Engine.
func New(opts Options) *Engine {
	e := &Engine{
		registry:  opts.Registry,
		policy:    opts.Policy,
		publisher: opts.Publisher,
		approvals: opts.Approvals,
		log:       opts.Logger,
		metrics:   opts.Metrics,
		newSuffix: opts.NewSuffix,
	}
	if e.registry == nil {
		e.registry = connector.NewRegistry()
	}
	if e.policy == nil {
		e.policy = desired.DefaultPolicy()
	}
	if e.log == nil {
		e.log = logger.Nop()
	}
	if e.newSuffix == nil {
		e.newSuffix = func() string { return uuid.NewString()[:8] }
	}
	return e
}

// Apply processes each change independently, in order. One change failing
// never stops the others and nothing is retried.
func (e *Engine) Apply(ctx context.Context, req Request) []model.ApplyResult {
	results := make([]model.ApplyResult, 0, len(req.ChangeIDs))
	for _, id := range req.ChangeIDs {
		if err := ctx.Err(); err != nil {
			results = append(results, failure(id, model.PathNone, "cancelled before apply", err))
			continue
		}
		result, system := e.applyOne(ctx, id, req)
		e.metrics.ObserveApply(system, result)
		results = append(results, result)
	}
	return results
}

func (e *Engine) applyOne(ctx context.Context, id string, req Request) (model.ApplyResult, string) {
	parsed, err := model.ParseChangeID(id)
	if err != nil {
		return failure(id, model.PathNone, "invalid change id", err), "unknown"
	}
	system := logger.SafeToken(parsed.System)
	log := e.log.WithConnector(parsed.System).WithFields(map[string]any{"change_id": parsed.String()})

	c, ok := e.registry.Get(parsed.System)
	if !ok {
		return failure(id, model.PathNone, "unknown system "+system, nil), system
	}
	if !c.IsConfigured() {
		return failure(id, model.PathNone, "connector not configured", reconerrors.NewConfigurationError(system, "no credentials configured")), system
	}

	rule := e.policy.RuleFor(parsed.System, parsed.ResourceType)
	risk := rule.Risk
	if assessor, ok := c.(connector.RiskAssessor); ok {
		risk = model.MaxRisk(risk, assessor.Risk(parsed))
	}
	needsApproval := rule.RequiresApproval || risk.Mandatory()
	status := req.Approvals[id]

	if status == model.ApprovalRejected {
		return failure(id, model.PathApproval, "change was rejected by an approver", nil), system
	}

	if req.GeneratePR {
		if provider, ok := c.(connector.ArtifactProvider); ok {
			artifacts, err := provider.Artifacts(parsed)
			if err != nil {
				return failure(id, model.PathReview, "could not build review artifacts", err), system
			}
			if len(artifacts) > 0 {
				log.Info("applying change through review")
				result := e.review(ctx, parsed, artifacts)
				if result.Success && needsApproval && status != model.ApprovalApproved {
					e.announceReview(ctx, parsed, risk, &result, log)
				}
				return result, system
			}
		}
	}

	if !req.DirectApply {
		return failure(id, model.PathNone, "no application path permitted: request --pr for reviewable changes or --direct for auto-applicable ones", nil), system
	}
	// direct apply needs an auto-apply rule; an approval never substitutes for one
	switch {
	case !c.Capabilities().SupportsApply:
		return failure(id, model.PathNone, system+" is read-only; change must be made manually", nil), system
	case !rule.AutoApply:
		return failure(id, model.PathNone, fmt.Sprintf("policy does not allow automatic apply for %s %s", system, logger.SafeToken(parsed.ResourceType)), nil), system
	case needsApproval && status != model.ApprovalApproved:
		return e.requestApproval(ctx, parsed, risk, log), system
	}
	log.Info("applying change directly")
	return e.direct(ctx, c, parsed), system
}

func (e *Engine) direct(ctx context.Context, c connector.Connector, req model.ChangeRequest) model.ApplyResult {
	outcome, err := c.Apply(ctx, req)
	if err != nil {
		return failure(req.String(), model.PathDirect, "apply failed", err)
	}
	return model.ApplyResult{
		ChangeID: req.String(),
		Success:  outcome.Success,
		Message:  outcome.Message,
		Path:     model.PathDirect,
		PRURL:    outcome.PRURL,
	}
}

func (e *Engine) requestApproval(ctx context.Context, req model.ChangeRequest, risk model.Risk, log *logger.Logger) model.ApplyResult {
	result := model.ApplyResult{ChangeID: req.String(), Path: model.PathApproval}
	if e.approvals == nil {
		result.Message = "approval required; no approval channel configured"
		return result
	}
	change := model.Change{
		ID:               req.String(),
		Scope:            req.System,
		Type:             req.ResourceType,
		Risk:             risk,
		RequiresApproval: true,
		ApprovalStatus:   model.ApprovalPending,
		Actions:          e.describe(req),
	}
	if err := e.approvals.Request(ctx, change); err != nil {
		log.Error(err, "approval request failed")
		return failure(req.String(), model.PathApproval, "approval request could not be sent", err)
	}
	result.Message = "approval requested; change is pending"
	return result
}

// announceReview posts an opened review to the approval channel so every
// gated change is seen there. A failed post leaves the review in place.
func (e *Engine) announceReview(ctx context.Context, req model.ChangeRequest, risk model.Risk, result *model.ApplyResult, log *logger.Logger) {
	if e.approvals == nil {
		return
	}
	actions := append(e.describe(req), model.ChangeAction{Type: model.ActionPR, Description: "review pull request", Path: result.PRURL})
	err := e.approvals.Request(ctx, model.Change{
		ID:               req.String(),
		Scope:            req.System,
		Type:             req.ResourceType,
		Risk:             risk,
		RequiresApproval: true,
		ApprovalStatus:   model.ApprovalPending,
		Actions:          actions,
	})
	if err != nil {
		log.Error(err, "approval request for review failed")
		result.Message += "; approval request could not be sent"
		return
	}
	result.Message += "; approval requested"
}

func (e *Engine) describe(req model.ChangeRequest) []model.ChangeAction {
	c, ok := e.registry.Get(req.System)
	if ok {
		if planner, ok := c.(connector.Planner); ok {
			if actions := planner.Describe(req); len(actions) > 0 {
				return actions
			}
		}
	}
	return []model.ChangeAction{{Type: model.ActionAPI, Description: "apply " + req.String()}}
}

func failure(id string, path model.ApplyPath, msg string, err error) model.ApplyResult {
	result := model.ApplyResult{ChangeID: id, Path: path, Message: msg}
	if err != nil {
		result.Error = err.Error()
		var stepErr *reconerrors.StepError
		if errors.As(err, &stepErr) {
			result.FailedStep = stepErr.Step
		}
	}
	return result
}
