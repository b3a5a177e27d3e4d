package connector

import (
	"context"
	"errors"
	"fmt"

	"github.com/alexisbeaulieu97/reconciler/internal/logger"
	"github.com/alexisbeaulieu97/reconciler/internal/model"
	reconerrors "github.com/alexisbeaulieu97/reconciler/pkg/errors"
)

// Resource identifies the subject of a check.
type Resource struct {
	Scope string
	Type  string
	Name  string
}

// ID is the stable check identifier "<scope>.<type>.<name>".
func (r Resource) ID() string {
	return r.Scope + "." + r.Type + "." + r.Name
}

// Change builds the change request that would remediate this resource.
func (r Resource) Change(action string) model.ChangeRequest {
	return model.ChangeRequest{System: r.Scope, ResourceType: r.Type, Action: action, Name: r.Name}
}

func (r Resource) base(status model.Status, category model.Category, msg string) model.CheckResult {
	return model.CheckResult{
		ID:       r.ID(),
		Scope:    r.Scope,
		Name:     r.Type + " " + r.Name,
		Status:   status,
		Category: category,
		Message:  msg,
	}
}

// Compliant reports a resource that matches the desired state.
func Compliant(r Resource, msg string) model.CheckResult {
	return r.base(model.StatusPass, model.CategoryCompliant, msg)
}

// Absent reports a missing resource: fail when critical, warning otherwise.
func Absent(r Resource, critical bool, msg string) model.CheckResult {
	status := model.StatusFail
	if !critical {
		status = model.StatusWarning
	}
	return r.base(status, model.CategoryAbsent, msg)
}

// Drifted reports an attribute mismatch: fail when security-relevant, warning otherwise.
func Drifted(r Resource, securityRelevant bool, msg, diff string) model.CheckResult {
	status := model.StatusWarning
	if securityRelevant {
		status = model.StatusFail
	}
	check := r.base(status, model.CategoryDrift, msg)
	check.Diff = diff
	return check
}

// Unverifiable reports a resource whose existence is confirmed but whose
// attributes could not be inspected. It is never upgraded to pass.
func Unverifiable(r Resource, msg, reason string) model.CheckResult {
	return r.base(model.StatusWarning, model.CategoryPartial, fmt.Sprintf("%s (reduced confidence: %s)", msg, reason))
}

// FromError classifies a failed fetch. Only ErrNotFound means absent; every
// other failure, timeouts included, means the check could not be completed.
func FromError(r Resource, critical bool, err error) model.CheckResult {
	if errors.Is(err, reconerrors.ErrNotFound) {
		return Absent(r, critical, fmt.Sprintf("%s %s not found", r.Type, r.Name))
	}
	check := r.base(model.StatusError, model.CategoryTransport, "check could not be completed: "+describeError(err))
	if errors.Is(err, context.Canceled) {
		check.Category = model.CategoryCancelled
		check.Message = "cancelled"
	}
	return check
}

// Remediable attaches a change id and risk to a non-passing check.
func Remediable(check model.CheckResult, req model.ChangeRequest, risk model.Risk, suggested string) model.CheckResult {
	check.ChangeID = req.String()
	check.Risk = risk
	check.SuggestedAction = suggested
	check.Normalize()
	return check
}

// Manual attaches a suggested action for systems that cannot be remediated by the engine.
func Manual(check model.CheckResult, suggested string) model.CheckResult {
	check.SuggestedAction = suggested
	return check
}

// Unconfigured is the single check produced for a connector without credentials.
// Explicitly requested connectors report an error; otherwise a warning.
func Unconfigured(name string, explicit bool) model.CheckResult {
	safe := logger.SafeToken(name)
	status := model.StatusWarning
	if explicit {
		status = model.StatusError
	}
	return model.CheckResult{
		ID:              safe + ".configuration",
		Scope:           safe,
		Name:            "configuration",
		Status:          status,
		Category:        model.CategoryConfiguration,
		Message:         reconerrors.NewConfigurationError(safe, "no credentials configured").Error(),
		SuggestedAction: fmt.Sprintf("add a [connectors.%s] credential table to the runtime config", safe),
	}
}

// Failed is the single check synthesized when a connector's audit errors or panics.
func Failed(name string, msg string) model.CheckResult {
	safe := logger.SafeToken(name)
	return model.CheckResult{
		ID:       safe + ".audit",
		Scope:    safe,
		Name:     "audit",
		Status:   model.StatusError,
		Category: model.CategoryInternal,
		Message:  msg,
	}
}

// Cancelled is the check synthesized for a connector that did not finish before the deadline.
func Cancelled(name string) model.CheckResult {
	check := Failed(name, "error: cancelled")
	check.Category = model.CategoryCancelled
	return check
}

func describeError(err error) string {
	var transportErr *reconerrors.TransportError
	if errors.As(err, &transportErr) {
		switch transportErr.Kind {
		case reconerrors.TransportTimeout:
			return "timeout"
		case reconerrors.TransportRateLimit:
			return "rate limited by remote system"
		case reconerrors.TransportAuth:
			return "credentials rejected"
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return err.Error()
}
