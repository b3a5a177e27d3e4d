// Package connectortest provides an in-memory Connector for engine tests.
package connectortest

import (
	"context"
	"sync"

	"github.com/alexisbeaulieu97/reconciler/internal/connector"
	"github.com/alexisbeaulieu97/reconciler/internal/model"
)

// Fake is a scriptable connector. Zero-valued hooks fall back to returning
// Checks and a successful Outcome.
type Fake struct {
	ConnectorName string
	Caps          connector.Capabilities
	Unconfigured  bool
	Checks        []model.CheckResult
	AuditErr      error
	AuditFunc     func(ctx context.Context) ([]model.CheckResult, error)
	ApplyFunc     func(ctx context.Context, req model.ChangeRequest) (connector.Outcome, error)
	Files         map[string][]connector.Artifact
	// ChangeRisk is returned by Risk; empty means low.
	ChangeRisk model.Risk

	mu         sync.Mutex
	auditCalls int
	applied    []model.ChangeRequest
}

var (
	_ connector.Connector        = (*Fake)(nil)
	_ connector.ArtifactProvider = (*Fake)(nil)
	_ connector.RiskAssessor     = (*Fake)(nil)
)

// Name implements connector.Connector.
func (f *Fake) Name() string { return f.ConnectorName }

// Capabilities implements connector.Connector.
func (f *Fake) Capabilities() connector.Capabilities { return f.Caps }

// IsConfigured implements connector.Connector.
func (f *Fake) IsConfigured() bool { return !f.Unconfigured }

// Audit implements connector.Connector.
func (f *Fake) Audit(ctx context.Context) ([]model.CheckResult, error) {
	f.mu.Lock()
	f.auditCalls++
	f.mu.Unlock()
	if f.AuditFunc != nil {
		return f.AuditFunc(ctx)
	}
	if f.AuditErr != nil {
		return nil, f.AuditErr
	}
	out := make([]model.CheckResult, len(f.Checks))
	copy(out, f.Checks)
	return out, nil
}

// Apply implements connector.Connector.
func (f *Fake) Apply(ctx context.Context, req model.ChangeRequest) (connector.Outcome, error) {
	f.mu.Lock()
	f.applied = append(f.applied, req)
	f.mu.Unlock()
	if f.ApplyFunc != nil {
		return f.ApplyFunc(ctx, req)
	}
	return connector.Outcome{Success: true, Message: "applied"}, nil
}

// Artifacts implements connector.ArtifactProvider.
func (f *Fake) Artifacts(req model.ChangeRequest) ([]connector.Artifact, error) {
	return f.Files[req.String()], nil
}

// Risk implements connector.RiskAssessor.
func (f *Fake) Risk(model.ChangeRequest) model.Risk {
	if f.ChangeRisk == "" {
		return model.RiskLow
	}
	return f.ChangeRisk
}

// AuditCalls reports how many times Audit ran.
func (f *Fake) AuditCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.auditCalls
}

// Applied returns every request passed to Apply.
func (f *Fake) Applied() []model.ChangeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.ChangeRequest(nil), f.applied...)
}
