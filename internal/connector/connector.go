package connector

import (
	"context"

	"github.com/alexisbeaulieu97/reconciler/internal/model"
)

// Capabilities declares which application paths a connector supports.
type Capabilities struct {
	// SupportsApply is false for read-only systems; the change engine never
	// calls Apply on such connectors.
	SupportsApply bool
	// SupportsReview is true when the connector can materialize artifacts for
	// review-mediated application.
	SupportsReview bool
}

// Outcome is what a direct Apply reports back.
type Outcome struct {
	Success bool
	Message string
	PRURL   string
}

// Connector reads (and optionally writes) one external system's resources.
//
// Implementations must:
//   - keep Audit strictly read-only and free of state shared between checks
//   - classify transport failures as StatusError, never as absence
//   - make Apply idempotent: re-check immediately before acting and treat
//     "already satisfied" as success
type Connector interface {
	// Name is the registry key and the scope of every check produced.
	Name() string

	// Capabilities reports the application paths this connector supports.
	Capabilities() Capabilities

	// IsConfigured reports whether a credential bundle is present.
	IsConfigured() bool

	// Audit compares desired and live state. A returned error means the
	// whole audit could not run; per-resource failures belong in the results.
	Audit(ctx context.Context) ([]model.CheckResult, error)

	// Apply performs one direct remediation.
	Apply(ctx context.Context, req model.ChangeRequest) (Outcome, error)
}

// Artifact is a file to be proposed through review-mediated apply.
type Artifact struct {
	Path    string
	Content []byte
	Summary string
}

// ArtifactProvider is implemented by connectors whose changes can be proposed
// as files in a pull request.
type ArtifactProvider interface {
	Artifacts(req model.ChangeRequest) ([]Artifact, error)
}

// Planner is implemented by connectors that can describe a change's actions
// without performing them.
type Planner interface {
	Describe(req model.ChangeRequest) []model.ChangeAction
}

// RiskAssessor is implemented by connectors that can rate a change without
// auditing first. The change engine uses it to decide whether approval is needed.
type RiskAssessor interface {
	Risk(req model.ChangeRequest) model.Risk
}

// ReviewPublisher is the version-control surface used by review-mediated apply.
type ReviewPublisher interface {
	// DefaultBranch returns the branch review branches are cut from when the
	// policy does not name one.
	DefaultBranch(ctx context.Context) (string, error)
	// BaseCommit returns the current commit SHA of branch.
	BaseCommit(ctx context.Context, branch string) (string, error)
	// CreateBranch creates branch pointing at sha.
	CreateBranch(ctx context.Context, branch, sha string) error
	// PutFile creates or updates path on branch.
	PutFile(ctx context.Context, branch, path string, content []byte, message string) error
	// OpenPullRequest opens a review request and returns its URL.
	OpenPullRequest(ctx context.Context, head, base, title, body string) (string, error)
	// DeleteBranch removes branch; used to compensate a failed saga.
	DeleteBranch(ctx context.Context, branch string) error
}
