package desired

import (
	"time"

	"github.com/alexisbeaulieu97/reconciler/internal/model"
)

const (
	defaultBaseBranch   = "main"
	defaultBranchPrefix = "reconcile/"
	defaultTolerance    = 5 * time.Minute
)

// Policy is the change-approval policy document.
type Policy struct {
	Version  string         `yaml:"version" toml:"version" validate:"required,semver"`
	Review   ReviewPolicy   `yaml:"review" toml:"review"`
	Approval ApprovalPolicy `yaml:"approval" toml:"approval"`
	Rules    []Rule         `yaml:"rules" toml:"rules" validate:"dive"`
}

// ReviewPolicy configures review-mediated application.
type ReviewPolicy struct {
	BaseBranch   string   `yaml:"base_branch,omitempty" toml:"base_branch,omitempty" validate:"omitempty,max=255"`
	BranchPrefix string   `yaml:"branch_prefix,omitempty" toml:"branch_prefix,omitempty" validate:"omitempty,max=64"`
	AllowedPaths []string `yaml:"allowed_paths" toml:"allowed_paths" validate:"dive,relpath"`
}

// ApprovalPolicy configures the signed-callback tolerance window.
type ApprovalPolicy struct {
	Tolerance Duration `yaml:"tolerance,omitempty" toml:"tolerance,omitempty"`
}

// Rule sets how changes for one (system, resource) pair may be applied.
type Rule struct {
	System           string     `yaml:"system" toml:"system" validate:"required,system"`
	Resource         string     `yaml:"resource" toml:"resource" validate:"required,max=64"`
	AutoApply        bool       `yaml:"auto_apply" toml:"auto_apply"`
	RequiresApproval bool       `yaml:"requires_approval" toml:"requires_approval"`
	Risk             model.Risk `yaml:"risk,omitempty" toml:"risk,omitempty" validate:"omitempty,risk"`
}

// DefaultPolicy returns a conservative policy: nothing is auto-applied.
func DefaultPolicy() *Policy {
	p := &Policy{Version: "1.0"}
	p.applyDefaults()
	return p
}

func (p *Policy) applyDefaults() {
	if p.Review.BaseBranch == "" {
		p.Review.BaseBranch = defaultBaseBranch
	}
	if p.Review.BranchPrefix == "" {
		p.Review.BranchPrefix = defaultBranchPrefix
	}
	if p.Approval.Tolerance.Duration <= 0 {
		p.Approval.Tolerance.Duration = defaultTolerance
	}
}

// RuleFor resolves the rule for a pair: exact resource match first, then the
// "*" wildcard for the system, then the zero rule.
func (p *Policy) RuleFor(system, resource string) Rule {
	if p == nil {
		return Rule{System: system, Resource: resource}
	}
	var wildcard *Rule
	for i := range p.Rules {
		rule := &p.Rules[i]
		if rule.System != system {
			continue
		}
		if rule.Resource == resource {
			return *rule
		}
		if rule.Resource == "*" && wildcard == nil {
			wildcard = rule
		}
	}
	if wildcard != nil {
		out := *wildcard
		out.Resource = resource
		return out
	}
	return Rule{System: system, Resource: resource}
}
