package model

import (
	"fmt"
	"regexp"
	"strings"
)

var segmentPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// ChangeRequest identifies one remediation. It is parsed once from its string
// form and passed around structurally afterwards.
type ChangeRequest struct {
	System       string `json:"system"`
	ResourceType string `json:"resourceType"`
	Action       string `json:"action"`
	Name         string `json:"name"`
}

// ParseChangeID decodes "system.resourcetype.action.name". The name segment
// may itself contain dots.
func ParseChangeID(id string) (ChangeRequest, error) {
	parts := strings.SplitN(id, ".", 4)
	if len(parts) != 4 {
		return ChangeRequest{}, fmt.Errorf("change id must have the form system.resource.action.name")
	}
	req := ChangeRequest{System: parts[0], ResourceType: parts[1], Action: parts[2], Name: parts[3]}
	if err := req.Validate(); err != nil {
		return ChangeRequest{}, err
	}
	return req, nil
}

// Validate checks every segment of the request.
func (r ChangeRequest) Validate() error {
	segments := []struct{ label, value string }{
		{"system", r.System},
		{"resource", r.ResourceType},
		{"action", r.Action},
	}
	for _, seg := range segments {
		if !segmentPattern.MatchString(seg.value) {
			return fmt.Errorf("change id %s segment must match [a-z0-9_-]+", seg.label)
		}
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("change id name segment is empty")
	}
	if strings.ContainsAny(r.Name, "\x00\n\r") {
		return fmt.Errorf("change id name contains control characters")
	}
	return nil
}

// String encodes the request back into its change id.
func (r ChangeRequest) String() string {
	return r.System + "." + r.ResourceType + "." + r.Action + "." + r.Name
}

// ActionType is the kind of work a ChangeAction performs.
type ActionType string

const (
	ActionSQL  ActionType = "sql"
	ActionAPI  ActionType = "api"
	ActionPR   ActionType = "pr"
	ActionFile ActionType = "file"
)

// ChangeAction is a single typed step of a Change.
type ChangeAction struct {
	Type        ActionType `json:"type"`
	Description string     `json:"description"`
	Path        string     `json:"path,omitempty"`
	Content     string     `json:"content,omitempty"`
}

// ApprovalStatus tracks a human decision on a change.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// IsValid reports whether the status is known.
func (s ApprovalStatus) IsValid() bool {
	return s == ApprovalPending || s == ApprovalApproved || s == ApprovalRejected
}

// Change is a structured remediation derived from a check.
type Change struct {
	ID               string         `json:"id"`
	Scope            string         `json:"scope"`
	Type             string         `json:"type"`
	Risk             Risk           `json:"risk"`
	RequiresApproval bool           `json:"requiresApproval"`
	ApprovalStatus   ApprovalStatus `json:"approvalStatus,omitempty"`
	Actions          []ChangeAction `json:"actions"`
}

// ApplyPath names how a change was (or would have been) applied.
type ApplyPath string

const (
	PathDirect   ApplyPath = "direct"
	PathReview   ApplyPath = "review"
	PathApproval ApplyPath = "approval"
	PathNone     ApplyPath = "none"
)

// ApplyResult is the outcome of applying one change.
type ApplyResult struct {
	ChangeID   string    `json:"changeId"`
	Success    bool      `json:"success"`
	Message    string    `json:"message"`
	Path       ApplyPath `json:"path"`
	PRURL      string    `json:"prUrl,omitempty"`
	Error      string    `json:"error,omitempty"`
	FailedStep string    `json:"failedStep,omitempty"`
	LeftBehind []string  `json:"leftBehind,omitempty"`
}
