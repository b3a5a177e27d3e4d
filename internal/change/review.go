package change

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/alexisbeaulieu97/reconciler/internal/connector"
	"github.com/alexisbeaulieu97/reconciler/internal/desired"
	"github.com/alexisbeaulieu97/reconciler/internal/logger"
	"github.com/alexisbeaulieu97/reconciler/internal/model"
	reconerrors "github.com/alexisbeaulieu97/reconciler/pkg/errors"
)

// Saga step names reported in ApplyResult.FailedStep.
const (
	StepValidatePaths = "validate_paths"
	StepBaseCommit    = "base_commit"
	StepCreateBranch  = "create_branch"
	StepPutFile       = "put_file"
	StepOpenPR        = "open_pull_request"
)

// ValidateArtifactPaths rejects any artifact outside the policy allow-list or
// carrying traversal, absolute, backslash or NUL components.
func ValidateArtifactPaths(artifacts []connector.Artifact, allowed []string) error {
	if len(allowed) == 0 {
		return reconerrors.NewValidationError("path", "policy allows no review paths", nil)
	}
	for _, a := range artifacts {
		if !desired.IsSafeRelativePath(a.Path) {
			return reconerrors.NewValidationError("path", fmt.Sprintf("unsafe artifact path %q", strings.ToValidUTF8(a.Path, "?")), nil)
		}
		if !underAllowedRoot(path.Clean(a.Path), allowed) {
			return reconerrors.NewValidationError("path", fmt.Sprintf("artifact path %q is outside the allowed paths", a.Path), nil)
		}
	}
	return nil
}

func underAllowedRoot(p string, allowed []string) bool {
	for _, root := range allowed {
		root = strings.TrimSuffix(path.Clean(root), "/")
		if p == root || strings.HasPrefix(p, root+"/") {
			return true
		}
	}
	return false
}

// review runs the saga: base commit, branch, files, pull request. A failure
// after the branch exists triggers a best-effort branch deletion; whatever
// could not be cleaned up is reported in LeftBehind.
func (e *Engine) review(ctx context.Context, req model.ChangeRequest, artifacts []connector.Artifact) model.ApplyResult {
	id := req.String()
	if err := ValidateArtifactPaths(artifacts, e.policy.Review.AllowedPaths); err != nil {
		return failure(id, model.PathReview, "review artifacts rejected", reconerrors.NewStepError(StepValidatePaths, err))
	}
	if e.publisher == nil {
		return failure(id, model.PathReview, "no review publisher configured", reconerrors.NewConfigurationError(desired.SystemGitHub, "no credentials configured"))
	}

	base := e.policy.Review.BaseBranch
	if base == "" {
		var err error
		if base, err = e.publisher.DefaultBranch(ctx); err != nil {
			return failure(id, model.PathReview, "could not resolve base branch", reconerrors.NewStepError(StepBaseCommit, err))
		}
	}

	sha, err := e.publisher.BaseCommit(ctx, base)
	if err != nil {
		return failure(id, model.PathReview, "could not read base commit", reconerrors.NewStepError(StepBaseCommit, err))
	}

	branch := fmt.Sprintf("%s%s-%s-%s", e.policy.Review.BranchPrefix,
		logger.SafeToken(req.System), logger.SafeToken(req.Action), e.newSuffix())
	if err := e.publisher.CreateBranch(ctx, branch, sha); err != nil {
		result := failure(id, model.PathReview, "could not create review branch", reconerrors.NewStepError(StepCreateBranch, err))
		if isAmbiguous(err) {
			result.LeftBehind = e.compensate(ctx, branch, false)
		}
		return result
	}

	for _, a := range artifacts {
		msg := a.Summary
		if msg == "" {
			msg = "reconcile " + id
		}
		if err := e.publisher.PutFile(ctx, branch, a.Path, a.Content, msg); err != nil {
			result := failure(id, model.PathReview, "could not write "+a.Path, reconerrors.NewStepError(StepPutFile, err))
			result.LeftBehind = e.compensate(ctx, branch, false)
			return result
		}
	}

	url, err := e.publisher.OpenPullRequest(ctx, branch, base, "Reconcile "+id, pullRequestBody(req, artifacts))
	if err != nil {
		result := failure(id, model.PathReview, "could not open pull request", reconerrors.NewStepError(StepOpenPR, err))
		result.LeftBehind = e.compensate(ctx, branch, isAmbiguous(err))
		return result
	}

	return model.ApplyResult{
		ChangeID: id,
		Success:  true,
		Message:  "pull request opened",
		Path:     model.PathReview,
		PRURL:    url,
	}
}

// compensate deletes branch and lists what remains in the external system.
func (e *Engine) compensate(ctx context.Context, branch string, prMayExist bool) []string {
	var left []string
	if prMayExist {
		left = append(left, "pull request from "+branch+" (state unknown)")
	}
	cleanup := context.WithoutCancel(ctx)
	if err := e.publisher.DeleteBranch(cleanup, branch); err != nil {
		e.log.Error(err, "review branch cleanup failed")
		left = append(left, "branch "+branch)
	}
	return left
}

// isAmbiguous reports failures after which the remote side may have acted.
func isAmbiguous(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var transportErr *reconerrors.TransportError
	if errors.As(err, &transportErr) {
		return transportErr.Kind == reconerrors.TransportTimeout || transportErr.Kind == reconerrors.TransportNetwork
	}
	return false
}

func pullRequestBody(req model.ChangeRequest, artifacts []connector.Artifact) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Automated reconciliation for `%s`.\n\nFiles:\n", req.String())
	for _, a := range artifacts {
		fmt.Fprintf(&b, "- `%s`", a.Path)
		if a.Summary != "" {
			fmt.Fprintf(&b, ": %s", a.Summary)
		}
		b.WriteString("\n")
	}
	return b.String()
}
