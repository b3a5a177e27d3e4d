package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/alexisbeaulieu97/reconciler/internal/connector/httpapi"
	reconerrors "github.com/alexisbeaulieu97/reconciler/pkg/errors"
)

// DefaultBranch returns the repository's default branch.
func (c *Connector) DefaultBranch(ctx context.Context) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	var repo struct {
		DefaultBranch string `json:"default_branch"`
	}
	if err := c.client.Get(ctx, c.repoPath(), nil, &repo); err != nil {
		return "", err
	}
	if repo.DefaultBranch == "" {
		return "main", nil
	}
	return repo.DefaultBranch, nil
}

// BaseCommit returns the head SHA of branch.
func (c *Connector) BaseCommit(ctx context.Context, branch string) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	if err := validateBranch(branch); err != nil {
		return "", err
	}
	var ref struct {
		Object struct {
			SHA string `json:"sha"`
		} `json:"object"`
	}
	if err := c.client.Get(ctx, c.repoPath("git", "ref", "heads", branch), nil, &ref); err != nil {
		return "", err
	}
	if !plumbing.IsHash(ref.Object.SHA) {
		return "", reconerrors.NewTransportError(c.Name(), reconerrors.TransportDecode, 0, fmt.Errorf("invalid commit sha %q", ref.Object.SHA))
	}
	return ref.Object.SHA, nil
}

// CreateBranch creates branch at sha.
func (c *Connector) CreateBranch(ctx context.Context, branch, sha string) error {
	if err := c.ready(); err != nil {
		return err
	}
	if err := validateBranch(branch); err != nil {
		return err
	}
	if !plumbing.IsHash(sha) {
		return reconerrors.NewValidationError("sha", "not a commit hash", nil)
	}
	body := map[string]string{"ref": plumbing.NewBranchReferenceName(branch).String(), "sha": sha}
	_, err := c.client.Do(ctx, http.MethodPost, c.repoPath("git", "refs"), nil, body, nil)
	return err
}

// PutFile creates or updates path on branch.
func (c *Connector) PutFile(ctx context.Context, branch, path string, content []byte, message string) error {
	if err := c.ready(); err != nil {
		return err
	}
	var existing struct {
		SHA string `json:"sha"`
	}
	contentsPath := c.repoPath("contents", path)
	err := c.client.Get(ctx, contentsPath, url.Values{"ref": {branch}}, &existing)
	if err != nil && httpapi.StatusCode(err) != http.StatusNotFound {
		return err
	}

	body := map[string]string{
		"message": message,
		"content": base64.StdEncoding.EncodeToString(content),
		"branch":  branch,
	}
	if existing.SHA != "" {
		body["sha"] = existing.SHA
	}
	_, err = c.client.Do(ctx, http.MethodPut, contentsPath, nil, body, nil)
	return err
}

// OpenPullRequest opens a pull request and returns its URL.
func (c *Connector) OpenPullRequest(ctx context.Context, head, base, title, body string) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	var pr struct {
		HTMLURL string `json:"html_url"`
	}
	req := map[string]string{"title": title, "head": head, "base": base, "body": body}
	if _, err := c.client.Do(ctx, http.MethodPost, c.repoPath("pulls"), nil, req, &pr); err != nil {
		return "", err
	}
	return pr.HTMLURL, nil
}

// DeleteBranch removes branch. A branch that no longer exists counts as deleted.
func (c *Connector) DeleteBranch(ctx context.Context, branch string) error {
	if err := c.ready(); err != nil {
		return err
	}
	_, err := c.client.Do(ctx, http.MethodDelete, c.repoPath("git", "refs", "heads", branch), nil, nil, nil)
	if err != nil && httpapi.StatusCode(err) != http.StatusNotFound {
		return err
	}
	return nil
}

func (c *Connector) ready() error {
	if c.clientErr != nil {
		return c.clientErr
	}
	if c.client == nil {
		return reconerrors.NewConfigurationError(c.Name(), "no credentials configured")
	}
	return nil
}

func validateBranch(branch string) error {
	if err := plumbing.NewBranchReferenceName(branch).Validate(); err != nil {
		return reconerrors.NewValidationError("branch", fmt.Sprintf("invalid branch name %q", branch), err)
	}
	return nil
}
