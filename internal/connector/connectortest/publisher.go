package connectortest

import (
	"context"
	"fmt"
	"sync"

	"github.com/alexisbeaulieu97/reconciler/internal/connector"
)

// Step names recorded by Publisher.
const (
	StepDefaultBranch = "default_branch"
	StepBaseCommit    = "base_commit"
	StepCreateBranch  = "create_branch"
	StepPutFile       = "put_file"
	StepOpenPR        = "open_pull_request"
	StepDeleteBranch  = "delete_branch"
)

// Publisher is an in-memory connector.ReviewPublisher. FailOn maps a step
// name to the error that step returns.
type Publisher struct {
	SHA    string
	PRURL  string
	FailOn map[string]error

	mu       sync.Mutex
	calls    []string
	branches map[string]string
	files    map[string][]byte
}

var _ connector.ReviewPublisher = (*Publisher)(nil)

func (p *Publisher) record(step, detail string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if detail != "" {
		p.calls = append(p.calls, step+" "+detail)
	} else {
		p.calls = append(p.calls, step)
	}
	return p.FailOn[step]
}

func (p *Publisher) DefaultBranch(context.Context) (string, error) {
	if err := p.record(StepDefaultBranch, ""); err != nil {
		return "", err
	}
	return "main", nil
}

func (p *Publisher) BaseCommit(_ context.Context, branch string) (string, error) {
	if err := p.record(StepBaseCommit, branch); err != nil {
		return "", err
	}
	if p.SHA == "" {
		return "0123456789abcdef0123456789abcdef01234567", nil
	}
	return p.SHA, nil
}

func (p *Publisher) CreateBranch(_ context.Context, branch, sha string) error {
	if err := p.record(StepCreateBranch, branch); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.branches == nil {
		p.branches = map[string]string{}
	}
	p.branches[branch] = sha
	return nil
}

func (p *Publisher) PutFile(_ context.Context, branch, path string, content []byte, _ string) error {
	if err := p.record(StepPutFile, path); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.files == nil {
		p.files = map[string][]byte{}
	}
	p.files[branch+":"+path] = append([]byte(nil), content...)
	return nil
}

func (p *Publisher) OpenPullRequest(_ context.Context, head, base, _, _ string) (string, error) {
	if err := p.record(StepOpenPR, head+"->"+base); err != nil {
		return "", err
	}
	if p.PRURL == "" {
		return fmt.Sprintf("https://example.test/pull/%s", head), nil
	}
	return p.PRURL, nil
}

func (p *Publisher) DeleteBranch(_ context.Context, branch string) error {
	if err := p.record(StepDeleteBranch, branch); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.branches, branch)
	return nil
}

// Calls returns every recorded step in order.
func (p *Publisher) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// Branches returns the branches that currently exist.
func (p *Publisher) Branches() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.branches))
	for b := range p.branches {
		out = append(out, b)
	}
	return out
}

// File returns content written to branch:path.
func (p *Publisher) File(branch, path string) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.files[branch+":"+path]
	return b, ok
}
