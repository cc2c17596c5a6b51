package reporters

import (
	"context"
	"fmt"

	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"

	"github.com/zulandar/buildyard/internal/buildsets"
	"github.com/zulandar/buildyard/internal/config"
	"github.com/zulandar/buildyard/internal/results"
)

// statusClient abstracts the commit-status endpoint, enabling test mocks.
// *github.RepositoriesService satisfies it.
type statusClient interface {
	CreateStatus(ctx context.Context, owner, repo, ref string, status *github.RepoStatus) (*github.RepoStatus, *github.Response, error)
}

// GitHubReporter sets a commit status on every sourcestamp revision of a
// completed buildset.
type GitHubReporter struct {
	client  statusClient
	owner   string
	repo    string
	context string
}

// NewGitHubReporter creates a GitHub commit-status reporter. A nil client
// uses the real API authenticated with the configured token.
func NewGitHubReporter(cfg config.GitHubConfig, client statusClient) (*GitHubReporter, error) {
	if client == nil {
		if cfg.Token == "" {
			return nil, fmt.Errorf("reporters: github token is required")
		}
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		client = github.NewClient(oauth2.NewClient(context.Background(), ts)).Repositories
	}
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("reporters: github owner and repo are required")
	}
	return &GitHubReporter{
		client:  client,
		owner:   cfg.Owner,
		repo:    cfg.Repo,
		context: cfg.Context,
	}, nil
}

func (r *GitHubReporter) Name() string { return "github" }

// BuildsetComplete posts one commit status per sourcestamp that carries a
// revision. Sourcestamps without a revision cannot anchor a status and are
// skipped.
func (r *GitHubReporter) BuildsetComplete(ctx context.Context, bs *buildsets.Buildset) error {
	code := resultCode(bs)
	status := &github.RepoStatus{
		State:       github.String(stateFor(code)),
		Description: github.String(fmt.Sprintf("buildset %d: %s", bs.BSID, results.Name(code))),
		Context:     github.String(r.context),
	}
	for _, ss := range bs.SourceStamps {
		if ss.Revision == "" {
			continue
		}
		if _, _, err := r.client.CreateStatus(ctx, r.owner, r.repo, ss.Revision, status); err != nil {
			return fmt.Errorf("reporters: github status for %s: %w", ss.Revision, err)
		}
	}
	return nil
}

// stateFor maps a result code onto GitHub's four commit states.
func stateFor(code int) string {
	switch code {
	case results.Success, results.Skipped, results.Warnings:
		return "success"
	case results.Failure:
		return "failure"
	default:
		return "error"
	}
}
