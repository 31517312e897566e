package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	gh "github.com/google/go-github/v80/github"
	"golang.org/x/oauth2"

	"primate-rag/internal/domain"
)

// DefaultGitHubTimeout bounds each GitHub API request.
const DefaultGitHubTimeout = 30 * time.Second

// GitHubSource fetches the catalog README from a GitHub repository.
type GitHubSource struct {
	Owner string
	Repo  string
	Ref   string // branch, tag or commit; empty for the default branch
	Path  string // defaults to README.md

	client *gh.Client
}

// NewGitHubSource creates a source. token may be empty for public
// repositories, subject to the unauthenticated rate limit.
func NewGitHubSource(ctx context.Context, owner, repo, ref, token string) *GitHubSource {
	var hc *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		hc = oauth2.NewClient(ctx, ts)
	} else {
		hc = &http.Client{}
	}
	hc.Timeout = DefaultGitHubTimeout
	return &GitHubSource{Owner: owner, Repo: repo, Ref: ref, client: gh.NewClient(hc)}
}

// NewGitHubSourceFromEnv reads the token from the named environment variable.
func NewGitHubSourceFromEnv(ctx context.Context, owner, repo, ref, tokenEnv string) *GitHubSource {
	var token string
	if tokenEnv != "" {
		token = os.Getenv(tokenEnv)
	}
	return NewGitHubSource(ctx, owner, repo, ref, token)
}

// WithBaseURL points the source at a GitHub Enterprise or test server.
func (s *GitHubSource) WithBaseURL(baseURL string) (*GitHubSource, error) {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	s.client.BaseURL = u
	return s, nil
}

// Fetch downloads and parses the README.
func (s *GitHubSource) Fetch(ctx context.Context) ([]domain.Document, error) {
	path := s.Path
	if path == "" {
		path = "README.md"
	}
	var opts *gh.RepositoryContentGetOptions
	if s.Ref != "" {
		opts = &gh.RepositoryContentGetOptions{Ref: s.Ref}
	}
	file, _, resp, err := s.client.Repositories.GetContents(ctx, s.Owner, s.Repo, path, opts)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("fetch %s/%s/%s: %w", s.Owner, s.Repo, path, domain.ErrNotFound)
		}
		return nil, domain.Upstream("github contents", err)
	}
	if file == nil {
		return nil, fmt.Errorf("fetch %s/%s/%s: %w: path is a directory", s.Owner, s.Repo, path, domain.ErrInvalidInput)
	}
	content, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return Parse(strings.NewReader(content))
}
