// Package forge wraps the subset of the GitHub REST API the relay needs:
// PR head lookup, issue fetch, comment CRUD, and label replacement. It mints
// its own installation token lazily, once per request, and never retries a
// failed call internally -- callers decide whether a failure aborts the
// pipeline.
package forge

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/go-github/v68/github"
)

// UserAgent is sent on every request this package issues, including the
// installation-token exchange. The forge requires a distinguishing value.
const UserAgent = "agent-relay/1.0 (+https://github.com/agentrelay/relay)"

// ForgeError wraps a non-2xx forge response.
type ForgeError struct {
	Status int
	Body   string
}

func (e *ForgeError) Error() string {
	return fmt.Sprintf("forge error: status=%d body=%s", e.Status, e.Body)
}

// NewForgeError builds a ForgeError from an HTTP response, consuming its body.
func NewForgeError(resp *http.Response) *ForgeError {
	b, _ := io.ReadAll(resp.Body)
	return &ForgeError{Status: resp.StatusCode, Body: string(b)}
}

// Client is the subset of the GitHub API the relay's event pipeline needs.
type Client interface {
	// PRHeadSHA returns the lowercase hex head SHA of the given PR.
	PRHeadSHA(ctx context.Context, repo string, pr int) (string, error)

	// GetIssue fetches issue metadata (labels, assignees).
	GetIssue(ctx context.Context, repo string, issue int) (*github.Issue, error)

	// ListComments returns one page (100 per page) of an issue's comments.
	ListComments(ctx context.Context, repo string, issue int, page int) ([]*github.IssueComment, error)

	// CreateComment posts a new comment on the issue.
	CreateComment(ctx context.Context, repo string, issue int, body string) (*github.IssueComment, error)

	// UpdateComment edits an existing comment in place.
	UpdateComment(ctx context.Context, repo string, commentID int64, body string) error

	// PutLabels atomically replaces the issue's full label set.
	PutLabels(ctx context.Context, repo string, issue int, labels []string) error

	// CloseIssue transitions the issue to the closed state. Used only by
	// the thin v1 convenience wrapper; the v2 pipeline
	// never closes issues itself.
	CloseIssue(ctx context.Context, repo string, issue int) error
}

// clientImpl implements Client over go-github, minting its installation
// token at most once via a sync.Once guard scoped to this instance --
// callers construct one clientImpl per inbound request.
type clientImpl struct {
	auth       *AppAuth
	httpClient *http.Client

	tokenOnce sync.Once
	tokenErr  error
	gh        *github.Client
}

// NewRequestClient builds a Client scoped to a single inbound request. The
// installation token is not minted until the first forge call.
func NewRequestClient(auth *AppAuth) Client {
	return &clientImpl{auth: auth, httpClient: http.DefaultClient}
}

// NewClientWithGitHub wraps an existing *github.Client, bypassing app-token
// minting entirely. Used in tests to point at an httptest server.
func NewClientWithGitHub(gh *github.Client) Client {
	return &clientImpl{gh: gh}
}

func (c *clientImpl) ghClient(ctx context.Context) (*github.Client, error) {
	if c.gh != nil {
		return c.gh, nil
	}
	c.tokenOnce.Do(func() {
		token, err := c.auth.exchangeInstallationToken(ctx, c.httpClient)
		if err != nil {
			c.tokenErr = err
			return
		}
		gh := github.NewClient(c.httpClient).WithAuthToken(token)
		gh.UserAgent = UserAgent
		if base := c.auth.BaseURL; base != "" {
			if parsed, parseErr := url.Parse(strings.TrimSuffix(base, "/") + "/"); parseErr == nil {
				gh.BaseURL = parsed
			}
		}
		c.gh = gh
	})
	return c.gh, c.tokenErr
}

func splitRepo(repo string) (owner, name string) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 {
		return repo, ""
	}
	return parts[0], parts[1]
}

func (c *clientImpl) PRHeadSHA(ctx context.Context, repo string, pr int) (string, error) {
	gh, err := c.ghClient(ctx)
	if err != nil {
		return "", err
	}
	owner, name := splitRepo(repo)
	p, resp, err := gh.PullRequests.Get(ctx, owner, name, pr)
	if err != nil {
		return "", wrapError(resp, err)
	}
	return strings.ToLower(p.GetHead().GetSHA()), nil
}

func (c *clientImpl) GetIssue(ctx context.Context, repo string, issue int) (*github.Issue, error) {
	gh, err := c.ghClient(ctx)
	if err != nil {
		return nil, err
	}
	owner, name := splitRepo(repo)
	i, resp, err := gh.Issues.Get(ctx, owner, name, issue)
	if err != nil {
		return nil, wrapError(resp, err)
	}
	return i, nil
}

func (c *clientImpl) ListComments(ctx context.Context, repo string, issue int, page int) ([]*github.IssueComment, error) {
	gh, err := c.ghClient(ctx)
	if err != nil {
		return nil, err
	}
	owner, name := splitRepo(repo)
	comments, resp, err := gh.Issues.ListComments(ctx, owner, name, issue, &github.IssueListCommentsOptions{
		ListOptions: github.ListOptions{PerPage: 100, Page: page},
	})
	if err != nil {
		return nil, wrapError(resp, err)
	}
	return comments, nil
}

func (c *clientImpl) CreateComment(ctx context.Context, repo string, issue int, body string) (*github.IssueComment, error) {
	gh, err := c.ghClient(ctx)
	if err != nil {
		return nil, err
	}
	owner, name := splitRepo(repo)
	comment, resp, err := gh.Issues.CreateComment(ctx, owner, name, issue, &github.IssueComment{Body: github.Ptr(body)})
	if err != nil {
		return nil, wrapError(resp, err)
	}
	return comment, nil
}

func (c *clientImpl) UpdateComment(ctx context.Context, repo string, commentID int64, body string) error {
	gh, err := c.ghClient(ctx)
	if err != nil {
		return err
	}
	owner, name := splitRepo(repo)
	_, resp, err := gh.Issues.EditComment(ctx, owner, name, commentID, &github.IssueComment{Body: github.Ptr(body)})
	if err != nil {
		return wrapError(resp, err)
	}
	return nil
}

func (c *clientImpl) PutLabels(ctx context.Context, repo string, issue int, labels []string) error {
	gh, err := c.ghClient(ctx)
	if err != nil {
		return err
	}
	owner, name := splitRepo(repo)
	if labels == nil {
		labels = []string{}
	}
	_, resp, err := gh.Issues.ReplaceLabelsForIssue(ctx, owner, name, issue, labels)
	if err != nil {
		return wrapError(resp, err)
	}
	return nil
}

func (c *clientImpl) CloseIssue(ctx context.Context, repo string, issue int) error {
	gh, err := c.ghClient(ctx)
	if err != nil {
		return err
	}
	owner, name := splitRepo(repo)
	closed := "closed"
	_, resp, err := gh.Issues.Edit(ctx, owner, name, issue, &github.IssueRequest{State: &closed})
	if err != nil {
		return wrapError(resp, err)
	}
	return nil
}

// wrapError converts a go-github error into a *ForgeError when a response is
// available, so callers can inspect status/body uniformly.
func wrapError(resp *github.Response, err error) error {
	if resp != nil && resp.Response != nil {
		return &ForgeError{Status: resp.StatusCode, Body: err.Error()}
	}
	return err
}
