// Package gh fetches issues from GitHub for run intake. Every API call is
// rate-limited client-side and retried with exponential backoff; rate-limit
// responses from GitHub reset the backoff to the server's reset time.
package gh

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/patchsmith/internal/config"
	"github.com/fyrsmithlabs/patchsmith/internal/logging"
	"github.com/fyrsmithlabs/patchsmith/internal/run"
)

const defaultBurst = 1

// Client wraps the GitHub API client with rate limiting and retries.
type Client struct {
	gh      *github.Client
	limiter *rate.Limiter
	retry   retryConfig
	log     *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a non-default API endpoint. Used for
// GitHub Enterprise and for tests against httptest servers.
func WithBaseURL(raw string) Option {
	return func(c *Client) {
		if u, err := url.Parse(raw); err == nil {
			if !strings.HasSuffix(u.Path, "/") {
				u.Path += "/"
			}
			c.gh.BaseURL = u
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(log *logging.Logger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient builds an authenticated client. An unset token yields an
// unauthenticated client, which is fine for public repositories but runs
// against GitHub's much lower anonymous rate limits.
func NewClient(ctx context.Context, cfg config.GitHubConfig, opts ...Option) *Client {
	var hc *http.Client
	if cfg.Token.IsSet() {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token.Value()})
		hc = oauth2.NewClient(ctx, ts)
	} else {
		hc = &http.Client{}
	}
	if cfg.Timeout.Duration() > 0 {
		hc.Timeout = cfg.Timeout.Duration()
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}

	c := &Client{
		gh:      github.NewClient(hc),
		limiter: rate.NewLimiter(rate.Limit(rps), defaultBurst),
		retry:   defaultRetryConfig(),
		log:     logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchIssue retrieves one issue and converts it to run intake form.
func (c *Client) FetchIssue(ctx context.Context, owner, repo string, number int) (run.Issue, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return run.Issue{}, run.Transient(err)
	}

	var issue *github.Issue
	resp, err := c.withRetry(ctx, func() (*github.Response, error) {
		var r *github.Response
		var e error
		issue, r, e = c.gh.Issues.Get(ctx, owner, repo, number)
		return r, e
	})
	if err != nil {
		return run.Issue{}, classify(resp, err)
	}

	labels := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, l.GetName())
	}
	return run.Issue{
		Owner:     owner,
		Repo:      repo,
		Number:    number,
		Title:     issue.GetTitle(),
		Body:      issue.GetBody(),
		Labels:    labels,
		Author:    issue.GetUser().GetLogin(),
		URL:       issue.GetHTMLURL(),
		CreatedAt: issue.GetCreatedAt().Time,
	}, nil
}

// FetchIssueURL retrieves the issue named by a browser URL of the form
// https://github.com/<owner>/<repo>/issues/<n>.
func (c *Client) FetchIssueURL(ctx context.Context, raw string) (run.Issue, error) {
	owner, repo, number, err := ParseIssueURL(raw)
	if err != nil {
		return run.Issue{}, err
	}
	return c.FetchIssue(ctx, owner, repo, number)
}

// ParseIssueURL extracts owner, repo and issue number from a GitHub issue
// URL. Also accepts the short form owner/repo#number.
func ParseIssueURL(raw string) (owner, repo string, number int, err error) {
	if owner, repo, number, ok := parseShortForm(raw); ok {
		return owner, repo, number, nil
	}

	u, perr := url.Parse(raw)
	if perr != nil {
		return "", "", 0, run.FatalConfigf("invalid issue URL %q: %v", raw, perr)
	}
	host := strings.TrimPrefix(u.Host, "www.")
	if host != "github.com" {
		return "", "", 0, run.FatalConfigf("issue URL %q is not a github.com URL", raw)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 4 || parts[2] != "issues" {
		return "", "", 0, run.FatalConfigf("issue URL %q must look like https://github.com/<owner>/<repo>/issues/<n>", raw)
	}
	n, nerr := strconv.Atoi(parts[3])
	if nerr != nil || n <= 0 {
		return "", "", 0, run.FatalConfigf("issue URL %q has an invalid issue number", raw)
	}
	return parts[0], parts[1], n, nil
}

func parseShortForm(raw string) (owner, repo string, number int, ok bool) {
	slash := strings.Index(raw, "/")
	hash := strings.Index(raw, "#")
	if slash <= 0 || hash <= slash+1 || strings.ContainsAny(raw, " \t") {
		return "", "", 0, false
	}
	n, err := strconv.Atoi(raw[hash+1:])
	if err != nil || n <= 0 {
		return "", "", 0, false
	}
	return raw[:slash], raw[slash+1 : hash], n, true
}

// classify maps a GitHub API failure onto the run error taxonomy.
func classify(resp *github.Response, err error) error {
	code := statusCode(resp)
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return run.FatalConfigf("github authentication failed (%d): %v", code, err)
	case code == http.StatusNotFound:
		return run.FatalConfigf("issue not found: %v", err)
	case code >= 500 || code == http.StatusTooManyRequests || code == 0:
		return run.Transient(err)
	default:
		return run.AgentFailure(err)
	}
}

func statusCode(resp *github.Response) int {
	if resp != nil && resp.Response != nil {
		return resp.Response.StatusCode
	}
	return 0
}

// rateLimitBackoff waits until GitHub's advertised reset time, plus a one
// second buffer, capped at max.
func rateLimitBackoff(resp *github.Response, max time.Duration) time.Duration {
	if resp == nil || (resp.Rate.Limit == 0 && resp.Rate.Remaining == 0) {
		return time.Minute
	}
	backoff := time.Until(resp.Rate.Reset.Time) + time.Second
	if backoff < 0 {
		backoff = time.Second
	}
	if backoff > max {
		backoff = max
	}
	return backoff
}
