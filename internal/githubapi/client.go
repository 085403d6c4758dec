// Package githubapi wraps the GitHub REST API calls the service makes on
// behalf of a caller: workflows, runs, jobs, logs and repository secrets.
package githubapi

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v53/github"
)

const apiVersion = "2022-11-28"

// Client issues GitHub calls with one caller's token.
type Client struct {
	gh       *github.Client
	download *http.Client
}

// NewGitHubClient returns a go-github client that sends token on every
// request. An empty baseURL targets api.github.com.
func NewGitHubClient(token, baseURL string) (*github.Client, error) {
	httpClient := &http.Client{
		Timeout:   30 * time.Second,
		Transport: &tokenTransport{token: token, base: http.DefaultTransport},
	}
	client := github.NewClient(httpClient)
	if baseURL != "" {
		parsed, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parse github api url: %w", err)
		}
		client.BaseURL = parsed
	}
	return client, nil
}

// New wraps gh. Log archives are fetched from the redirect target with a
// separate client so the token never leaves GitHub.
func New(gh *github.Client) *Client {
	return &Client{
		gh:       gh,
		download: &http.Client{Timeout: 60 * time.Second},
	}
}

// GitHub exposes the underlying go-github client.
func (c *Client) GitHub() *github.Client {
	return c.gh
}

type tokenTransport struct {
	token string
	base  http.RoundTripper
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	if t.token != "" {
		clone.Header.Set("Authorization", "Bearer "+t.token)
	}
	clone.Header.Set("X-GitHub-Api-Version", apiVersion)
	return t.base.RoundTrip(clone)
}

// StatusCode returns the HTTP status of a GitHub error, or 0.
func StatusCode(err error) int {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return ghErr.Response.StatusCode
	}
	return 0
}

func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

func IsConflict(err error) bool {
	status := StatusCode(err)
	return status == http.StatusConflict || status == http.StatusUnprocessableEntity
}

func IsUnauthorized(err error) bool {
	status := StatusCode(err)
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}
