// Package jira is a minimal Jira Cloud REST v3 client authenticated with an OAuth bearer token.
package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// DefaultBaseURL is the Atlassian API gateway.
const DefaultBaseURL = "https://api.atlassian.com"

// APIError is a non-2xx answer from Jira. The body is kept verbatim since it is the only
// diagnostic Jira gives.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Reason     string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("jira API error: %d %s: %s", e.StatusCode, e.Reason, e.Body)
}

// Client calls the Jira REST API through the Atlassian gateway.
type Client struct {
	baseURL  string
	http     *http.Client
	validate *validator.Validate
}

// NewClient returns a Client. An empty baseURL means DefaultBaseURL; a nil httpClient
// gets a 30s timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     httpClient,
		validate: validator.New(),
	}
}

func (c *Client) apiURL(cloudID, path string) string {
	return fmt.Sprintf("%s/ex/jira/%s/rest/api/3%s", c.baseURL, cloudID, path)
}

// do sends a request with the bearer token and decodes a 2xx JSON body into out.
func (c *Client) do(ctx context.Context, accessToken, method, url string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	hc := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, c.http),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}))

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			Method:     method,
			URL:        url,
			StatusCode: resp.StatusCode,
			Reason:     http.StatusText(resp.StatusCode),
			Body:       string(data),
		}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// ListProjects returns the projects from the project search endpoint.
func (c *Client) ListProjects(ctx context.Context, accessToken, cloudID string) ([]Project, error) {
	var resp projectSearchResponse
	if err := c.do(ctx, accessToken, http.MethodGet, c.apiURL(cloudID, "/project/search"), nil, &resp); err != nil {
		return nil, err
	}
	if resp.Values == nil {
		return []Project{}, nil
	}
	return resp.Values, nil
}

// CreateIssue creates one Task. It is not idempotent and is never retried.
func (c *Client) CreateIssue(ctx context.Context, accessToken, cloudID string, draft IssueDraft) (*CreatedIssue, error) {
	if err := c.validate.Struct(draft); err != nil {
		return nil, fmt.Errorf("invalid issue draft: %w", err)
	}

	var created CreatedIssue
	if err := c.do(ctx, accessToken, http.MethodPost, c.apiURL(cloudID, "/issue"), newCreateIssueRequest(draft), &created); err != nil {
		return nil, err
	}

	log.Debug().Str("key", created.Key).Str("project", draft.ProjectKey).Msg("created issue")
	return &created, nil
}
