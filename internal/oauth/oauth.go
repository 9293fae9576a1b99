// Package oauth implements the Atlassian OAuth 2.0 (3LO) authorization-code flow.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// Atlassian endpoints.
const (
	DefaultAuthURL    = "https://auth.atlassian.com/authorize"
	DefaultTokenURL   = "https://auth.atlassian.com/oauth/token"
	DefaultAPIBaseURL = "https://api.atlassian.com"

	// Audience is the API the issued token is valid for.
	Audience = "api.atlassian.com"

	accessibleResourcesPath = "/oauth/token/accessible-resources"
)

// Scopes requested at authorization time.
var Scopes = []string{
	"read:jira-user",
	"read:jira-work",
	"write:jira-work",
}

// ErrNoAccessibleResources is wrapped by the AuthError returned when a token grants access
// to no Jira site.
var ErrNoAccessibleResources = errors.New("no accessible Jira sites for this token")

// AuthError reports a failed login step. StatusCode and Body are set when the remote
// service answered with an error status.
type AuthError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s failed: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Options configures a Client. Endpoint URLs default to Atlassian's.
type Options struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string

	AuthURL    string
	TokenURL   string
	APIBaseURL string

	HTTPClient *http.Client
}

// Token is the result of a successful code exchange.
type Token struct {
	AccessToken string
	TokenType   string
	Scope       string
}

// Resource is a site the token can access.
type Resource struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	URL    string   `json:"url"`
	Scopes []string `json:"scopes"`
}

// Client builds authorization URLs, exchanges codes and resolves cloud ids.
type Client struct {
	conf    *oauth2.Config
	apiBase string
	http    *http.Client
}

// New returns a Client, failing when any OAuth setting is missing.
func New(opts Options) (*Client, error) {
	var missing []string
	if opts.ClientID == "" {
		missing = append(missing, "client id")
	}
	if opts.ClientSecret == "" {
		missing = append(missing, "client secret")
	}
	if opts.RedirectURI == "" {
		missing = append(missing, "redirect URI")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("oauth: missing %s", strings.Join(missing, ", "))
	}

	if opts.AuthURL == "" {
		opts.AuthURL = DefaultAuthURL
	}
	if opts.TokenURL == "" {
		opts.TokenURL = DefaultTokenURL
	}
	if opts.APIBaseURL == "" {
		opts.APIBaseURL = DefaultAPIBaseURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		conf: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURI,
			Scopes:       Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   opts.AuthURL,
				TokenURL:  opts.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		apiBase: strings.TrimRight(opts.APIBaseURL, "/"),
		http:    opts.HTTPClient,
	}, nil
}

// AuthorizationURL returns the consent page URL. It depends only on configuration.
func (c *Client) AuthorizationURL() string {
	return c.conf.AuthCodeURL("",
		oauth2.SetAuthURLParam("audience", Audience),
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

func (c *Client) context(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.http)
}

// Exchange trades an authorization code for an access token.
func (c *Client) Exchange(ctx context.Context, code string) (*Token, error) {
	const op = "token exchange"

	tok, err := c.conf.Exchange(c.context(ctx), code)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil {
			return nil, &AuthError{Op: op, StatusCode: rerr.Response.StatusCode, Body: string(rerr.Body), Err: err}
		}
		return nil, &AuthError{Op: op, Err: err}
	}

	t := &Token{AccessToken: tok.AccessToken, TokenType: tok.TokenType}
	if scope, ok := tok.Extra("scope").(string); ok {
		t.Scope = scope
	}
	log.Debug().Str("scope", t.Scope).Msg("exchanged authorization code")
	return t, nil
}

// AccessibleResources lists the sites the token grants access to.
func (c *Client) AccessibleResources(ctx context.Context, accessToken string) ([]Resource, error) {
	const op = "list accessible resources"

	hc := oauth2.NewClient(c.context(ctx), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+accessibleResourcesPath, nil)
	if err != nil {
		return nil, &AuthError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, &AuthError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &AuthError{Op: op, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &AuthError{Op: op, StatusCode: resp.StatusCode, Body: string(body)}
	}

	var resources []Resource
	if err := json.Unmarshal(body, &resources); err != nil {
		return nil, &AuthError{Op: op, Err: fmt.Errorf("parse response: %w", err)}
	}
	return resources, nil
}

// CloudID returns the id of the first site the token can access.
func (c *Client) CloudID(ctx context.Context, accessToken string) (string, error) {
	site, err := c.Site(ctx, accessToken)
	if err != nil {
		return "", err
	}
	return site.ID, nil
}

// Site returns the first site the token can access.
func (c *Client) Site(ctx context.Context, accessToken string) (*Resource, error) {
	resources, err := c.AccessibleResources(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if len(resources) == 0 {
		return nil, &AuthError{Op: "resolve cloud id", Err: ErrNoAccessibleResources}
	}
	return &resources[0], nil
}
