// Package strava talks to the Strava OAuth and REST endpoints: the two
// token grants the relay needs and the activity listing helper.
package strava

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/maxdhml/pulse-coach-backend/internal/errors"
	"github.com/maxdhml/pulse-coach-backend/internal/models"
	"golang.org/x/oauth2"
)

// Default provider endpoints.
const (
	DefaultAuthURL  = "https://www.strava.com/oauth/authorize"
	DefaultTokenURL = "https://www.strava.com/oauth/token"
	DefaultAPIURL   = "https://www.strava.com/api/v3"
)

const (
	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// DefaultTimeout bounds every provider call when no timeout is set.
	DefaultTimeout = 10 * time.Second

	// maxAPIResponseBytes caps response body reads.
	maxAPIResponseBytes = 1024 * 1024

	// DefaultPerPage matches the provider's own default page size.
	DefaultPerPage = 30

	// maxPerPage is the provider's upper bound for per_page.
	maxPerPage = 200
)

// Endpoints holds the provider URLs. Tests point them at httptest.
type Endpoints struct {
	AuthURL  string
	TokenURL string
	APIURL   string
}

// DefaultEndpoints returns the production Strava endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		AuthURL:  DefaultAuthURL,
		TokenURL: DefaultTokenURL,
		APIURL:   DefaultAPIURL,
	}
}

// Client talks to the Strava OAuth and REST API. It holds no per-user
// state and is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	endpoints  Endpoints
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host, so client secrets and bearer
// tokens never follow a redirect to another domain.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewHTTPClient returns the bounded client used for provider calls.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &http.Client{
		Timeout:       timeout,
		CheckRedirect: sameHostRedirectPolicy,
	}
}

// NewClient creates an API client. If httpClient is nil, a client with
// DefaultTimeout and a same-host redirect policy is created. Empty
// endpoint fields fall back to the production URLs.
func NewClient(httpClient *http.Client, endpoints Endpoints) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(DefaultTimeout)
	}

	def := DefaultEndpoints()
	if endpoints.AuthURL == "" {
		endpoints.AuthURL = def.AuthURL
	}

	if endpoints.TokenURL == "" {
		endpoints.TokenURL = def.TokenURL
	}

	if endpoints.APIURL == "" {
		endpoints.APIURL = def.APIURL
	}

	endpoints.APIURL = strings.TrimRight(endpoints.APIURL, "/")

	return &Client{
		httpClient: httpClient,
		endpoints:  endpoints,
	}
}

// oauthConfig builds a per-call oauth2 config. Credentials travel in the
// request body, which is what the provider expects.
func (c *Client) oauthConfig(clientID, clientSecret, redirectURI, scope string) *oauth2.Config {
	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.endpoints.AuthURL,
			TokenURL:  c.endpoints.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	if scope != "" {
		cfg.Scopes = []string{scope}
	}

	return cfg
}

// withHTTPClient makes oauth2 use the bounded client for its requests.
func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// AuthCodeURL builds the provider authorization URL. state is passed
// through untouched and comes back verbatim on the callback. extra adds
// optional parameters such as approval_prompt.
func (c *Client) AuthCodeURL(clientID, redirectURI, scope, state string, extra map[string]string) string {
	cfg := c.oauthConfig(clientID, "", redirectURI, scope)

	opts := make([]oauth2.AuthCodeOption, 0, len(extra))
	for k, v := range extra {
		if v != "" {
			opts = append(opts, oauth2.SetAuthURLParam(k, v))
		}
	}

	return cfg.AuthCodeURL(state, opts...)
}

// ExchangeCode trades an authorization code for a token set. Codes are
// single use, so a failed exchange is never retried here.
func (c *Client) ExchangeCode(ctx context.Context, clientID, clientSecret, code string) (models.TokenSet, error) {
	cfg := c.oauthConfig(clientID, clientSecret, "", "")

	tok, err := cfg.Exchange(c.withHTTPClient(ctx), code)
	if err != nil {
		return models.TokenSet{}, classifyGrantError(OpExchange, err)
	}

	ts, err := tokenSetFrom(tok)
	if err != nil {
		return models.TokenSet{}, &Error{Kind: apperrors.ErrExchangeFailed, Op: OpExchange, Err: err}
	}

	if ts.Athlete.ID == 0 {
		return models.TokenSet{}, &Error{
			Kind: apperrors.ErrExchangeFailed,
			Op:   OpExchange,
			Err:  errors.New("response missing athlete id"),
		}
	}

	return ts, nil
}

// RefreshAccessToken runs the refresh_token grant once. The provider may
// rotate the refresh token; when it does not, the old one is kept.
func (c *Client) RefreshAccessToken(ctx context.Context, clientID, clientSecret, refreshToken string) (models.TokenSet, error) {
	if refreshToken == "" {
		return models.TokenSet{}, &Error{
			Kind: apperrors.ErrExchangeFailed,
			Op:   OpRefresh,
			Err:  errors.New("refresh token is empty"),
		}
	}

	cfg := c.oauthConfig(clientID, clientSecret, "", "")

	tok, err := cfg.TokenSource(c.withHTTPClient(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return models.TokenSet{}, classifyGrantError(OpRefresh, err)
	}

	ts, err := tokenSetFrom(tok)
	if err != nil {
		return models.TokenSet{}, &Error{Kind: apperrors.ErrExchangeFailed, Op: OpRefresh, Err: err}
	}

	return ts, nil
}

// tokenSetFrom reads the provider specific fields (expires_at, athlete)
// that oauth2 keeps as raw extras.
func tokenSetFrom(tok *oauth2.Token) (models.TokenSet, error) {
	ts := models.TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}

	switch v := tok.Extra("expires_at").(type) {
	case float64:
		ts.ExpiresAt = int64(v)
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return ts, fmt.Errorf("parsing expires_at: %w", err)
		}

		ts.ExpiresAt = n
	default:
		if !tok.Expiry.IsZero() {
			ts.ExpiresAt = tok.Expiry.Unix()
		}
	}

	if raw, ok := tok.Extra("athlete").(map[string]interface{}); ok {
		data, err := json.Marshal(raw)
		if err != nil {
			return ts, fmt.Errorf("encoding athlete: %w", err)
		}

		if err := json.Unmarshal(data, &ts.Athlete); err != nil {
			return ts, fmt.Errorf("decoding athlete: %w", err)
		}
	}

	return ts, nil
}

// ListActivities fetches one page of the authenticated athlete's
// activities. Pages start at 1; later pages are separate calls.
func (c *Client) ListActivities(ctx context.Context, accessToken string, page, perPage int) ([]models.Activity, error) {
	if page < 1 {
		page = 1
	}

	if perPage < 1 {
		perPage = DefaultPerPage
	}

	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))

	var activities []models.Activity
	if err := c.get(ctx, OpActivities, "/athlete/activities?"+q.Encode(), accessToken, &activities); err != nil {
		return nil, err
	}

	return activities, nil
}

// get sends an authenticated GET request and decodes the JSON response
// into result.
func (c *Client) get(ctx context.Context, op, endpoint, accessToken string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoints.APIURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Kind: apperrors.ErrUpstreamUnavailable, Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return &Error{Kind: apperrors.ErrUpstreamUnavailable, Op: op, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		kind := apperrors.ErrProviderRejected
		if isTransientStatus(resp.StatusCode) {
			kind = apperrors.ErrUpstreamUnavailable
		}

		return &Error{
			Kind:   kind,
			Op:     op,
			Status: resp.StatusCode,
			Body:   sanitizeResponseBody(respBody),
			Err:    fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return &Error{Kind: apperrors.ErrProviderRejected, Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
	}

	return nil
}
