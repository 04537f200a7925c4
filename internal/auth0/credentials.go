package auth0

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

var (
	// ErrAuthentication is returned when the client credential exchange fails.
	ErrAuthentication = errors.New("auth0: authentication failed")
	// ErrTransport is returned when a management API call fails.
	ErrTransport = errors.New("auth0: management api request failed")

	errCredentialsClosed = errors.New("credentials released")
)

type settings struct {
	httpClient *http.Client
	timeout    time.Duration
}

// Option configures Credentials and Client.
type Option func(s *settings)

// WithHTTPClient sets the HTTP client used for token exchange and as the base
// transport for management API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) {
		s.httpClient = c
	}
}

// WithTimeout bounds each management API request.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.timeout = d
	}
}

func buildSettings(opts []Option) settings {
	s := settings{timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// BaseURL normalizes a tenant domain into an origin. Bare domains get https.
func BaseURL(domain string) string {
	domain = strings.TrimSuffix(strings.TrimSpace(domain), "/")
	if strings.Contains(domain, "://") {
		return domain
	}
	return "https://" + domain
}

// Credentials holds a management API token for the length of a run. Tokens are
// fetched lazily, cached until shortly before expiry, and dropped on Close.
type Credentials struct {
	domain   string
	audience string
	base     http.RoundTripper

	mu     sync.Mutex
	source oauth2.TokenSource
	closed bool
}

// NewCredentials prepares a client-credentials token source for the tenant's
// management API. No network call is made until Token is called. ctx scopes
// token refreshes and should live as long as the run.
func NewCredentials(ctx context.Context, domain, clientID, clientSecret string, opts ...Option) *Credentials {
	s := buildSettings(opts)
	origin := BaseURL(domain)
	audience := origin + "/api/v2/"

	cfg := &clientcredentials.Config{
		ClientID:       clientID,
		ClientSecret:   clientSecret,
		TokenURL:       origin + "/oauth/token",
		EndpointParams: url.Values{"audience": {audience}},
		AuthStyle:      oauth2.AuthStyleInParams,
	}

	var base http.RoundTripper
	if s.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
		base = s.httpClient.Transport
	}

	return &Credentials{
		domain:   origin,
		audience: audience,
		base:     base,
		source:   cfg.TokenSource(ctx),
	}
}

// Audience is the management API identifier tokens are requested for.
func (c *Credentials) Audience() string {
	return c.audience
}

// Token returns a valid bearer token, exchanging credentials when the cached
// one is missing or expired.
func (c *Credentials) Token() (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, errCredentialsClosed)
	}

	tok, err := c.source.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			return nil, fmt.Errorf("%w: token exchange returned %d: %v", ErrAuthentication, retrieveErr.Response.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access token in response", ErrAuthentication)
	}
	return tok, nil
}

// Close releases the cached token. Later Token calls fail.
func (c *Credentials) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.source = nil
	return nil
}
