package auth0

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/oauth2"
)

// SortAscending is the Auth0 sort direction suffix for ascending order.
const SortAscending = 1

// MaxSearchResults is the most records Auth0 exposes for a single
// query+sort combination, regardless of paging.
const MaxSearchResults = 1000

// Client lists users from the Auth0 management API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a management API client authenticated by creds.
func NewClient(creds *Credentials, opts ...Option) *Client {
	s := buildSettings(opts)
	return &Client{
		baseURL: creds.domain,
		httpClient: &http.Client{
			Transport: &oauth2.Transport{Source: creds, Base: creds.base},
			Timeout:   s.timeout,
		},
	}
}

// UsersQuery selects one page of users.
type UsersQuery struct {
	Page    int
	PerPage int
	// Sort is "field:1" for ascending, "field:-1" for descending.
	Sort string
	// Query is a Lucene search expression.
	Query string
}

// UsersPage is a page of raw user objects plus the total matching the query.
type UsersPage struct {
	Start  int               `json:"start"`
	Limit  int               `json:"limit"`
	Length int               `json:"length"`
	Total  int               `json:"total"`
	Users  []json.RawMessage `json:"users"`
}

// SortBy builds a sort expression for field.
func SortBy(field string, direction int) string {
	return field + ":" + strconv.Itoa(direction)
}

// UpdatedAfter builds a range query matching field values strictly greater
// than watermark.
func UpdatedAfter(field, watermark string) string {
	return field + ":{" + watermark + " TO *]"
}

// ListUsers fetches a single page of users.
func (c *Client) ListUsers(ctx context.Context, q UsersQuery) (*UsersPage, error) {
	params := url.Values{}
	params.Set("page", strconv.Itoa(q.Page))
	params.Set("per_page", strconv.Itoa(q.PerPage))
	params.Set("include_totals", "true")
	params.Set("search_engine", "v3")
	if q.Sort != "" {
		params.Set("sort", q.Sort)
	}
	if q.Query != "" {
		params.Set("q", q.Query)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v2/users?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %w", ErrTransport, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: list users returned %d - %s", ErrTransport, resp.StatusCode, string(bodyBytes))
	}

	var page UsersPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %w", ErrTransport, err)
	}
	return &page, nil
}
