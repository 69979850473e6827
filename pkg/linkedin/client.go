// Package linkedin is a minimal client for the LinkedIn v2 organization
// search and shares endpoints.
package linkedin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://api.linkedin.com/v2"

// Client performs LinkedIn API operations.
type Client interface {
	SearchOrganizations(ctx context.Context, keywords []string, count int) ([]Organization, error)
	OrganizationPosts(ctx context.Context, orgID string, count int) ([]Post, error)
}

// Organization is a company page.
type Organization struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
}

// Post is a share published by an organization.
type Post struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
	URL       string    `json:"url"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("linkedin: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

type httpClient struct {
	token   string
	baseURL string
	http    *http.Client
}

// NewClient creates a LinkedIn client with a bearer access token.
func NewClient(accessToken string, opts ...Option) Client {
	c := &httpClient{
		token:   accessToken,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type orgSearchResponse struct {
	Elements []struct {
		ID   json.Number `json:"id"`
		Name string      `json:"localizedName"`
		Locs []struct {
			City    string `json:"city"`
			Country string `json:"country"`
		} `json:"locations"`
	} `json:"elements"`
}

func (c *httpClient) SearchOrganizations(ctx context.Context, keywords []string, count int) ([]Organization, error) {
	q := url.Values{}
	q.Set("q", "search")
	q.Set("keywords", strings.Join(keywords, " OR "))
	if count > 0 {
		q.Set("count", strconv.Itoa(count))
	}

	var resp orgSearchResponse
	if err := c.get(ctx, "/organizationSearch?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	out := make([]Organization, 0, len(resp.Elements))
	for _, e := range resp.Elements {
		org := Organization{ID: e.ID.String(), Name: e.Name}
		if len(e.Locs) > 0 {
			org.Location = strings.TrimSpace(strings.Join([]string{e.Locs[0].City, e.Locs[0].Country}, ", "))
			org.Location = strings.Trim(org.Location, ", ")
		}
		out = append(out, org)
	}
	return out, nil
}

type sharesResponse struct {
	Elements []struct {
		ID      string `json:"id"`
		Owner   string `json:"owner"`
		Text    struct {
			Text string `json:"text"`
		} `json:"text"`
		Created struct {
			Time int64 `json:"time"` // epoch millis
		} `json:"created"`
	} `json:"elements"`
}

func (c *httpClient) OrganizationPosts(ctx context.Context, orgID string, count int) ([]Post, error) {
	if orgID == "" {
		return nil, eris.New("linkedin: organization id is empty")
	}
	q := url.Values{}
	q.Set("q", "owners")
	q.Set("owners", "urn:li:organization:"+orgID)
	q.Set("sharesPerOwner", strconv.Itoa(max(count, 1)))

	var resp sharesResponse
	if err := c.get(ctx, "/shares?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	out := make([]Post, 0, len(resp.Elements))
	for _, e := range resp.Elements {
		p := Post{
			ID:     e.ID,
			Text:   e.Text.Text,
			Author: e.Owner,
			URL:    "https://www.linkedin.com/feed/update/urn:li:share:" + e.ID,
		}
		if e.Created.Time > 0 {
			p.CreatedAt = time.UnixMilli(e.Created.Time).UTC()
		}
		out = append(out, p)
	}
	return out, nil
}

func (c *httpClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return eris.Wrap(err, "linkedin: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "linkedin: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "linkedin: read response")
	}
	if resp.StatusCode != http.StatusOK {
		if len(body) > 512 {
			body = body[:512]
		}
		return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return eris.Wrap(json.Unmarshal(body, out), "linkedin: unmarshal response")
}
