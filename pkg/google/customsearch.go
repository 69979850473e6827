package google

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rotisserie/eris"
)

const defaultSearchURL = "https://www.googleapis.com/customsearch/v1"

// SearchClient queries the Custom Search JSON API.
type SearchClient interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResponse, error)
}

// SearchRequest is one page request.
type SearchRequest struct {
	Query        string
	Start        int    // 1-based index of the first result
	Num          int    // results per page, max 10
	DateRestrict string // e.g. "d30"
}

// SearchResponse is one page of web results.
type SearchResponse struct {
	Items   []SearchItem `json:"items"`
	Queries struct {
		NextPage []struct {
			StartIndex int `json:"startIndex"`
		} `json:"nextPage"`
	} `json:"queries"`
}

// NextStart returns the start index of the next page, or 0 when there is none.
func (r *SearchResponse) NextStart() int {
	if len(r.Queries.NextPage) == 0 {
		return 0
	}
	return r.Queries.NextPage[0].StartIndex
}

// SearchItem is a single web result.
type SearchItem struct {
	Title       string  `json:"title"`
	Link        string  `json:"link"`
	Snippet     string  `json:"snippet"`
	HTMLSnippet string  `json:"htmlSnippet"`
	DisplayLink string  `json:"displayLink"`
	Pagemap     Pagemap `json:"pagemap"`
}

// Pagemap carries structured data Google extracted from the page.
type Pagemap struct {
	Metatags []map[string]string `json:"metatags"`
}

// Meta returns the first metatag value for any of keys.
func (p Pagemap) Meta(keys ...string) string {
	for _, tags := range p.Metatags {
		for _, k := range keys {
			if v := tags[k]; v != "" {
				return v
			}
		}
	}
	return ""
}

// NewSearchClient creates a Custom Search client for engine cx.
func NewSearchClient(apiKey, cx string, opts ...Option) SearchClient {
	c := newHTTPClient(apiKey, defaultSearchURL, opts)
	c.cx = cx
	return c
}

func (c *httpClient) Search(ctx context.Context, in SearchRequest) (*SearchResponse, error) {
	if in.Query == "" {
		return nil, eris.New("google: search query is empty")
	}
	q := url.Values{}
	q.Set("key", c.apiKey)
	q.Set("cx", c.cx)
	q.Set("q", in.Query)
	if in.Start > 0 {
		q.Set("start", strconv.Itoa(in.Start))
	}
	if in.Num > 0 {
		q.Set("num", strconv.Itoa(min(in.Num, 10)))
	}
	if in.DateRestrict != "" {
		q.Set("dateRestrict", in.DateRestrict)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "google: create search request")
	}

	var result SearchResponse
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
