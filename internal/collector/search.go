package collector

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/sells-group/lead-scanner/internal/model"
	"github.com/sells-group/lead-scanner/pkg/google"
)

// Search collects web results from the Google Custom Search JSON API, one
// query per milestone keyword.
type Search struct {
	fetcher
	client   google.SearchClient
	keywords []string
	strip    *bluemonday.Policy
}

// NewSearch creates a web search collector. Nil keywords use the defaults.
func NewSearch(client google.SearchClient, keywords []string, deps Deps) *Search {
	if len(keywords) == 0 {
		keywords = DefaultMilestoneKeywords
	}
	return &Search{
		fetcher:  newFetcher("google_cse", model.SourceSearch, deps),
		client:   client,
		keywords: keywords,
		strip:    bluemonday.StrictPolicy(),
	}
}

// Collect pages through results restricted to the last params.MaxAgeDays.
func (s *Search) Collect(ctx context.Context, query string, params model.SearchParams) iter.Seq2[model.CandidateItem, error] {
	restrict := ""
	if params.MaxAgeDays > 0 {
		restrict = fmt.Sprintf("d%d", params.MaxAgeDays)
	}
	seq := func(yield func(model.CandidateItem, error) bool) {
		for _, loc := range locations(params) {
			for _, kw := range s.keywords {
				q := SearchQuery(query, loc, kw)
				start := 1
				for start > 0 {
					req := google.SearchRequest{Query: q, Start: start, Num: 10, DateRestrict: restrict}
					resp, err := fetch(ctx, s.fetcher, fmt.Sprintf("%s|%d|%s", q, start, restrict), func(ctx context.Context) (*google.SearchResponse, error) {
						return s.client.Search(ctx, req)
					})
					if err != nil {
						yield(model.CandidateItem{}, err)
						return
					}
					for _, it := range resp.Items {
						if !yield(s.item(it, loc, kw), nil) {
							return
						}
					}
					if len(resp.Items) == 0 {
						break
					}
					start = resp.NextStart()
				}
			}
		}
	}
	return singleUse(limitSeq(seq, params.MaxResults))
}

func (s *Search) item(it google.SearchItem, location, keyword string) model.CandidateItem {
	snippet := it.Snippet
	if it.HTMLSnippet != "" {
		snippet = stripHTML(s.strip, it.HTMLSnippet)
	}
	published := parseDate(it.Pagemap.Meta("article:published_time", "og:article:published_time", "date", "pubdate"))
	return model.CandidateItem{
		Source:    model.SourceSearch,
		Text:      strings.TrimSpace(it.Title + ". " + snippet),
		Title:     it.Title,
		URL:       it.Link,
		Author:    ExtractCompany(it.Title, snippet, it.Link),
		Location:  location,
		Timestamp: timePtr(published),
		RawMetadata: map[string]any{
			"display_link":      it.DisplayLink,
			"milestone_keyword": keyword,
		},
	}
}
