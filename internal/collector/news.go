package collector

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-scanner/internal/model"
	"github.com/sells-group/lead-scanner/internal/resilience"
)

const defaultNewsURL = "https://news.google.com/rss/search"

// newsEntry is the cached form of one feed item.
type newsEntry struct {
	Title     string     `json:"title"`
	Link      string     `json:"link"`
	Summary   string     `json:"summary"`
	Publisher string     `json:"publisher"`
	Published *time.Time `json:"published,omitempty"`
}

// News collects articles from the Google News RSS search feed. It stands in
// for Search when no Custom Search credentials are configured.
type News struct {
	fetcher
	http     *http.Client
	baseURL  string
	keywords []string
	strip    *bluemonday.Policy
}

// NewsOption configures a News collector.
type NewsOption func(*News)

// WithNewsURL overrides the feed endpoint.
func WithNewsURL(u string) NewsOption {
	return func(n *News) { n.baseURL = u }
}

// WithNewsHTTPClient overrides the http.Client.
func WithNewsHTTPClient(hc *http.Client) NewsOption {
	return func(n *News) { n.http = hc }
}

// NewNews creates a news feed collector.
func NewNews(keywords []string, deps Deps, opts ...NewsOption) *News {
	if len(keywords) == 0 {
		keywords = DefaultMilestoneKeywords
	}
	n := &News{
		fetcher:  newFetcher("google_news", model.SourceSearch, deps),
		http:     defaultHTTPClient(),
		baseURL:  defaultNewsURL,
		keywords: keywords,
		strip:    bluemonday.StrictPolicy(),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Collect fetches one feed per location and keyword. Feeds are not paged.
func (n *News) Collect(ctx context.Context, query string, params model.SearchParams) iter.Seq2[model.CandidateItem, error] {
	seq := func(yield func(model.CandidateItem, error) bool) {
		for _, loc := range locations(params) {
			for _, kw := range n.keywords {
				q := SearchQuery(query, loc, kw)
				if params.MaxAgeDays > 0 {
					q = fmt.Sprintf("%s when:%dd", q, params.MaxAgeDays)
				}
				entries, err := fetch(ctx, n.fetcher, q, func(ctx context.Context) ([]newsEntry, error) {
					return n.feed(ctx, q)
				})
				if err != nil {
					yield(model.CandidateItem{}, err)
					return
				}
				for _, e := range entries {
					item := model.CandidateItem{
						Source:    model.SourceSearch,
						Text:      strings.TrimSpace(e.Title + ". " + e.Summary),
						Title:     e.Title,
						URL:       e.Link,
						Author:    ExtractCompany(e.Title, e.Summary, ""),
						Location:  loc,
						Timestamp: e.Published,
						RawMetadata: map[string]any{
							"publisher":         e.Publisher,
							"milestone_keyword": kw,
						},
					}
					if !yield(item, nil) {
						return
					}
				}
			}
		}
	}
	return singleUse(limitSeq(seq, params.MaxResults))
}

func (n *News) feed(ctx context.Context, q string) ([]newsEntry, error) {
	v := url.Values{}
	v.Set("q", q)
	v.Set("hl", "en-US")
	v.Set("gl", "US")
	v.Set("ceid", "US:en")

	body, err := getBody(ctx, n.http, n.baseURL+"?"+v.Encode())
	if err != nil {
		return nil, err
	}
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, resilience.NewMalformedError(n.name, eris.Wrap(err, "collector: parse news feed"))
	}

	out := make([]newsEntry, 0, len(feed.Items))
	for _, it := range feed.Items {
		e := newsEntry{
			Title:   strings.TrimSpace(it.Title),
			Link:    strings.TrimSpace(it.Link),
			Summary: stripHTML(n.strip, it.Description),
		}
		switch {
		case it.PublishedParsed != nil:
			e.Published = timePtr(*it.PublishedParsed)
		case it.UpdatedParsed != nil:
			e.Published = timePtr(*it.UpdatedParsed)
		}
		if it.Author != nil {
			e.Publisher = it.Author.Name
		} else if feed.Title != "" {
			e.Publisher = feed.Title
		}
		out = append(out, e)
	}
	return out, nil
}
