package collector

import (
	"bytes"
	"context"
	"iter"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-scanner/internal/model"
	"github.com/sells-group/lead-scanner/internal/resilience"
)

const defaultSocialWebURL = "https://www.linkedin.com"

// scrapedPost is the cached form of one public post.
type scrapedPost struct {
	Author string `json:"author"`
	Text   string `json:"text"`
	URL    string `json:"url"`
	Age    string `json:"age"`
}

// SocialScrape reads posts from the public content search page. It stands
// in for Social when no API token is configured.
type SocialScrape struct {
	fetcher
	http     *http.Client
	baseURL  string
	keywords []string
	now      func() time.Time
}

// ScrapeOption configures a SocialScrape collector.
type ScrapeOption func(*SocialScrape)

// WithScrapeURL overrides the site root.
func WithScrapeURL(u string) ScrapeOption {
	return func(s *SocialScrape) { s.baseURL = strings.TrimRight(u, "/") }
}

// WithScrapeHTTPClient overrides the http.Client.
func WithScrapeHTTPClient(hc *http.Client) ScrapeOption {
	return func(s *SocialScrape) { s.http = hc }
}

// NewSocialScrape creates the scraping social collector.
func NewSocialScrape(keywords []string, deps Deps, opts ...ScrapeOption) *SocialScrape {
	if len(keywords) == 0 {
		keywords = DefaultMilestoneKeywords
	}
	s := &SocialScrape{
		fetcher:  newFetcher("linkedin_web", model.SourceSocial, deps),
		http:     defaultHTTPClient(),
		baseURL:  defaultSocialWebURL,
		keywords: keywords,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Collect fetches one results page per location.
func (s *SocialScrape) Collect(ctx context.Context, query string, params model.SearchParams) iter.Seq2[model.CandidateItem, error] {
	seq := func(yield func(model.CandidateItem, error) bool) {
		for _, loc := range locations(params) {
			terms := strings.TrimSpace(query + " " + loc)
			posts, err := fetch(ctx, s.fetcher, terms, func(ctx context.Context) ([]scrapedPost, error) {
				return s.page(ctx, terms)
			})
			if err != nil {
				yield(model.CandidateItem{}, err)
				return
			}
			for _, p := range posts {
				if !MentionsMilestone(p.Text, s.keywords) {
					continue
				}
				item := model.CandidateItem{
					Source:      model.SourceSocial,
					Text:        p.Text,
					Author:      p.Author,
					URL:         p.URL,
					Location:    loc,
					Timestamp:   timePtr(relativeTime(p.Age, s.now())),
					RawMetadata: map[string]any{"age_label": p.Age},
				}
				if !yield(item, nil) {
					return
				}
			}
		}
	}
	return singleUse(limitSeq(seq, params.MaxResults))
}

func (s *SocialScrape) page(ctx context.Context, terms string) ([]scrapedPost, error) {
	v := url.Values{}
	v.Set("keywords", terms)
	body, err := getBody(ctx, s.http, s.baseURL+"/search/results/content/?"+v.Encode())
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, resilience.NewMalformedError(s.name, eris.Wrap(err, "collector: parse social page"))
	}

	var posts []scrapedPost
	doc.Find("article").Each(func(_ int, sel *goquery.Selection) {
		var parts []string
		sel.Find("span.break-words").Each(func(_ int, t *goquery.Selection) {
			if txt := strings.TrimSpace(t.Text()); txt != "" {
				parts = append(parts, txt)
			}
		})
		if len(parts) == 0 {
			return
		}
		p := scrapedPost{
			Text:   strings.Join(strings.Fields(strings.Join(parts, " ")), " "),
			Author: strings.TrimSpace(sel.Find(".update-components-actor__name span[aria-hidden='true']").First().Text()),
			Age:    strings.TrimSpace(sel.Find("span.visually-hidden").First().Text()),
		}
		if href, ok := sel.Find("a[href*='/feed/update/']").First().Attr("href"); ok {
			p.URL = absURL(s.baseURL, href)
		}
		posts = append(posts, p)
	})
	return posts, nil
}

func absURL(base, href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return base + "/" + strings.TrimLeft(href, "/")
}

var relAgeRe = regexp.MustCompile(`^(\d+)\s*(mo|yr|y|w|d|h|m)\b`)

// relativeTime resolves labels such as "3d" or "2w ago" against now. An
// unrecognized label yields the zero time.
func relativeTime(label string, now time.Time) time.Time {
	m := relAgeRe.FindStringSubmatch(strings.ToLower(strings.TrimSpace(label)))
	if m == nil {
		return time.Time{}
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return time.Time{}
	}
	switch m[2] {
	case "m":
		return now.Add(-time.Duration(n) * time.Minute)
	case "h":
		return now.Add(-time.Duration(n) * time.Hour)
	case "d":
		return now.AddDate(0, 0, -n)
	case "w":
		return now.AddDate(0, 0, -7*n)
	case "mo":
		return now.AddDate(0, -n, 0)
	default:
		return now.AddDate(-n, 0, 0)
	}
}
