package collector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-scanner/internal/model"
	"github.com/sells-group/lead-scanner/internal/resilience"
	"github.com/sells-group/lead-scanner/pkg/linkedin"
)

func TestSocial_FiltersPostsByKeyword(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/organizationSearch":
			_, _ = w.Write([]byte(`{"elements":[{"id":7,"localizedName":"Acme","locations":[{"city":"Austin"}]}]}`))
		case "/shares":
			_, _ = w.Write([]byte(`{"elements":[
				{"id":"s1","text":{"text":"We closed our Series B funding"},"created":{"time":1790000000000}},
				{"id":"s2","text":{"text":"Happy Friday everyone"},"created":{"time":1790000000000}}
			]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s := NewSocial(linkedin.NewClient("tok", linkedin.WithBaseURL(srv.URL)), nil, testDeps())
	items, err := drain(s.Collect(context.Background(), "tech startup", model.SearchParams{Location: []string{"Austin"}, MaxResults: 10}))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, model.SourceSocial, items[0].Source)
	assert.Equal(t, "Acme", items[0].Author)
	assert.Equal(t, "Austin", items[0].Location)
	assert.Contains(t, items[0].URL, "urn:li:share:s1")
	require.NotNil(t, items[0].Timestamp)
}

func TestSocial_ExpiredTokenIsAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := NewSocial(linkedin.NewClient("tok", linkedin.WithBaseURL(srv.URL)), nil, testDeps())
	_, err := drain(s.Collect(context.Background(), "q", model.SearchParams{MaxResults: 1}))
	assert.True(t, resilience.IsAuth(err))
}

const socialPage = `<html><body>
<article>
  <div class="update-components-actor__name"><span aria-hidden="true">Initech</span></div>
  <span class="visually-hidden">3d</span>
  <span class="break-words">Initech is proud to announce our</span>
  <span class="break-words">new office in Austin!</span>
  <a href="/feed/update/urn:li:activity:42">link</a>
</article>
<article>
  <span class="break-words">Lunch was great today</span>
</article>
<article><span class="visually-hidden">1w</span></article>
</body></html>`

func TestSocialScrape_ParsesArticles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.URL.Path, "/search/results/content"))
		_, _ = w.Write([]byte(socialPage))
	}))
	defer srv.Close()

	now := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	s := NewSocialScrape(nil, testDeps(), WithScrapeURL(srv.URL))
	s.now = func() time.Time { return now }

	items, err := drain(s.Collect(context.Background(), "tech startup", model.SearchParams{MaxResults: 10}))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Initech", items[0].Author)
	assert.Equal(t, "Initech is proud to announce our new office in Austin!", items[0].Text)
	assert.Equal(t, srv.URL+"/feed/update/urn:li:activity:42", items[0].URL)
	require.NotNil(t, items[0].Timestamp)
	assert.Equal(t, now.AddDate(0, 0, -3), *items[0].Timestamp)
}

func TestRelativeTime(t *testing.T) {
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	tests := map[string]time.Time{
		"5m":      now.Add(-5 * time.Minute),
		"2h":      now.Add(-2 * time.Hour),
		"3d ago":  now.AddDate(0, 0, -3),
		"2w":      now.AddDate(0, 0, -14),
		"1mo":     now.AddDate(0, -1, 0),
		"1yr":     now.AddDate(-1, 0, 0),
		"unknown": {},
	}
	for label, want := range tests {
		assert.Equal(t, want, relativeTime(label, now), label)
	}
}
