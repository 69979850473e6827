package collector

import (
	"context"
	"iter"
	"strings"

	"github.com/sells-group/lead-scanner/internal/model"
	"github.com/sells-group/lead-scanner/pkg/google"
)

// Maps collects business listings from Google Places text search.
type Maps struct {
	fetcher
	client google.PlacesClient
}

// NewMaps creates a maps collector.
func NewMaps(client google.PlacesClient, deps Deps) *Maps {
	return &Maps{fetcher: newFetcher("google_places", model.SourceMaps, deps), client: client}
}

// Collect runs "<query> in <location>" for every location, following
// next-page tokens until params.MaxResults listings have been yielded.
func (m *Maps) Collect(ctx context.Context, query string, params model.SearchParams) iter.Seq2[model.CandidateItem, error] {
	seq := func(yield func(model.CandidateItem, error) bool) {
		for _, loc := range locations(params) {
			text := PlaceQuery(query, loc)
			token := ""
			for {
				req := google.TextSearchRequest{TextQuery: text, PageSize: min(params.MaxResults, 20), PageToken: token}
				resp, err := fetch(ctx, m.fetcher, text+"|"+token, func(ctx context.Context) (*google.TextSearchResponse, error) {
					return m.client.TextSearch(ctx, req)
				})
				if err != nil {
					yield(model.CandidateItem{}, err)
					return
				}
				for _, p := range resp.Places {
					if !yield(placeItem(p, loc), nil) {
						return
					}
				}
				if resp.NextPageToken == "" || len(resp.Places) == 0 {
					break
				}
				token = resp.NextPageToken
			}
		}
	}
	return singleUse(limitSeq(seq, params.MaxResults))
}

func placeItem(p google.Place, location string) model.CandidateItem {
	parts := []string{p.DisplayName.Text}
	if p.FormattedAddress != "" {
		parts = append(parts, p.FormattedAddress)
	}
	if len(p.Types) > 0 {
		parts = append(parts, "Categories: "+strings.Join(p.Types, ", "))
	}
	if p.EditorialSummary.Text != "" {
		parts = append(parts, p.EditorialSummary.Text)
	}
	if location == "" {
		location = p.FormattedAddress
	}
	return model.CandidateItem{
		Source:   model.SourceMaps,
		Text:     strings.Join(parts, ". "),
		Title:    p.DisplayName.Text,
		URL:      p.WebsiteURI,
		Location: location,
		RawMetadata: map[string]any{
			"place_id":          p.ID,
			"address":           p.FormattedAddress,
			"types":             p.Types,
			"user_rating_count": p.UserRatingCount,
		},
	}
}
