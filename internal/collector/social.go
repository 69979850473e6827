package collector

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/sells-group/lead-scanner/internal/model"
	"github.com/sells-group/lead-scanner/pkg/linkedin"
)

const (
	orgsPerQuery = 25
	postsPerOrg  = 10
)

// Social collects organization posts through the LinkedIn REST API.
type Social struct {
	fetcher
	client   linkedin.Client
	keywords []string
}

// NewSocial creates the API-backed social collector.
func NewSocial(client linkedin.Client, keywords []string, deps Deps) *Social {
	if len(keywords) == 0 {
		keywords = DefaultMilestoneKeywords
	}
	return &Social{fetcher: newFetcher("linkedin_api", model.SourceSocial, deps), client: client, keywords: keywords}
}

// Collect searches organizations matching the query and location, then
// yields their recent posts that mention a milestone keyword.
func (s *Social) Collect(ctx context.Context, query string, params model.SearchParams) iter.Seq2[model.CandidateItem, error] {
	seq := func(yield func(model.CandidateItem, error) bool) {
		for _, loc := range locations(params) {
			terms := strings.TrimSpace(query + " " + loc)
			orgs, err := fetch(ctx, s.fetcher, "orgs|"+terms, func(ctx context.Context) ([]linkedin.Organization, error) {
				return s.client.SearchOrganizations(ctx, []string{terms}, orgsPerQuery)
			})
			if err != nil {
				yield(model.CandidateItem{}, err)
				return
			}
			for _, org := range orgs {
				posts, err := fetch(ctx, s.fetcher, "posts|"+org.ID, func(ctx context.Context) ([]linkedin.Post, error) {
					return s.client.OrganizationPosts(ctx, org.ID, postsPerOrg)
				})
				if err != nil {
					yield(model.CandidateItem{}, err)
					return
				}
				for _, p := range posts {
					if !MentionsMilestone(p.Text, s.keywords) {
						continue
					}
					if !yield(postItem(org, p, loc), nil) {
						return
					}
				}
			}
		}
	}
	return singleUse(limitSeq(seq, params.MaxResults))
}

func postItem(org linkedin.Organization, p linkedin.Post, location string) model.CandidateItem {
	if org.Location != "" {
		location = org.Location
	}
	return model.CandidateItem{
		Source:    model.SourceSocial,
		Text:      fmt.Sprintf("%s: %s", org.Name, p.Text),
		Title:     org.Name,
		URL:       p.URL,
		Author:    org.Name,
		Location:  location,
		Timestamp: timePtr(p.CreatedAt),
		RawMetadata: map[string]any{
			"organization_id": org.ID,
			"post_id":         p.ID,
		},
	}
}
