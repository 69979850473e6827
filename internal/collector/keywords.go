package collector

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/lead-scanner/internal/model"
)

// DefaultMilestoneKeywords are the terms a post must mention to be worth
// classifying.
var DefaultMilestoneKeywords = []string{
	"milestone", "achievement", "funding", "series", "raised",
	"launch", "expansion", "growth", "acquisition", "partnership",
	"new office", "award", "recognition", "revenue", "profit",
	"IPO", "merger", "customer", "contract", "investment",
}

// QueryFile is the on-disk shape of a saved scan plan.
type QueryFile struct {
	Locations         []string `yaml:"locations"`
	BusinessTypes     []string `yaml:"business_types"`
	MilestoneKeywords []string `yaml:"milestone_keywords"`
	MaxResults        int      `yaml:"max_results"`
	MaxAgeDays        int      `yaml:"max_age_days"`
}

// LoadQueryFile reads a YAML scan plan.
func LoadQueryFile(path string) (*QueryFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "collector: read query file %s", path)
	}
	var qf QueryFile
	if err := yaml.Unmarshal(data, &qf); err != nil {
		return nil, eris.Wrapf(err, "collector: parse query file %s", path)
	}
	return &qf, nil
}

// Apply overlays non-empty fields of the file onto params.
func (qf *QueryFile) Apply(params model.SearchParams) model.SearchParams {
	if len(qf.Locations) > 0 {
		params.Location = qf.Locations
	}
	if len(qf.BusinessTypes) > 0 {
		params.BusinessTypes = qf.BusinessTypes
	}
	if qf.MaxResults > 0 {
		params.MaxResults = qf.MaxResults
	}
	if qf.MaxAgeDays > 0 {
		params.MaxAgeDays = qf.MaxAgeDays
	}
	return params.Clone()
}

// MentionsMilestone reports whether text contains any of keywords,
// case-insensitively.
func MentionsMilestone(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" && strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// PlaceQuery builds a maps query such as "tech startup in Austin".
func PlaceQuery(businessType, location string) string {
	businessType = strings.TrimSpace(businessType)
	if location = strings.TrimSpace(location); location == "" {
		return businessType
	}
	return fmt.Sprintf("%s in %s", businessType, location)
}

// SearchQuery builds a web search query pinned to a milestone keyword.
func SearchQuery(businessType, location, keyword string) string {
	parts := []string{fmt.Sprintf("%q", strings.TrimSpace(keyword)), strings.TrimSpace(businessType)}
	if location = strings.TrimSpace(location); location != "" {
		parts = append(parts, location)
	}
	return strings.Join(parts, " ")
}

var (
	announceRe = regexp.MustCompile(`^([^|:]+?)\s+(?:Announces|Achieves|Celebrates|Raises|Launches|Acquires|Opens)\b`)
	snippetRes = []*regexp.Regexp{
		regexp.MustCompile(`([A-Z][A-Za-z0-9 ,.]+?),?\s+a\s+(?:leading|premier|global)`),
		regexp.MustCompile(`([A-Z][A-Za-z0-9 ,.]+?),?\s+(?:announced|celebrated|achieved|raised)`),
	}
)

// ExtractCompany guesses the company a search result is about from its
// title, then its snippet, then the link's domain. It returns "" when
// nothing fits.
func ExtractCompany(title, snippet, link string) string {
	if m := announceRe.FindStringSubmatch(title); m != nil {
		return strings.TrimSpace(m[1])
	}
	if before, _, ok := strings.Cut(title, "|"); ok && strings.TrimSpace(before) != "" {
		return strings.TrimSpace(before)
	}
	for _, re := range snippetRes {
		if m := re.FindStringSubmatch(snippet); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return domainName(link)
}

// domainName turns https://www.acme.io/x into "Acme".
func domainName(link string) string {
	u, err := url.Parse(link)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	labels := strings.Split(strings.TrimPrefix(u.Hostname(), "www."), ".")
	if len(labels) < 2 {
		return ""
	}
	name := labels[len(labels)-2]
	if name == "" {
		return ""
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
