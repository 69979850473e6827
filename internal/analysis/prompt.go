package analysis

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-scanner/internal/model"
)

const systemTemplate = `You classify short business texts (news snippets, social posts, map listings) for a sales team.
The team is looking for %s located in %s that recently reached a milestone.

Milestone kinds: funding, expansion, launch, award, anniversary, acquisition, partnership, none.
Seniority of the mentioned person: executive, senior, mid, entry, unknown.
relevance is your confidence from 0 to 1 that the text is a recent milestone of a matching business.
company_size is the estimated headcount as an integer, 0 when unknown.

Respond with only a JSON object and no commentary:
{"milestone_kind":"","company":"","person":"","job_title":"","location":"","industry":"","company_size":0,"seniority":"","relevance":0}`

// systemPrompt renders the requester intent for one scan.
func systemPrompt(params model.SearchParams) string {
	types := "businesses"
	if len(params.BusinessTypes) > 0 {
		types = strings.Join(params.BusinessTypes, ", ")
	}
	locs := "any location"
	if len(params.Location) > 0 {
		locs = strings.Join(params.Location, " or ")
	}
	return fmt.Sprintf(systemTemplate, types, locs)
}

// rawResult is the model's answer before validation. Pointers distinguish
// missing fields from zero values.
type rawResult struct {
	Milestone   *string         `json:"milestone_kind"`
	Company     string          `json:"company"`
	Person      string          `json:"person"`
	JobTitle    string          `json:"job_title"`
	Location    string          `json:"location"`
	Industry    string          `json:"industry"`
	CompanySize json.RawMessage `json:"company_size"`
	Seniority   string          `json:"seniority"`
	Relevance   *float64        `json:"relevance"`
}

// cleanJSON extracts a JSON object from text that may carry markdown code
// fences or prose around it.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

// parseResult validates the model output into an AnalysisResult.
func parseResult(text string) (model.AnalysisResult, error) {
	var raw rawResult
	if err := json.Unmarshal([]byte(cleanJSON(text)), &raw); err != nil {
		return model.AnalysisResult{}, eris.Wrap(err, "analysis: parse model json")
	}
	if raw.Milestone == nil {
		return model.AnalysisResult{}, eris.New("analysis: milestone_kind missing")
	}
	if raw.Relevance == nil || math.IsNaN(*raw.Relevance) {
		return model.AnalysisResult{}, eris.New("analysis: relevance missing")
	}

	return model.AnalysisResult{
		Milestone: model.ParseMilestone(*raw.Milestone),
		Entities: model.Entities{
			Company:     strings.TrimSpace(raw.Company),
			Person:      strings.TrimSpace(raw.Person),
			JobTitle:    strings.TrimSpace(raw.JobTitle),
			Location:    strings.TrimSpace(raw.Location),
			Industry:    strings.TrimSpace(raw.Industry),
			CompanySize: parseSize(raw.CompanySize),
		},
		Seniority: model.ParseSeniority(raw.Seniority),
		Relevance: normalizeRelevance(*raw.Relevance),
	}, nil
}

// normalizeRelevance maps a 0-100 answer onto 0-1 and clamps.
func normalizeRelevance(r float64) float64 {
	if r > 1 && r <= 100 {
		r /= 100
	}
	return math.Max(0, math.Min(1, r))
}

var digitsRe = regexp.MustCompile(`\d[\d,]*`)

// parseSize accepts 120, "120", "50-200" (midpoint) or "about 1,000".
// Anything else is unknown (0).
func parseSize(raw json.RawMessage) int {
	if len(raw) == 0 || string(raw) == "null" {
		return 0
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return max(0, int(n))
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0
	}
	matches := digitsRe.FindAllString(s, 2)
	if len(matches) == 0 {
		return 0
	}
	sum := 0
	for _, m := range matches {
		v, err := strconv.Atoi(strings.ReplaceAll(m, ",", ""))
		if err != nil {
			return 0
		}
		sum += v
	}
	return sum / len(matches)
}
