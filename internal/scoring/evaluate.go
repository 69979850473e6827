// Package scoring decides whether an analyzed candidate becomes a lead and
// how valuable it is. Everything here is pure and deterministic.
package scoring

import (
	"math"
	"strings"
	"time"

	"github.com/sells-group/lead-scanner/internal/model"
)

// Reason explains a rejection.
type Reason string

const (
	ReasonLowRelevance      Reason = "low relevance"
	ReasonNoMilestone       Reason = "no milestone"
	ReasonLocationMismatch  Reason = "location mismatch"
	ReasonTooOld            Reason = "too old"
	ReasonSeniorityMismatch Reason = "seniority mismatch"
	ReasonSizeMismatch      Reason = "size mismatch"
)

const (
	// MinRelevance is the acceptance threshold on the model's confidence.
	MinRelevance = 0.7

	baseScore    = 50
	recencyBonus = 30
	sizeFitBonus = 15
	maxScore     = 100

	unknownCompany = "Unknown Company"
)

var seniorityBonus = map[model.Seniority]int{
	model.SeniorityExecutive: 20,
	model.SenioritySenior:    15,
	model.SeniorityMid:       10,
	model.SeniorityEntry:     5,
}

// Decision is the outcome of Evaluate. Lead is set only when Accepted.
type Decision struct {
	Accepted bool
	Lead     model.Lead
	Reason   Reason
}

// Evaluate filters and scores one candidate. Checks run in a fixed order
// and the first failure wins. now anchors the age computation.
func Evaluate(item model.CandidateItem, analysis model.AnalysisResult, params model.SearchParams, now time.Time) Decision {
	if analysis.Relevance < MinRelevance {
		return reject(ReasonLowRelevance)
	}
	if analysis.Milestone.IsNone() {
		return reject(ReasonNoMilestone)
	}

	location := strings.TrimSpace(analysis.Entities.Location)
	if location == "" {
		location = strings.TrimSpace(item.Location)
	}
	if len(params.Location) > 0 && !MatchLocation(location, params.Location) {
		return reject(ReasonLocationMismatch)
	}

	age, dated := AgeDays(item.Timestamp, now)
	if dated && age > params.MaxAgeDays {
		return reject(ReasonTooOld)
	}
	if analysis.Seniority.Known() && !params.AllowsSeniority(analysis.Seniority) {
		return reject(ReasonSeniorityMismatch)
	}
	size := analysis.Entities.CompanySize
	if size > 0 && !params.CompanySize.Contains(size) {
		return reject(ReasonSizeMismatch)
	}

	postDate := now.UTC().Truncate(24 * time.Hour)
	if dated {
		postDate = item.Timestamp.UTC()
	}
	company := strings.TrimSpace(analysis.Entities.Company)
	if company == "" {
		company = strings.TrimSpace(item.Author)
	}
	if company == "" {
		company = unknownCompany
	}
	seniority := analysis.Seniority
	if seniority == "" {
		seniority = model.SeniorityUnknown
	}

	return Decision{
		Accepted: true,
		Lead: model.Lead{
			Company:             company,
			Milestone:           analysis.Milestone,
			Location:            location,
			PostDate:            postDate,
			ContactName:         analysis.Entities.Person,
			ContactTitle:        analysis.Entities.JobTitle,
			Seniority:           seniority,
			CompanySizeEstimate: max(0, size),
			Score:               Score(age, dated, analysis, params),
			Source:              item.Source,
			SourceURL:           item.URL,
			OriginalText:        item.Text,
		},
	}
}

// Score computes the additive score for an accepted candidate: a base,
// recency, seniority and size fit, scaled by relevance and capped at 100.
// Undated candidates earn no recency. Arithmetic on days and headcount is
// integral.
func Score(ageDays int, dated bool, analysis model.AnalysisResult, params model.SearchParams) float64 {
	points := baseScore
	if dated {
		points += max(0, recencyBonus-max(0, ageDays))
	}
	points += seniorityBonus[analysis.Seniority]
	if size := analysis.Entities.CompanySize; size > 0 {
		diff := size - params.CompanySize.Midpoint()
		if diff < 0 {
			diff = -diff
		}
		points += max(0, sizeFitBonus-diff/10)
	}
	score := float64(points) * analysis.Relevance
	return math.Round(math.Min(score, maxScore)*100) / 100
}

// AgeDays returns whole days between ts and now. dated is false when ts is
// missing or zero, in which case the age is 0. Future timestamps are age 0.
func AgeDays(ts *time.Time, now time.Time) (age int, dated bool) {
	if ts == nil || ts.IsZero() {
		return 0, false
	}
	d := now.Sub(*ts)
	if d < 0 {
		return 0, true
	}
	return int(d / (24 * time.Hour)), true
}

// MatchLocation reports whether location contains any wanted entry,
// ignoring case. "Austin, TX" matches "Austin"; "San" does not match
// "San Francisco".
func MatchLocation(location string, wanted []string) bool {
	loc := strings.ToLower(strings.TrimSpace(location))
	if loc == "" {
		return false
	}
	for _, w := range wanted {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		if strings.Contains(loc, w) {
			return true
		}
	}
	return false
}

func reject(r Reason) Decision {
	return Decision{Reason: r}
}
