// Package model defines the core types shared across the lead scanning pipeline.
package model

import (
	"strings"
	"time"
)

// Source identifies an external origin of candidate business mentions.
type Source string

const (
	SourceMaps   Source = "maps"
	SourceSocial Source = "social"
	SourceSearch Source = "search"
)

// AllSources lists every supported source in scan order.
var AllSources = []Source{SourceMaps, SourceSocial, SourceSearch}

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceMaps, SourceSocial, SourceSearch:
		return true
	default:
		return false
	}
}

// MilestoneKind is a classified business event.
type MilestoneKind string

const (
	MilestoneNone        MilestoneKind = "none"
	MilestoneFunding     MilestoneKind = "funding"
	MilestoneExpansion   MilestoneKind = "expansion"
	MilestoneLaunch      MilestoneKind = "launch"
	MilestoneAward       MilestoneKind = "award"
	MilestoneAnniversary MilestoneKind = "anniversary"
	MilestoneAcquisition MilestoneKind = "acquisition"
	MilestonePartnership MilestoneKind = "partnership"
)

// IsNone reports whether no milestone was detected.
func (m MilestoneKind) IsNone() bool {
	return m == "" || m == MilestoneNone
}

// milestoneSynonyms maps free-form model output onto the closed set of kinds.
var milestoneSynonyms = map[string]MilestoneKind{
	"funding":        MilestoneFunding,
	"fundraise":      MilestoneFunding,
	"fundraising":    MilestoneFunding,
	"investment":     MilestoneFunding,
	"raised":         MilestoneFunding,
	"series":         MilestoneFunding,
	"seed":           MilestoneFunding,
	"ipo":            MilestoneFunding,
	"expansion":      MilestoneExpansion,
	"new office":     MilestoneExpansion,
	"new location":   MilestoneExpansion,
	"growth":         MilestoneExpansion,
	"hiring":         MilestoneExpansion,
	"launch":         MilestoneLaunch,
	"product launch": MilestoneLaunch,
	"release":        MilestoneLaunch,
	"opening":        MilestoneLaunch,
	"award":          MilestoneAward,
	"recognition":    MilestoneAward,
	"anniversary":    MilestoneAnniversary,
	"acquisition":    MilestoneAcquisition,
	"merger":         MilestoneAcquisition,
	"acquired":       MilestoneAcquisition,
	"partnership":    MilestonePartnership,
	"contract":       MilestonePartnership,
	"customer":       MilestonePartnership,
}

// ParseMilestone maps a free-form label onto a MilestoneKind. Unrecognized or
// empty labels yield MilestoneNone.
func ParseMilestone(s string) MilestoneKind {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "none", "null", "n/a", "no":
		return MilestoneNone
	}
	if kind, ok := milestoneSynonyms[s]; ok {
		return kind
	}
	// Longest matching keyword wins; ties break alphabetically.
	best, bestKey := MilestoneNone, ""
	for keyword, kind := range milestoneSynonyms {
		if !strings.Contains(s, keyword) {
			continue
		}
		if len(keyword) > len(bestKey) || (len(keyword) == len(bestKey) && keyword < bestKey) {
			best, bestKey = kind, keyword
		}
	}
	return best
}

// Seniority is the contact's level inside the company.
type Seniority string

const (
	SeniorityExecutive Seniority = "executive"
	SenioritySenior    Seniority = "senior"
	SeniorityMid       Seniority = "mid"
	SeniorityEntry     Seniority = "entry"
	SeniorityUnknown   Seniority = "unknown"
)

// ParseSeniority normalizes a seniority label. Anything unrecognized is unknown.
func ParseSeniority(s string) Seniority {
	switch Seniority(strings.ToLower(strings.TrimSpace(s))) {
	case SeniorityExecutive:
		return SeniorityExecutive
	case SenioritySenior:
		return SenioritySenior
	case SeniorityMid:
		return SeniorityMid
	case SeniorityEntry:
		return SeniorityEntry
	default:
		return SeniorityUnknown
	}
}

// Known reports whether the seniority was determined.
func (s Seniority) Known() bool {
	return s != "" && s != SeniorityUnknown
}

// CandidateItem is one raw unit pulled from a source. It is never mutated
// after a collector yields it.
type CandidateItem struct {
	Source      Source         `json:"source"`
	Text        string         `json:"text"`
	Title       string         `json:"title,omitempty"`
	URL         string         `json:"url,omitempty"`
	Author      string         `json:"author,omitempty"`
	Location    string         `json:"location,omitempty"`
	Timestamp   *time.Time     `json:"timestamp,omitempty"`
	RawMetadata map[string]any `json:"raw_metadata,omitempty"`
}

// Entities holds the named entities extracted from a candidate's text.
type Entities struct {
	Company     string `json:"company"`
	Person      string `json:"person,omitempty"`
	JobTitle    string `json:"job_title,omitempty"`
	Location    string `json:"location,omitempty"`
	Industry    string `json:"industry,omitempty"`
	CompanySize int    `json:"company_size,omitempty"` // 0 = unknown
}

// AnalysisResult is the classification of a single CandidateItem.
type AnalysisResult struct {
	Milestone MilestoneKind `json:"milestone_kind"`
	Entities  Entities      `json:"entities"`
	Seniority Seniority     `json:"seniority"`
	Relevance float64       `json:"relevance_score"` // [0,1]
}

// Lead is an accepted, scored candidate.
type Lead struct {
	Company             string        `json:"company"`
	Milestone           MilestoneKind `json:"milestone_kind"`
	Location            string        `json:"location"`
	PostDate            time.Time     `json:"post_date"`
	ContactName         string        `json:"contact_name,omitempty"`
	ContactTitle        string        `json:"contact_title,omitempty"`
	Seniority           Seniority     `json:"seniority"`
	CompanySizeEstimate int           `json:"company_size_estimate"`
	Score               float64       `json:"score"`
	Source              Source        `json:"source"`
	SourceURL           string        `json:"source_url,omitempty"`
	OriginalText        string        `json:"original_text"`
}
