package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// SizeRange bounds the acceptable company headcount, inclusive.
type SizeRange struct {
	Min int `json:"min" mapstructure:"min" yaml:"min"`
	Max int `json:"max" mapstructure:"max" yaml:"max"`
}

// Midpoint returns the center of the range, rounded down.
func (r SizeRange) Midpoint() int {
	return (r.Min + r.Max) / 2
}

// Contains reports whether n falls inside the range.
func (r SizeRange) Contains(n int) bool {
	return n >= r.Min && n <= r.Max
}

// SearchParams describes what a scan looks for. It is copied into a job on
// submission and never changes afterwards.
type SearchParams struct {
	Location        []string  `json:"location"`
	BusinessTypes   []string  `json:"business_types"`
	MaxResults      int       `json:"max_results"`
	MaxAgeDays      int       `json:"max_age_days"`
	SeniorityLevels []string  `json:"seniority_levels,omitempty"`
	CompanySize     SizeRange `json:"company_size"`
}

// DefaultSearchParams returns the parameters used when a request omits them.
func DefaultSearchParams() SearchParams {
	return SearchParams{
		Location:      []string{"San Francisco"},
		BusinessTypes: []string{"tech startup", "small business", "medium business"},
		MaxResults:    20,
		MaxAgeDays:    30,
		CompanySize:   SizeRange{Min: 0, Max: 1_000_000},
	}
}

// Validate checks the structural constraints on the parameters.
func (p SearchParams) Validate() error {
	if p.MaxResults <= 0 {
		return eris.Errorf("search params: max_results must be > 0, got %d", p.MaxResults)
	}
	if p.MaxAgeDays < 0 {
		return eris.Errorf("search params: max_age_days must be >= 0, got %d", p.MaxAgeDays)
	}
	if p.CompanySize.Min < 0 || p.CompanySize.Min > p.CompanySize.Max {
		return eris.Errorf("search params: invalid company_size range [%d,%d]", p.CompanySize.Min, p.CompanySize.Max)
	}
	if len(p.BusinessTypes) == 0 {
		return eris.New("search params: at least one business type is required")
	}
	return nil
}

// Clone returns a deep copy so callers cannot mutate a running job's params.
func (p SearchParams) Clone() SearchParams {
	out := p
	out.Location = cloneTrimmed(p.Location)
	out.BusinessTypes = cloneTrimmed(p.BusinessTypes)
	out.SeniorityLevels = cloneTrimmed(p.SeniorityLevels)
	return out
}

// AllowsSeniority reports whether s is acceptable. An empty filter allows all.
func (p SearchParams) AllowsSeniority(s Seniority) bool {
	if len(p.SeniorityLevels) == 0 {
		return true
	}
	for _, level := range p.SeniorityLevels {
		if ParseSeniority(level) == s {
			return true
		}
	}
	return false
}

func cloneTrimmed(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
