package scoring

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-scanner/internal/model"
)

func TestNormalizeCompany(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"Acme, Inc.":        "acme",
		"ACME INC":          "acme",
		"Acme L.L.C.":       "acme",
		"Café Löwe GmbH":    "cafe lowe",
		"Smith & Co":        "smith",
		"Barnes & Noble":    "barnes and noble",
		"  Joe's   Pizza  ": "joes pizza",
		"Inc":               "inc",
		"Globex Corp. Ltd":  "globex",
		"":                  "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeCompany(in), in)
	}
}

func TestIdentityKey(t *testing.T) {
	t.Parallel()
	morning := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
	evening := time.Date(2026, 10, 1, 22, 0, 0, 0, time.UTC)

	a := model.Lead{Company: "Acme, Inc.", Milestone: model.MilestoneFunding, PostDate: morning}
	b := model.Lead{Company: "ACME", Milestone: model.MilestoneFunding, PostDate: evening}
	assert.Equal(t, IdentityKey(a), IdentityKey(b))
	assert.Equal(t, "acme|funding|2026-10-01", IdentityKey(a))

	c := b
	c.Milestone = model.MilestoneLaunch
	assert.NotEqual(t, IdentityKey(a), IdentityKey(c))

	d := b
	d.PostDate = morning.AddDate(0, 0, 1)
	assert.NotEqual(t, IdentityKey(a), IdentityKey(d))

	assert.Equal(t, "acme|funding|undated", IdentityKey(model.Lead{Company: "Acme", Milestone: model.MilestoneFunding}))
}

func lead(company string, score float64) model.Lead {
	return model.Lead{
		Company:   company,
		Milestone: model.MilestoneFunding,
		PostDate:  time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		Score:     score,
	}
}

func TestResultSet_KeepsHighestInPlace(t *testing.T) {
	t.Parallel()
	rs := NewResultSet()

	assert.Equal(t, Added, rs.Add(lead("Acme", 60)))
	assert.Equal(t, Added, rs.Add(lead("Globex", 70)))
	assert.Equal(t, Duplicate, rs.Add(lead("ACME Inc", 60)))
	assert.Equal(t, Replaced, rs.Add(lead("Acme, Inc.", 80)))
	assert.Equal(t, Duplicate, rs.Add(lead("acme", 75)))

	leads := rs.Leads()
	require.Len(t, leads, 2)
	assert.Equal(t, "Acme, Inc.", leads[0].Company)
	assert.InDelta(t, 80.0, leads[0].Score, 1e-9)
	assert.Equal(t, "Globex", leads[1].Company)
	assert.Equal(t, 2, rs.Len())
}

func TestResultSet_LeadsIsACopy(t *testing.T) {
	t.Parallel()
	rs := NewResultSet()
	rs.Add(lead("Acme", 60))

	out := rs.Leads()
	out[0].Company = "mutated"
	assert.Equal(t, "Acme", rs.Leads()[0].Company)
}

// Property: any sequence of same-identity leads leaves exactly one lead
// carrying the maximum score.
func TestResultSet_DedupRetainsMaximum(t *testing.T) {
	t.Parallel()
	scores := []float64{12, 88, 40, 88, 95, 3, 95, 60}
	rs := NewResultSet()
	var wg sync.WaitGroup
	for i, s := range scores {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rs.Add(lead(fmt.Sprintf("Acme%s", []string{"", " Inc", ", LLC"}[i%3]), s))
		}()
	}
	wg.Wait()

	leads := rs.Leads()
	require.Len(t, leads, 1)
	assert.InDelta(t, 95.0, leads[0].Score, 1e-9)
}

func TestAddOutcomeString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "added", Added.String())
	assert.Equal(t, "replaced", Replaced.String())
	assert.Equal(t, "duplicate", Duplicate.String())
}
