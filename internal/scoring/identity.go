package scoring

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/lead-scanner/internal/model"
)

// legalSuffixes are dropped from the end of a normalized company name.
var legalSuffixes = map[string]bool{
	"inc": true, "incorporated": true,
	"llc": true, "llp": true, "lp": true, "pllc": true,
	"ltd": true, "limited": true,
	"corp": true, "corporation": true, "co": true, "company": true,
	"plc": true, "gmbh": true, "ag": true, "sa": true, "bv": true,
	"pty": true, "pc": true,
}

// NormalizeCompany folds a company name for identity comparison:
// diacritics removed, lowercase, punctuation stripped, "&" spelled out and
// trailing legal suffixes dropped. "Café Löwe, Inc." becomes "cafe lowe".
func NormalizeCompany(name string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	folded = strings.ToLower(strings.ReplaceAll(folded, "&", " and "))

	var b strings.Builder
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '.', r == '\'':
			// dropped so "L.L.C." and "Joe's" collapse
		default:
			b.WriteRune(' ')
		}
	}

	words := strings.Fields(b.String())
	n := len(words)
	for n > 1 && legalSuffixes[words[n-1]] {
		n--
		// "Smith & Co" leaves a dangling conjunction.
		if n > 1 && words[n-1] == "and" {
			n--
		}
	}
	return strings.Join(words[:n], " ")
}

// IdentityKey is the dedup key of a lead: normalized company, milestone
// and the UTC calendar day of the post.
func IdentityKey(l model.Lead) string {
	day := "undated"
	if !l.PostDate.IsZero() {
		day = l.PostDate.UTC().Format("2006-01-02")
	}
	return NormalizeCompany(l.Company) + "|" + string(l.Milestone) + "|" + day
}
