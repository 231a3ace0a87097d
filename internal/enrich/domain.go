package enrich

import (
	"regexp"
	"strings"

	"github.com/sells-group/outreach-cli/internal/fingerprint"
	"github.com/sells-group/outreach-cli/internal/model"
)

// socialDomains are profile hosts that upstream data often puts in the domain
// column. They never identify the company itself.
var socialDomains = map[string]bool{
	"twitter.com":  true,
	"linkedin.com": true,
	"x.com":        true,
	"facebook.com": true,
}

// nameSuffixes are trimmed, repeatedly, from the end of company names when
// deriving a domain.
var nameSuffixes = []string{
	", llc", ", lp", ", l.p.", ", inc.", ", inc",
	" llc", " lp", " l.p.",
	" management", " ventures", " partners", " capital",
	" advisors", " advisory", " funds", " fund",
	" inc.", " inc", " corp.", " corp", " company",
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]`)

// CleanDomain normalizes d and drops social-network hosts.
func CleanDomain(d string) string {
	d = fingerprint.Domain(d)
	if socialDomains[d] {
		return ""
	}
	return d
}

// DeriveDomain guesses "<name>.com" from a company name. It is a hint for
// finders only; the result is never stored on the record.
func DeriveDomain(company string) string {
	name := strings.ToLower(strings.TrimSpace(company))
	for trimmed := true; trimmed; {
		trimmed = false
		for _, s := range nameSuffixes {
			if strings.HasSuffix(name, s) {
				name = strings.TrimSpace(strings.TrimSuffix(name, s))
				trimmed = true
			}
		}
	}
	name = nonAlnum.ReplaceAllString(name, "")
	if name == "" {
		return ""
	}
	return name + ".com"
}

// lookupRecord returns the copy of r that providers see: cleaned domain, or a
// derived one when allowed and nothing usable was supplied. ok is false when
// the record has neither a company nor a domain.
func lookupRecord(r model.Record, derive bool) (model.Record, bool) {
	r.Domain = CleanDomain(r.Domain)
	if r.Domain == "" && strings.TrimSpace(r.Company) == "" {
		return r, false
	}
	if r.Domain == "" && derive {
		r.Domain = DeriveDomain(r.Company)
	}
	return r, true
}
