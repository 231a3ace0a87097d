// Package fingerprint derives stable identity keys for demand and supply records.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/outreach-cli/internal/model"
)

// Length is the number of hex characters in a fingerprint.
const Length = 32

// Compute returns the fingerprint of r. It depends only on normalized identity
// fields, so the same record always yields the same key, with or without a
// domain.
func Compute(r model.Record) string {
	var b strings.Builder
	b.WriteString("side=")
	b.WriteString(string(r.Side))

	identity := []struct {
		key, val string
	}{
		{"domain", Domain(r.Domain)},
		{"company", Text(r.Company)},
		{"name", Text(r.ContactName())},
		{"email", strings.ToLower(strings.TrimSpace(r.Email))},
	}

	hasIdentity := false
	for _, f := range identity {
		if f.val == "" {
			continue
		}
		hasIdentity = true
		b.WriteString("|")
		b.WriteString(f.key)
		b.WriteString("=")
		b.WriteString(f.val)
	}

	// Records with no identity fields fall back to their content.
	if !hasIdentity {
		b.WriteString("|signal=")
		b.WriteString(Text(r.Signal))
		b.WriteString("|description=")
		b.WriteString(Text(r.Description))
		b.WriteString("|raw=")
		b.WriteString(canonicalRaw(r.Raw))
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:Length]
}

// Assign sets the fingerprint on every record that does not have one yet.
// Existing fingerprints are never recomputed.
func Assign(records []model.Record) {
	for i := range records {
		if records[i].Fingerprint == "" {
			records[i].Fingerprint = Compute(records[i])
		}
	}
}

// Text normalizes free text for identity comparison: accents removed, case
// folded, whitespace collapsed.
func Text(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if out, _, err := transform.String(t, s); err == nil {
		s = out
	}
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Domain normalizes a domain or URL to its bare lowercase host.
func Domain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	if d == "" {
		return ""
	}
	for _, prefix := range []string{"https://", "http://"} {
		d = strings.TrimPrefix(d, prefix)
	}
	d = strings.TrimPrefix(d, "www.")
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	return strings.TrimSuffix(d, ".")
}

func canonicalRaw(raw map[string]any) string {
	if len(raw) == 0 {
		return ""
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		v, err := json.Marshal(raw[k])
		if err != nil {
			continue
		}
		b.WriteString(k)
		b.WriteString(":")
		b.Write(v)
		b.WriteString(";")
	}
	return b.String()
}
