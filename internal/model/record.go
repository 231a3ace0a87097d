package model

import (
	"strconv"
	"strings"
)

// Side identifies which half of the marketplace a record belongs to.
type Side string

const (
	SideDemand Side = "demand"
	SideSupply Side = "supply"
)

// Funding holds the funding metadata carried by a record, if any.
type Funding struct {
	Amount float64 `json:"amount,omitempty"`
	Round  string  `json:"round,omitempty"`
	Date   string  `json:"date,omitempty"`
}

// String renders funding as a short human-readable phrase.
func (f *Funding) String() string {
	if f == nil {
		return ""
	}
	var parts []string
	if f.Round != "" {
		parts = append(parts, f.Round)
	}
	if f.Amount > 0 {
		parts = append(parts, formatAmount(f.Amount))
	}
	if f.Date != "" {
		parts = append(parts, "("+f.Date+")")
	}
	return strings.Join(parts, " ")
}

// Record is a normalized demand or supply entity.
type Record struct {
	Side        Side           `json:"side"`
	Company     string         `json:"company,omitempty"`
	Domain      string         `json:"domain,omitempty"`
	FirstName   string         `json:"first_name,omitempty"`
	LastName    string         `json:"last_name,omitempty"`
	FullName    string         `json:"full_name,omitempty"`
	Email       string         `json:"email,omitempty"`
	Title       string         `json:"title,omitempty"`
	Industry    string         `json:"industry,omitempty"`
	Signal      string         `json:"signal,omitempty"`
	Description string         `json:"description,omitempty"`
	Capability  string         `json:"capability,omitempty"`
	Funding     *Funding       `json:"funding,omitempty"`
	Raw         map[string]any `json:"raw,omitempty"`

	// Fingerprint is assigned once by the fingerprint package and never recomputed.
	Fingerprint string `json:"fingerprint"`
}

// ContactName returns the best available person name for the record.
func (r Record) ContactName() string {
	if n := strings.TrimSpace(r.FullName); n != "" {
		return n
	}
	return strings.TrimSpace(strings.TrimSpace(r.FirstName) + " " + strings.TrimSpace(r.LastName))
}

// FirstNameOrDerived returns FirstName, falling back to the first token of FullName.
func (r Record) FirstNameOrDerived() string {
	if n := strings.TrimSpace(r.FirstName); n != "" {
		return n
	}
	if fields := strings.Fields(r.FullName); len(fields) > 0 {
		return fields[0]
	}
	return ""
}

// HasEmail reports whether the record already carries a contact email.
func (r Record) HasEmail() bool {
	return strings.Contains(r.Email, "@")
}

// DisplayName returns the company name, or the domain when the name is missing.
func (r Record) DisplayName() string {
	if c := strings.TrimSpace(r.Company); c != "" {
		return c
	}
	return strings.TrimSpace(r.Domain)
}

func formatAmount(v float64) string {
	switch {
	case v >= 1e9:
		return trimFloat(v/1e9) + "B"
	case v >= 1e6:
		return trimFloat(v/1e6) + "M"
	case v >= 1e3:
		return trimFloat(v/1e3) + "K"
	default:
		return trimFloat(v)
	}
}

func trimFloat(v float64) string {
	return "$" + strings.TrimSuffix(strconv.FormatFloat(v, 'f', 1, 64), ".0")
}
