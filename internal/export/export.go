// Package export writes a run's composed intros as CSV or XLSX.
package export

import (
	"cmp"
	"encoding/csv"
	"io"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/outreach-cli/internal/compose"
	"github.com/sells-group/outreach-cli/internal/model"
)

// Columns is the ordered export header.
var Columns = []string{
	"Side",
	"Fingerprint",
	"Company",
	"Recipient",
	"Email",
	"Source",
	"Counterparty",
	"Intro",
	"Send Outcome",
	"Send Detail",
}

// Row is one exported intro.
type Row struct {
	Side         model.Side
	Fingerprint  string
	Company      string
	Recipient    string
	Email        string
	Source       model.IntroSource
	Counterparty string
	Intro        string
	Outcome      model.SendOutcome
	Detail       string
}

func (r Row) values() []string {
	return []string{
		string(r.Side),
		r.Fingerprint,
		r.Company,
		r.Recipient,
		r.Email,
		string(r.Source),
		r.Counterparty,
		r.Intro,
		string(r.Outcome),
		r.Detail,
	}
}

// Rows flattens a snapshot's intros, demand side first, each side ordered
// by fingerprint. Send outcomes are attached when the run has dispatched.
func Rows(snap *model.Snapshot) []Row {
	sent := make(map[string]model.SendRecord)
	if snap.Dispatch != nil {
		for _, rec := range snap.Dispatch.Records {
			sent[string(rec.Side)+"|"+rec.Fingerprint] = rec
		}
	}
	names := make(map[string]string, len(snap.Demand)+len(snap.Supply))
	for _, r := range append(slices.Clone(snap.Demand), snap.Supply...) {
		names[r.Fingerprint] = r.DisplayName()
	}

	side := func(s model.Side, records []model.Record, intros map[string]model.IntroEntry) []Row {
		byFP := make(map[string]model.Record, len(records))
		for _, r := range records {
			byFP[r.Fingerprint] = r
		}
		var out []Row
		for fp, e := range intros {
			r := byFP[fp]
			c := compose.ResolveContact(r, snap.Enrichment)
			row := Row{
				Side:         s,
				Fingerprint:  fp,
				Company:      r.DisplayName(),
				Recipient:    c.Name,
				Email:        c.Email,
				Source:       e.Source,
				Counterparty: names[e.Counterparty],
				Intro:        e.Text,
			}
			if rec, ok := sent[string(s)+"|"+fp]; ok {
				row.Outcome, row.Detail = rec.Outcome, rec.Detail
			}
			out = append(out, row)
		}
		slices.SortFunc(out, func(a, b Row) int { return cmp.Compare(a.Fingerprint, b.Fingerprint) })
		return out
	}

	rows := side(model.SideDemand, snap.Demand, snap.DemandIntros)
	return append(rows, side(model.SideSupply, snap.Supply, snap.SupplyIntros)...)
}

// WriteCSV writes rows with a header line.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for _, r := range rows {
		if err := cw.Write(r.values()); err != nil {
			return eris.Wrap(err, "export: write csv row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

// WriteXLSX writes rows to a single "Intros" sheet.
func WriteXLSX(w io.Writer, rows []Row) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Intros")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}
	addRow := func(vals []string) {
		row := sheet.AddRow()
		for _, v := range vals {
			row.AddCell().SetString(v)
		}
	}
	addRow(Columns)
	for _, r := range rows {
		addRow(r.values())
	}
	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "export: write xlsx")
	}
	return nil
}

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// FormatFor picks a format from a file name, defaulting to CSV.
func FormatFor(name string) Format {
	if strings.HasSuffix(strings.ToLower(name), ".xlsx") {
		return FormatXLSX
	}
	return FormatCSV
}

// Write renders rows in format f.
func Write(w io.Writer, f Format, rows []Row) error {
	switch f {
	case FormatXLSX:
		return WriteXLSX(w, rows)
	case FormatCSV, "":
		return WriteCSV(w, rows)
	default:
		return eris.Errorf("export: unknown format %q", f)
	}
}
