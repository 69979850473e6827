// Package export renders finished job results into files and hands them to
// storage: an uploader for the rendered artifacts and optional row sinks.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/lead-scanner/internal/job"
	"github.com/sells-group/lead-scanner/internal/model"
)

// Format is an output file type.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// ParseFormats parses format names, dropping duplicates.
func ParseFormats(names []string) ([]Format, error) {
	var out []Format
	seen := make(map[Format]bool)
	for _, n := range names {
		f := Format(strings.ToLower(strings.TrimSpace(n)))
		switch f {
		case FormatCSV, FormatJSON, FormatXLSX:
		case "":
			continue
		default:
			return nil, eris.Errorf("export: unknown format %q", n)
		}
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out, nil
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatJSON:
		return "application/json"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}

// Columns is the tabular lead layout shared by CSV, XLSX and the Postgres
// sink.
var Columns = []string{
	"company",
	"milestone_kind",
	"location",
	"post_date",
	"contact_name",
	"contact_title",
	"seniority",
	"company_size_estimate",
	"score",
	"source",
	"source_url",
	"original_text",
}

func leadRecord(l model.Lead) []string {
	return []string{
		l.Company,
		string(l.Milestone),
		l.Location,
		l.PostDate.UTC().Format(time.DateOnly),
		l.ContactName,
		l.ContactTitle,
		string(l.Seniority),
		strconv.Itoa(l.CompanySizeEstimate),
		strconv.FormatFloat(l.Score, 'f', 2, 64),
		string(l.Source),
		l.SourceURL,
		l.OriginalText,
	}
}

// WriteCSV writes a header row followed by one row per lead.
func WriteCSV(w io.Writer, leads []model.Lead) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for _, l := range leads {
		if err := cw.Write(leadRecord(l)); err != nil {
			return eris.Wrap(err, "export: write csv row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

type jsonDocument struct {
	JobID      string             `json:"job_id"`
	State      job.State          `json:"state"`
	Params     model.SearchParams `json:"params"`
	FinishedAt time.Time          `json:"finished_at"`
	Count      int                `json:"count"`
	Leads      []model.Lead       `json:"leads"`
}

// WriteJSON writes the job summary and its leads as one indented document.
func WriteJSON(w io.Writer, s job.Snapshot) error {
	leads := s.Results
	if leads == nil {
		leads = []model.Lead{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	err := enc.Encode(jsonDocument{
		JobID:      s.ID,
		State:      s.State,
		Params:     s.Params,
		FinishedAt: s.FinishedAt,
		Count:      len(leads),
		Leads:      leads,
	})
	return eris.Wrap(err, "export: encode json")
}

// WriteXLSX writes a single "Leads" sheet with typed numeric cells.
func WriteXLSX(w io.Writer, leads []model.Lead) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Leads")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, c := range Columns {
		header.AddCell().SetString(c)
	}
	for _, l := range leads {
		row := sheet.AddRow()
		for i, v := range leadRecord(l) {
			cell := row.AddCell()
			switch Columns[i] {
			case "company_size_estimate":
				cell.SetInt(l.CompanySizeEstimate)
			case "score":
				cell.SetFloat(l.Score)
			default:
				cell.SetString(v)
			}
		}
	}
	return eris.Wrap(f.Write(w), "export: write xlsx")
}

// Render produces the bytes for one format.
func Render(f Format, s job.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch f {
	case FormatCSV:
		err = WriteCSV(&buf, s.Results)
	case FormatJSON:
		err = WriteJSON(&buf, s)
	case FormatXLSX:
		err = WriteXLSX(&buf, s.Results)
	default:
		err = eris.Errorf("export: unknown format %q", f)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
