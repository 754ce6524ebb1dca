package objstore

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNoProfileColumn is returned when the uploaded CSV has no recognizable
// profile URL column.
var ErrNoProfileColumn = errors.New("objstore: no profile URL column in CSV header")

// LeadRow is one parsed lead-list row.
type LeadRow struct {
	ProfileURL string
	FirstName  string
	LastName   string
	Company    string
}

// leadColumns maps normalized header names to row fields. Headers are
// matched after lowercasing and stripping spaces, dashes and underscores.
var leadColumns = map[string]func(*LeadRow, string){
	"profileurl":  func(r *LeadRow, v string) { r.ProfileURL = v },
	"linkedinurl": func(r *LeadRow, v string) { r.ProfileURL = v },
	"url":         func(r *LeadRow, v string) { r.ProfileURL = v },
	"firstname":   func(r *LeadRow, v string) { r.FirstName = v },
	"lastname":    func(r *LeadRow, v string) { r.LastName = v },
	"company":     func(r *LeadRow, v string) { r.Company = v },
	"companyname": func(r *LeadRow, v string) { r.Company = v },
}

// ParseLeadCSV reads an uploaded lead list. The first row must be a header
// containing a profile URL column; unknown columns are ignored and rows with
// an empty profile URL are skipped.
func ParseLeadCSV(r io.Reader) ([]LeadRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.New("objstore: empty CSV file")
	}
	if err != nil {
		return nil, fmt.Errorf("objstore: read CSV header: %w", err)
	}

	setters := make([]func(*LeadRow, string), len(header))
	hasURL := false
	for i, h := range header {
		set, ok := leadColumns[normalizeHeader(h)]
		if !ok {
			continue
		}
		setters[i] = set
		if normalizeHeader(h) == "profileurl" || normalizeHeader(h) == "linkedinurl" || normalizeHeader(h) == "url" {
			hasURL = true
		}
	}
	if !hasURL {
		return nil, ErrNoProfileColumn
	}

	var rows []LeadRow
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("objstore: read CSV line %d: %w", line, err)
		}
		var row LeadRow
		for i, v := range record {
			if i >= len(setters) || setters[i] == nil {
				continue
			}
			setters[i](&row, strings.TrimSpace(v))
		}
		if row.ProfileURL == "" {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(h)
	return h
}
