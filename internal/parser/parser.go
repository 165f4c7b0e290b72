package parser

import (
	"encoding/csv"
	"errors"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/sexxyrexxy/mycelium-sub000/internal/models"
)

// ErrEmptyInput is returned when no valid rows remain after parsing.
var ErrEmptyInput = errors.New("parser: no valid samples in input")

// fallbackStep is the synthetic spacing used when a row has no usable timestamp.
const fallbackStep = time.Second

// Report accounts for every raw row seen, valid or not.
type Report struct {
	TotalRows int `json:"total_rows"`
	ValidRows int `json:"valid_rows"`
}

// ParseCSV reads a two-column record set (header + timestamp,value rows) into an
// ordered sample list. Malformed rows are dropped, not fatal. Timestamps may be
// epoch milliseconds or RFC3339; a missing, duplicate, or backward timestamp is
// replaced with the previous timestamp plus a fixed step so every sample keeps a
// unique ordered position.
func ParseCSV(r io.Reader) ([]models.Sample, Report, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var (
		samples []models.Sample
		report  Report
		last    time.Time
		header  = true
	)

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A structurally broken line still counts as a row.
			report.TotalRows++
			continue
		}
		if header {
			header = false
			continue
		}
		report.TotalRows++

		if len(record) < 2 {
			continue
		}
		value, err := strconv.ParseFloat(record[1], 64)
		if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
			continue
		}

		ts, ok := parseTimestamp(record[0])
		if !ok {
			// A missing timestamp steps from the previous row; with no prior
			// row there is nothing to step from.
			if last.IsZero() {
				continue
			}
			ts = last.Add(fallbackStep)
		}
		// Duplicate or backward timestamps get a synthetic position so the
		// series stays strictly increasing.
		if !last.IsZero() && !ts.After(last) {
			ts = last.Add(fallbackStep)
		}

		samples = append(samples, models.Sample{Timestamp: ts, Value: value})
		last = ts
		report.ValidRows++
	}

	if len(samples) == 0 {
		return nil, report, ErrEmptyInput
	}
	return samples, report, nil
}

func parseTimestamp(field string) (time.Time, bool) {
	if ms, err := strconv.ParseInt(field, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), true
	}
	if ts, err := time.Parse(time.RFC3339, field); err == nil {
		return ts.UTC(), true
	}
	return time.Time{}, false
}
