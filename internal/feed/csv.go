package feed

import (
	"encoding/csv"
	"errors"
	"fmt"
	"index-options-callbot/internal/models"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// ReadSeriesCSV parses rows of timestamp,price[,volume]. A header row is
// skipped. Timestamps are RFC3339, "2006-01-02 15:04:05" in loc, or unix
// seconds/milliseconds. Rows with a non-positive price are dropped.
func ReadSeriesCSV(r io.Reader, loc *time.Location) ([]models.PriceSample, error) {
	if loc == nil {
		loc = time.UTC
	}
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var out []models.PriceSample
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		if len(record) < 2 {
			return nil, fmt.Errorf("csv line %d: expected at least 2 columns, got %d", line, len(record))
		}
		if line == 1 && isHeader(record) {
			continue
		}

		ts, err := parseTimestamp(strings.TrimSpace(record[0]), loc)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: invalid price %q: %w", line, record[1], err)
		}
		sample := models.PriceSample{Timestamp: ts, Price: price}
		if len(record) > 2 && strings.TrimSpace(record[2]) != "" {
			if sample.Volume, err = strconv.ParseFloat(strings.TrimSpace(record[2]), 64); err != nil {
				return nil, fmt.Errorf("csv line %d: invalid volume %q: %w", line, record[2], err)
			}
		}
		if !sample.Valid() {
			continue
		}
		out = append(out, sample)
	}
	return out, nil
}

// ReadSeriesFile opens path and parses it with ReadSeriesCSV.
func ReadSeriesFile(path string, loc *time.Location) ([]models.PriceSample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open price series: %w", err)
	}
	defer f.Close()
	return ReadSeriesCSV(f, loc)
}

func isHeader(record []string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
	return err != nil
}

func parseTimestamp(v string, loc *time.Location) (time.Time, error) {
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		// 毫秒时间戳
		if n > 1e12 {
			return time.UnixMilli(n).In(loc), nil
		}
		return time.Unix(n, 0).In(loc), nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02 15:04:05", v, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", v)
	}
	return t, nil
}
