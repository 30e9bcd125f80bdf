package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"

	"mailtrader/internal/domain"
)

// PriceArchive persists price history to Parquet files on disk, one file per
// calendar month. It backs the history export CLI so the SQLite table can be
// pruned without losing the long-term series.
type PriceArchive struct {
	DataDir string
}

// NewPriceArchive creates a PriceArchive rooted at the given data directory.
func NewPriceArchive(dataDir string) *PriceArchive {
	return &PriceArchive{DataDir: dataDir}
}

// PriceRecord is the Parquet schema for archived price samples.
type PriceRecord struct {
	Timestamp  int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	PricePlain float64 `parquet:"price_no_2fa"`
	PriceTwoFA float64 `parquet:"price_2fa"`
}

// WriteSamples writes price samples to Parquet files grouped by month. Each
// month produces a separate file at:
//
//	<DataDir>/prices/<YYYY-MM>.parquet
//
// Existing records in a file are merged and deduplicated by timestamp, so
// re-exporting an overlapping range is safe.
func (a *PriceArchive) WriteSamples(samples []domain.PriceSample) error {
	if len(samples) == 0 {
		return nil
	}

	groups := make(map[string][]PriceRecord)
	for _, s := range samples {
		month := s.Timestamp.UTC().Format("2006-01")
		groups[month] = append(groups[month], PriceRecord{
			Timestamp:  s.Timestamp.UnixMilli(),
			PricePlain: s.PricePlain,
			PriceTwoFA: s.PriceTwoFA,
		})
	}

	for month, records := range groups {
		path := a.monthPath(month)

		existing, _ := readParquetFile[PriceRecord](path)
		merged := mergePriceRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing price archive for %s: %w", month, err)
		}
	}
	return nil
}

// ReadSamples reads archived samples for the given time range, oldest first.
func (a *PriceArchive) ReadSamples(start, end time.Time) ([]domain.PriceSample, error) {
	var samples []domain.PriceSample
	first := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	for m := first; !m.After(end); m = m.AddDate(0, 1, 0) {
		path := a.monthPath(m.Format("2006-01"))
		records, err := readParquetFile[PriceRecord](path)
		if err != nil {
			// No archive for this month.
			continue
		}
		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if (ts.Equal(start) || ts.After(start)) && (ts.Equal(end) || ts.Before(end)) {
				samples = append(samples, domain.PriceSample{
					Timestamp:  ts,
					PricePlain: r.PricePlain,
					PriceTwoFA: r.PriceTwoFA,
				})
			}
		}
	}
	sort.Slice(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})
	return samples, nil
}

// monthPath returns the filesystem path for one month's archive file.
// Layout: <dataDir>/prices/<YYYY-MM>.parquet
func (a *PriceArchive) monthPath(month string) string {
	return filepath.Join(a.DataDir, "prices", month+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergePriceRecords deduplicates records by timestamp, preferring incoming
// records over existing ones. Results are sorted by timestamp.
func mergePriceRecords(existing, incoming []PriceRecord) []PriceRecord {
	seen := make(map[int64]PriceRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}

	merged := make([]PriceRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
