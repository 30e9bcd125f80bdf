// mailtrader-history exports the SQLite price history to the monthly
// Parquet archive.
//
// Usage:
//
//	go run cmd/mailtrader-history/main.go [-since 2026-01-01]
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"mailtrader/internal/config"
	"mailtrader/internal/store"
	"mailtrader/internal/util"
)

func main() {
	var sinceFlag string
	flag.StringVar(&sinceFlag, "since", "", "export samples from this date (YYYY-MM-DD, default: all)")
	flag.Parse()

	cfgPath := "config/mailtrader.yaml"
	if p := os.Getenv("MAILTRADER_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, "text")
	util.SetDefault(logger)

	var since time.Time
	if sinceFlag != "" {
		since, err = time.Parse("2006-01-02", sinceFlag)
		if err != nil {
			log.Fatalf("invalid -since value %q: %v", sinceFlag, err)
		}
	}

	st, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	samples, err := st.ListPriceSamples(context.Background(), since, 0)
	if err != nil {
		log.Fatalf("failed to read price history: %v", err)
	}
	if len(samples) == 0 {
		logger.Info("no price samples to export")
		return
	}

	archive := store.NewPriceArchive(cfg.Storage.ArchiveDir)
	if err := archive.WriteSamples(samples); err != nil {
		log.Fatalf("failed to write archive: %v", err)
	}
	logger.Info("price history archived",
		"samples", len(samples), "dir", cfg.Storage.ArchiveDir)
}
