package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"mockpair/internal/config"
	"mockpair/internal/database"
	"mockpair/internal/export"
	"mockpair/internal/logging"
)

func main() {
	fromFlag := flag.String("from", "", "first day to export, YYYY-MM-DD (default: today)")
	days := flag.Int("days", 7, "number of days to export")
	flag.Parse()

	if err := run(*fromFlag, *days); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run(fromRaw string, days int) error {
	if days <= 0 {
		return fmt.Errorf("days must be positive, got %d", days)
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	base, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}
	logger := logging.Component(base, "export")

	loc, err := cfg.Matching.Location()
	if err != nil {
		return err
	}

	from := time.Now().In(loc)
	if fromRaw != "" {
		from, err = time.ParseInLocation("2006-01-02", fromRaw, loc)
		if err != nil {
			return fmt.Errorf("invalid -from: %w", err)
		}
	}
	from = time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
	to := from.AddDate(0, 0, days)

	db, err := database.NewDB(cfg.Database, logging.Component(base, "database"))
	if err != nil {
		return err
	}
	defer db.Close()

	path, err := export.NewExporter(db, cfg.Exports.Path, loc, logger).Export(context.Background(), from, to)
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}
