package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"stockfeed/internal/config"
	"stockfeed/internal/directory"
	"stockfeed/internal/logging"
)

const batchSize = 500

// One-time import job that populates the instrument directory from a CSV
// listing. Rows whose (code, market) already exists are skipped, so re-runs
// are safe.
func main() {
	var csvPath string
	var aliasPath string
	var mkt string
	var source string
	var dbPath string
	var configPath string

	flag.StringVar(&csvPath, "csv", "", "instrument CSV: code,name[,full_code]")
	flag.StringVar(&aliasPath, "aliases", "", "optional alias CSV: alias,name")
	flag.StringVar(&mkt, "market", "HK", "market tag for every imported row")
	flag.StringVar(&source, "source", "csv", "data source tag")
	flag.StringVar(&dbPath, "db", "", "directory database path (overrides config)")
	flag.StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "path to config.json (optional)")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := logging.Setup(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	log := logging.Component("mappingload")

	if csvPath == "" && aliasPath == "" {
		log.Fatal("nothing to do: pass -csv and/or -aliases")
	}
	if dbPath == "" {
		dbPath = cfg.Directory.Path
	}
	store, err := directory.Open(dbPath)
	if err != nil {
		log.Fatalf("directory: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if csvPath != "" {
		total, inserted, err := loadInstruments(ctx, store, csvPath, mkt, source)
		if err != nil {
			log.Fatalf("instruments: %v", err)
		}
		log.WithFields(map[string]any{"rows": total, "inserted": inserted, "skipped": total - inserted}).Info("instruments loaded")
	}
	if aliasPath != "" {
		n, err := loadAliases(ctx, store, aliasPath)
		if err != nil {
			log.Fatalf("aliases: %v", err)
		}
		log.WithField("rows", n).Info("aliases loaded")
	}
}

func loadInstruments(ctx context.Context, store *directory.Store, path, mkt, source string) (total, inserted int, err error) {
	rows, err := readCSV(path)
	if err != nil {
		return 0, 0, err
	}
	batch := make([]directory.Instrument, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := store.UpsertInstruments(ctx, batch)
		inserted += n
		batch = batch[:0]
		return err
	}
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		code := strings.TrimSpace(row[0])
		name := strings.TrimSpace(row[1])
		if code == "" || name == "" || strings.EqualFold(code, "code") {
			continue
		}
		in := directory.Instrument{Code: code, Name: name, Market: mkt, Source: source}
		if len(row) > 2 {
			in.FullCode = strings.TrimSpace(row[2])
		}
		batch = append(batch, in)
		total++
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return total, inserted, err
			}
		}
	}
	return total, inserted, flush()
}

func loadAliases(ctx context.Context, store *directory.Store, path string) (int, error) {
	rows, err := readCSV(path)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		alias := strings.TrimSpace(row[0])
		name := strings.TrimSpace(row[1])
		if alias == "" || name == "" || strings.EqualFold(alias, "alias") {
			continue
		}
		if err := store.AddAlias(ctx, alias, name); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	var out [][]string
	for {
		row, err := r.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
}
