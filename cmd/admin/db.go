package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	_ "modernc.org/sqlite"

	"defencefield.ai/internal/persistence/indexdb"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/index/field.sqlite)")
	limit := fs.Int("limit", 20, "result limit")
	asCSV := fs.Bool("csv", false, "print CSV instead of JSON lines")
	_ = fs.Parse(args)

	q := "waves"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "field.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := runQuery(ctx, os.Stdout, db, q, *limit, *asCSV); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if strings.HasPrefix(err.Error(), "unknown query") {
			fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data|-db PATH] [-limit N] [-csv] waves|resets")
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func runQuery(ctx context.Context, w io.Writer, db *sql.DB, q string, limit int, asCSV bool) error {
	switch q {
	case "waves":
		rows, err := indexdb.QueryWaves(ctx, db, limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		if asCSV {
			return gocsv.Marshal(rows, w)
		}
		for _, r := range rows {
			if err := encodeJSON(w, r); err != nil {
				return err
			}
		}
	case "resets":
		rows, err := indexdb.QueryResets(ctx, db, limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		if asCSV {
			return gocsv.Marshal(rows, w)
		}
		for _, r := range rows {
			if err := encodeJSON(w, r); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown query: %s", q)
	}
	return nil
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
