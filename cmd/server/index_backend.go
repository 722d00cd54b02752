package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"defencefield.ai/internal/persistence/indexdb"
	"defencefield.ai/internal/sim/arena/events"
)

type runtimeIndex interface {
	events.Sink
	RunID() string
	Dropped() uint64
	Close() error
}

func openRuntimeIndex(dataDir string, disableDB bool, run indexdb.RunInfo, logger *log.Logger) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("DF_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		dbPath := filepath.Join(dataDir, "index", "field.sqlite")
		idx, err := indexdb.OpenSQLite(dbPath, run)
		if err != nil {
			return nil, err
		}
		logger.Printf("wave index: %s run=%s", dbPath, idx.RunID())
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported DF_INDEX_BACKEND: %s", backend)
	}
}

func envBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
