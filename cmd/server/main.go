package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"defencefield.ai/internal/persistence/indexdb"
	persistlog "defencefield.ai/internal/persistence/log"
	"defencefield.ai/internal/persistence/snapshot"
	"defencefield.ai/internal/sim/arena/events"
	"defencefield.ai/internal/sim/tuning"
	"defencefield.ai/internal/transport/observer"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configPath = flag.String("config", "./configs/arena.yaml", "path to arena.yaml (empty for built-in defaults)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		seed       = flag.Int64("seed", 0, "terrain base seed (0 keeps the configured seed)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite wave index")
		debug      = flag.Bool("debug", false, "log every pathfinder completion")
		activate   = flag.Bool("activate", false, "activate the field on startup")

		snapPath   = flag.String("snapshot", "", "terrain snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest terrain snapshot from data dir if present (when -snapshot is empty)")
		snapOnExit = flag.Bool("snapshot_on_exit", true, "write a terrain snapshot on shutdown")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(strings.TrimSpace(*configPath))
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if *seed != 0 {
		tune.Noise.Seed = *seed
	}

	runID := uuid.NewString()
	idx, err := openRuntimeIndex(*dataDir, *disableDB, indexdb.RunInfo{
		RunID:         runID,
		Seed:          tune.Noise.Seed,
		Radius:        tune.Field.Radius,
		Entrances:     len(tune.Field.Entrances),
		PaletteDigest: tune.PaletteDigest(),
	}, logger)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}

	eventLog := persistlog.NewEventLogger(*dataDir, logger)
	sinks := events.Multi{eventLog}
	if idx != nil {
		sinks = append(sinks, idx)
	}

	field, err := newFieldRuntime(tune, sinks, *debug, logger)
	if err != nil {
		logger.Fatalf("field: %v", err)
	}
	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = snapshot.Latest(*dataDir)
	}
	if snapshotToLoad != "" {
		snap, err := field.loadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("load snapshot: %v", err)
		}
		logger.Printf("terrain restored from snapshot=%s run=%s epoch=%d chunks=%d",
			filepath.Base(snapshotToLoad), snap.Header.RunID, snap.Header.Epoch, len(snap.Chunks))
	}

	logger.Printf("field run=%s radius=%d entrances=%d noise=%s seed=%d",
		runID, field.geo.Radius(), field.geo.NumEntrances(), tune.Noise.Kind, tune.Noise.Seed)

	// Stop producers before the sinks they write to.
	defer func() {
		if *snapOnExit {
			if path, err := field.saveSnapshot(*dataDir, runID); err != nil {
				logger.Printf("snapshot write: %v", err)
			} else {
				logger.Printf("terrain snapshot written: %s", path)
			}
		}
		field.Close()
		if err := eventLog.Close(); err != nil {
			logger.Printf("close event log: %v", err)
		}
		if idx != nil {
			if err := idx.Close(); err != nil {
				logger.Printf("close index: %v", err)
			}
		}
	}()

	ctx, cancel := signalContext()
	defer cancel()

	obsSrv := observer.NewServer(observer.Config{
		Geometry: field.geo,
		Palette:  tune.Blocks.Palette,
		RunID:    runID,
		Routes:   field.coord,
		Field:    field.life,
		Bus:      field.bus,
		Log:      logger,
	})
	deps := serverDeps{
		field:    field,
		observer: obsSrv,
		runID:    runID,
		dataDir:  *dataDir,
		eventLog: eventLog,
		index:    idx,
	}

	mux := http.NewServeMux()
	registerHealth(mux)
	registerMetrics(mux, deps)

	enableAdminHTTP := envBool("DF_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("DF_ENABLE_PPROF_HTTP", false)
	if enableAdminHTTP {
		registerAdmin(mux, deps)
	} else {
		logger.Printf("admin endpoints disabled (DF_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (DF_ENABLE_PPROF_HTTP=false)")
	}

	if *activate {
		field.life.Activate()
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		timeout := time.Duration(envInt("DF_SHUTDOWN_TIMEOUT_MS", 5000)) * time.Millisecond
		ctx2, cancel2 := context.WithTimeout(context.Background(), timeout)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Printf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
