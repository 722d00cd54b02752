package main

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"

	"defencefield.ai/internal/sim/arena/geom"
	"defencefield.ai/internal/sim/arena/routes"
	"defencefield.ai/internal/transport/observer"
)

type serverDeps struct {
	field    *fieldRuntime
	observer *observer.Server
	runID    string
	dataDir  string
	eventLog interface{ Errors() uint64 }
	index    runtimeIndex
}

func registerHealth(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
}

func registerMetrics(mux *http.ServeMux, d serverDeps) {
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		f := d.field
		cs := f.coord.Stats()
		ns := f.nav.Stats()

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP defencefield_state Field lifecycle state (0=inactive,1=activating,2=active).\n")
		fmt.Fprintf(rw, "# TYPE defencefield_state gauge\n")
		fmt.Fprintf(rw, "defencefield_state{run=%q} %d\n", d.runID, int(f.life.State()))

		fmt.Fprintf(rw, "# HELP defencefield_epoch Current route wave epoch.\n")
		fmt.Fprintf(rw, "# TYPE defencefield_epoch gauge\n")
		fmt.Fprintf(rw, "defencefield_epoch{run=%q} %d\n", d.runID, f.coord.Epoch())

		fmt.Fprintf(rw, "# HELP defencefield_outstanding Pathfinder requests awaiting an answer in the current wave.\n")
		fmt.Fprintf(rw, "# TYPE defencefield_outstanding gauge\n")
		fmt.Fprintf(rw, "defencefield_outstanding{run=%q} %d\n", d.runID, f.coord.Outstanding())

		fmt.Fprintf(rw, "# HELP defencefield_resets_total Completed field resets.\n")
		fmt.Fprintf(rw, "# TYPE defencefield_resets_total counter\n")
		fmt.Fprintf(rw, "defencefield_resets_total{run=%q} %d\n", d.runID, f.life.Resets())

		fmt.Fprintf(rw, "# HELP defencefield_waves_total Route waves by outcome.\n")
		fmt.Fprintf(rw, "# TYPE defencefield_waves_total counter\n")
		fmt.Fprintf(rw, "defencefield_waves_total{run=%q,outcome=%q} %d\n", d.runID, "started", cs.Waves)
		fmt.Fprintf(rw, "defencefield_waves_total{run=%q,outcome=%q} %d\n", d.runID, "completed", cs.Completed)
		fmt.Fprintf(rw, "defencefield_waves_total{run=%q,outcome=%q} %d\n", d.runID, "superseded", cs.Superseded)

		fmt.Fprintf(rw, "# HELP defencefield_completions_total Pathfinder completions by disposition.\n")
		fmt.Fprintf(rw, "# TYPE defencefield_completions_total counter\n")
		fmt.Fprintf(rw, "defencefield_completions_total{run=%q,kind=%q} %d\n", d.runID, "found", cs.Found)
		fmt.Fprintf(rw, "defencefield_completions_total{run=%q,kind=%q} %d\n", d.runID, "absent", cs.Absent)
		fmt.Fprintf(rw, "defencefield_completions_total{run=%q,kind=%q} %d\n", d.runID, "stale", cs.Stale)
		fmt.Fprintf(rw, "defencefield_completions_total{run=%q,kind=%q} %d\n", d.runID, "duplicate", cs.Duplicates)
		fmt.Fprintf(rw, "defencefield_completions_total{run=%q,kind=%q} %d\n", d.runID, "timed_out", cs.TimedOut)

		fmt.Fprintf(rw, "# HELP defencefield_pathfinder_total Pathfinder worker results.\n")
		fmt.Fprintf(rw, "# TYPE defencefield_pathfinder_total counter\n")
		fmt.Fprintf(rw, "defencefield_pathfinder_total{run=%q,result=%q} %d\n", d.runID, "requests", ns.Requests)
		fmt.Fprintf(rw, "defencefield_pathfinder_total{run=%q,result=%q} %d\n", d.runID, "found", ns.Found)
		fmt.Fprintf(rw, "defencefield_pathfinder_total{run=%q,result=%q} %d\n", d.runID, "no_route", ns.NoRoute)
		fmt.Fprintf(rw, "defencefield_pathfinder_total{run=%q,result=%q} %d\n", d.runID, "dropped", ns.Dropped)

		fmt.Fprintf(rw, "# HELP defencefield_loaded_chunks Allocated terrain chunks.\n")
		fmt.Fprintf(rw, "# TYPE defencefield_loaded_chunks gauge\n")
		fmt.Fprintf(rw, "defencefield_loaded_chunks{run=%q} %d\n", d.runID, len(f.store.LoadedChunkKeys()))

		fmt.Fprintf(rw, "# HELP defencefield_event_dropped_total Events dropped by slow consumers.\n")
		fmt.Fprintf(rw, "# TYPE defencefield_event_dropped_total counter\n")
		fmt.Fprintf(rw, "defencefield_event_dropped_total{run=%q,sink=%q} %d\n", d.runID, "bus", f.bus.Dropped())
		if d.index != nil {
			fmt.Fprintf(rw, "defencefield_event_dropped_total{run=%q,sink=%q} %d\n", d.runID, "index", d.index.Dropped())
		}
		if d.eventLog != nil {
			fmt.Fprintf(rw, "# HELP defencefield_event_log_errors_total Event log write failures.\n")
			fmt.Fprintf(rw, "# TYPE defencefield_event_log_errors_total counter\n")
			fmt.Fprintf(rw, "defencefield_event_log_errors_total{run=%q} %d\n", d.runID, d.eventLog.Errors())
		}

		if d.observer != nil {
			fmt.Fprintf(rw, "# HELP defencefield_observers Connected observer sessions.\n")
			fmt.Fprintf(rw, "# TYPE defencefield_observers gauge\n")
			fmt.Fprintf(rw, "defencefield_observers{run=%q} %d\n", d.runID, d.observer.Sessions())
		}
	})
}

type stateResponse struct {
	RunID       string          `json:"run_id"`
	State       string          `json:"state"`
	Seed        int64           `json:"seed"`
	Resets      int             `json:"resets"`
	Epoch       uint64          `json:"epoch"`
	Outstanding int             `json:"outstanding"`
	Waves       routes.Stats    `json:"waves"`
	Routes      []routes.Entry  `json:"routes,omitempty"`
	Terrain     terrainResponse `json:"terrain"`
}

type terrainResponse struct {
	LoadedChunks int    `json:"loaded_chunks"`
	Writes       uint64 `json:"writes"`
	Digest       string `json:"digest"`
}

type blockRequest struct {
	Pos   [3]int `json:"pos"`
	Block string `json:"block"`
}

// registerAdmin adds the local-only control endpoints.
func registerAdmin(mux *http.ServeMux, d serverDeps) {
	f := d.field

	mux.HandleFunc("/admin/v1/state", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, http.StatusOK, d.state(false))
	}))
	mux.HandleFunc("/admin/v1/routes", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, http.StatusOK, d.state(true))
	}))

	mux.HandleFunc("/admin/v1/activate", postOnly(loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
		ok := f.life.Activate()
		writeTransition(rw, ok, d.state(false))
	})))
	mux.HandleFunc("/admin/v1/reset", postOnly(loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
		ok := f.life.Reset()
		writeTransition(rw, ok, d.state(false))
	})))

	mux.HandleFunc("/admin/v1/blocks", postOnly(loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
		var req blockRequest
		if err := json.NewDecoder(http.MaxBytesReader(rw, r.Body, 1<<16)).Decode(&req); err != nil {
			writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": "bad json: " + err.Error()})
			return
		}
		pos := geom.Vec3i{X: req.Pos[0], Y: req.Pos[1], Z: req.Pos[2]}
		changed, err := f.setBlock(pos, req.Block)
		if err != nil {
			writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		restarted := false
		if changed {
			restarted = f.life.TerrainChanged()
		}
		writeJSON(rw, http.StatusOK, map[string]any{
			"ok":        true,
			"changed":   changed,
			"restarted": restarted,
			"epoch":     f.coord.Epoch(),
		})
	})))

	mux.HandleFunc("/admin/v1/snapshot", postOnly(loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
		path, err := f.saveSnapshot(d.dataDir, d.runID)
		if err != nil {
			writeJSON(rw, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "path": path, "epoch": f.coord.Epoch()})
	})))

	if d.observer != nil {
		mux.HandleFunc("/admin/v1/observer/bootstrap", d.observer.BootstrapHandler())
		mux.HandleFunc("/admin/v1/observer/ws", d.observer.WSHandler())
	}
}

func (d serverDeps) state(withRoutes bool) stateResponse {
	f := d.field
	resp := stateResponse{
		RunID:       d.runID,
		State:       f.life.State().String(),
		Seed:        f.life.Seed(),
		Resets:      f.life.Resets(),
		Epoch:       f.coord.Epoch(),
		Outstanding: f.coord.Outstanding(),
		Waves:       f.coord.Stats(),
		Terrain: terrainResponse{
			LoadedChunks: len(f.store.LoadedChunkKeys()),
			Writes:       f.store.Writes(),
			Digest:       f.store.Digest(),
		},
	}
	if withRoutes {
		resp.Routes = f.coord.Table().Entries()
	}
	return resp
}

func writeTransition(rw http.ResponseWriter, ok bool, st stateResponse) {
	if !ok {
		writeJSON(rw, http.StatusConflict, map[string]any{"ok": false, "error": "not allowed in state " + st.State, "state": st})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "state": st})
}

func writeJSON(rw http.ResponseWriter, code int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	_ = json.NewEncoder(rw).Encode(v)
}

func postOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h(rw, r)
	}
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
