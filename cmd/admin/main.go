package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"

	persistlog "defencefield.ai/internal/persistence/log"
	"defencefield.ai/internal/persistence/snapshot"
	"defencefield.ai/internal/sim/arena/events"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "events":
			eventsCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "routes":
			routesCmd(os.Args[2:])
			return
		case "activate":
			postCmd("activate", os.Args[2:])
			return
		case "reset":
			postCmd("reset", os.Args[2:])
			return
		case "block":
			blockCmd(os.Args[2:])
			return
		case "snapshot":
			postCmd("snapshot", os.Args[2:])
			return
		case "inspect":
			inspectCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	names, err := eventFiles(filepath.Join(*dataDir, "events"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, n := range names {
		fmt.Println(n)
	}
}

func eventFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "events-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, filepath.Join(dir, name))
		}
	}
	sort.Strings(names)
	return names, nil
}

type eventFilter struct {
	kinds map[events.Kind]bool
	epoch uint64
}

func parseKinds(s string) map[events.Kind]bool {
	out := map[events.Kind]bool{}
	for _, k := range strings.Split(s, ",") {
		k = strings.ToUpper(strings.TrimSpace(k))
		if k != "" {
			out[events.Kind(k)] = true
		}
	}
	return out
}

func (f eventFilter) match(ev events.Event) bool {
	if len(f.kinds) > 0 && !f.kinds[ev.Kind] {
		return false
	}
	if f.epoch != 0 && ev.Epoch != f.epoch {
		return false
	}
	return true
}

// eventRow is the flat CSV shape of an event.
type eventRow struct {
	At       string `csv:"at"`
	Kind     string `csv:"kind"`
	Epoch    uint64 `csv:"epoch"`
	Entrance int    `csv:"entrance"`
	Found    bool   `csv:"found"`
	Len      int    `csv:"len"`
	Routes   int    `csv:"routes"`
	Missing  int    `csv:"missing"`
	Seed     int64  `csv:"seed"`
}

func toRow(ev events.Event) eventRow {
	return eventRow{
		At:       ev.At.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Kind:     string(ev.Kind),
		Epoch:    ev.Epoch,
		Entrance: ev.Entrance,
		Found:    ev.Found,
		Len:      ev.Len,
		Routes:   ev.Routes,
		Missing:  ev.Missing,
		Seed:     ev.Seed,
	}
}

func writeEvents(w io.Writer, evs []events.Event, f eventFilter, asCSV bool) error {
	var rows []eventRow
	for _, ev := range evs {
		if !f.match(ev) {
			continue
		}
		if !asCSV {
			if err := encodeJSON(w, ev); err != nil {
				return err
			}
			continue
		}
		rows = append(rows, toRow(ev))
	}
	if asCSV {
		return gocsv.Marshal(rows, w)
	}
	return nil
}

func eventsCmd(args []string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	file := fs.String("file", "", "single event log file (default: every file under <data>/events)")
	kinds := fs.String("kind", "", "comma-separated event kinds to keep")
	epoch := fs.Uint64("epoch", 0, "keep only events of this wave epoch")
	asCSV := fs.Bool("csv", false, "print CSV instead of JSON lines")
	_ = fs.Parse(args)

	paths := []string{strings.TrimSpace(*file)}
	if paths[0] == "" {
		var err error
		paths, err = eventFiles(filepath.Join(*dataDir, "events"))
		if err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(1)
		}
	}

	var all []events.Event
	for _, p := range paths {
		evs, err := persistlog.ReadEvents(p)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read events:", err)
			os.Exit(1)
		}
		all = append(all, evs...)
	}
	if err := writeEvents(os.Stdout, all, eventFilter{kinds: parseKinds(*kinds), epoch: *epoch}, *asCSV); err != nil {
		fmt.Fprintln(os.Stderr, "write:", err)
		os.Exit(1)
	}
}

type snapshotSummary struct {
	Header  snapshot.Header `json:"header"`
	Seed    int64           `json:"seed"`
	Resets  int             `json:"resets"`
	Center  [3]int          `json:"center"`
	Radius  int             `json:"radius"`
	Palette []string        `json:"palette"`
	Digest  string          `json:"digest"`
	Chunks  int             `json:"chunks"`
	Bytes   int             `json:"run_bytes"`
}

func summarize(snap snapshot.TerrainV1) snapshotSummary {
	s := snapshotSummary{
		Header:  snap.Header,
		Seed:    snap.Seed,
		Resets:  snap.Resets,
		Center:  snap.Center,
		Radius:  snap.Radius,
		Palette: snap.Palette,
		Digest:  snap.Digest,
		Chunks:  len(snap.Chunks),
	}
	for _, c := range snap.Chunks {
		s.Bytes += len(c.Runs)
	}
	return s
}

func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	file := fs.String("file", "", "snapshot path (optional; defaults to latest)")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*file)
	if path == "" {
		path = snapshot.Latest(*dataDir)
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "no snapshot found; provide -file or run the server until it writes one")
		os.Exit(2)
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	_ = encodeJSON(os.Stdout, summarize(snap))
}

func parseVec3(s string) ([3]int, error) {
	var v [3]int
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return v, fmt.Errorf("expected x,y,z")
	}
	for i := 0; i < 3; i++ {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			return v, err
		}
		v[i] = n
	}
	return v, nil
}
