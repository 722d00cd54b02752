package observer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"defencefield.ai/internal/observerproto"
	"defencefield.ai/internal/sim/arena"
	"defencefield.ai/internal/sim/arena/events"
	"defencefield.ai/internal/sim/arena/geom"
	"defencefield.ai/internal/sim/arena/routes"
)

type fixedState struct{ state arena.State }

func (f fixedState) State() arena.State { return f.state }
func (f fixedState) Seed() int64        { return 42 }

type fixture struct {
	srv   *httptest.Server
	coord *routes.Coordinator
	obs   *Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	g, err := geom.New(geom.Vec3i{}, 5, []geom.Vec3i{{X: 5}, {X: -5}})
	if err != nil {
		t.Fatalf("geometry: %v", err)
	}
	bus := events.NewBus()
	silent := routes.PathfinderFunc(func(context.Context, geom.Vec3i, geom.Vec3i) <-chan routes.Route {
		return make(chan routes.Route)
	})
	coord := routes.NewCoordinator(g, silent, routes.Options{Sink: bus})
	t.Cleanup(coord.Close)

	obs := NewServer(Config{
		Geometry: g,
		Palette:  []string{"AIR", "SHRINE", "FIELD_STONE"},
		RunID:    "run-test",
		Routes:   coord,
		Field:    fixedState{state: arena.StateActive},
		Bus:      bus,
	})
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/v1/observer/bootstrap", obs.BootstrapHandler())
	mux.HandleFunc("/admin/v1/observer/ws", obs.WSHandler())
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, coord: coord, obs: obs}
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/admin/v1/observer/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

type envelope struct {
	Type string `json:"type"`
}

func readMsg(t *testing.T, conn *websocket.Conn) (string, []byte) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
	return env.Type, b
}

func subscribe(t *testing.T, conn *websocket.Conn, withEvents bool) {
	t.Helper()
	err := conn.WriteJSON(observerproto.SubscribeMsg{
		Type:            observerproto.TypeSubscribe,
		ProtocolVersion: observerproto.Version,
		Events:          withEvents,
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
}

func TestBootstrap(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/admin/v1/observer/bootstrap")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	var boot observerproto.BootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&boot); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if boot.RunID != "run-test" || boot.State != "ACTIVE" || boot.Field.Radius != 5 || boot.Field.Seed != 42 {
		t.Fatalf("bootstrap: %+v", boot)
	}
	if len(boot.Field.Entrances) != 2 || len(boot.Routes) != 2 {
		t.Fatalf("entrances=%d routes=%d", len(boot.Field.Entrances), len(boot.Routes))
	}

	post, err := http.Post(f.srv.URL+"/admin/v1/observer/bootstrap", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("POST status: %d", post.StatusCode)
	}
}

func TestWS_PushesRoutesAndEvents(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)
	subscribe(t, conn, true)

	typ, b := readMsg(t, conn)
	if typ != observerproto.TypeRoutes {
		t.Fatalf("first message: %s", b)
	}
	var snap observerproto.RoutesMsg
	_ = json.Unmarshal(b, &snap)
	if snap.Epoch != 0 || len(snap.Routes) != 2 || snap.Routes[0].Resolved {
		t.Fatalf("initial snapshot: %+v", snap)
	}

	h := f.coord.StartWave(nil)
	f.coord.Complete(h.Epoch(), 0, routes.Route{{X: 5}, {X: 4}, {}})

	var sawStarted bool
	for {
		typ, b := readMsg(t, conn)
		if typ == observerproto.TypeEvent {
			var ev observerproto.EventMsg
			_ = json.Unmarshal(b, &ev)
			if ev.Kind == string(events.WaveStarted) {
				sawStarted = true
			}
			continue
		}
		if typ != observerproto.TypeRoutes {
			t.Fatalf("unexpected message: %s", b)
		}
		var msg observerproto.RoutesMsg
		_ = json.Unmarshal(b, &msg)
		if !msg.Routes[0].Found {
			continue
		}
		if msg.Epoch != h.Epoch() || msg.Outstanding != 1 || len(msg.Routes[0].Path) != 3 {
			t.Fatalf("routes push: %+v", msg)
		}
		if msg.Routes[0].Path[1] != [3]int{4, 0, 0} {
			t.Fatalf("path: %v", msg.Routes[0].Path)
		}
		break
	}
	if !sawStarted {
		t.Fatalf("WAVE_STARTED event not forwarded")
	}
}

func TestWS_ResubscribeSendsSnapshot(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)
	subscribe(t, conn, false)
	if typ, b := readMsg(t, conn); typ != observerproto.TypeRoutes {
		t.Fatalf("first message: %s", b)
	}
	subscribe(t, conn, false)
	if typ, b := readMsg(t, conn); typ != observerproto.TypeRoutes {
		t.Fatalf("resubscribe reply: %s", b)
	}
}

func TestWS_RejectsBadHandshake(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)
	if err := conn.WriteJSON(map[string]string{"type": "HELLO", "protocol_version": observerproto.Version}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:1234": true,
		"[::1]:80":       true,
		"10.0.0.2:5555":  false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("%s: got %v want %v", addr, got, want)
		}
	}
}
