package observer

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"defencefield.ai/internal/observerproto"
	"defencefield.ai/internal/sim/arena"
	"defencefield.ai/internal/sim/arena/events"
	"defencefield.ai/internal/sim/arena/geom"
	"defencefield.ai/internal/sim/arena/routes"
)

// RouteSource is the read side of the route coordinator.
type RouteSource interface {
	Table() *routes.Table
	Epoch() uint64
	Outstanding() int
}

type StateSource interface {
	State() arena.State
	Seed() int64
}

type Config struct {
	Geometry geom.Geometry
	Palette  []string
	RunID    string
	Routes   RouteSource
	Field    StateSource
	Bus      *events.Bus
	Log      *log.Logger
}

type Server struct {
	cfg Config

	upgrader websocket.Upgrader
	sessions atomic.Int64
}

func NewServer(cfg Config) *Server {
	return &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Sessions is the number of connected observers.
func (s *Server) Sessions() int64 { return s.sessions.Load() }

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		g := s.cfg.Geometry
		entrances := make([][3]int, 0, g.NumEntrances())
		for _, e := range g.Entrances() {
			entrances = append(entrances, e.Array())
		}
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			RunID:           s.cfg.RunID,
			State:           s.cfg.Field.State().String(),
			Epoch:           s.cfg.Routes.Epoch(),
			Field: observerproto.FieldParams{
				Center:    g.Center().Array(),
				Radius:    g.Radius(),
				Entrances: entrances,
				Seed:      s.cfg.Field.Seed(),
			},
			BlockPalette: s.cfg.Palette,
			Routes:       RouteStates(s.cfg.Routes.Table().Entries()),
		}

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		sub, ok, err := readSubscribe(conn)
		if err != nil {
			return
		}
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		n := s.sessions.Add(1)
		s.logf("observer connected remote=%s sessions=%d", r.RemoteAddr, n)
		defer func() {
			n := s.sessions.Add(-1)
			s.logf("observer disconnected remote=%s sessions=%d", r.RemoteAddr, n)
		}()

		feed, unsubscribe := s.cfg.Bus.Subscribe(256)
		defer unsubscribe()

		var wantEvents atomic.Bool
		wantEvents.Store(sub.Events)
		resync := make(chan struct{}, 1)
		done := make(chan struct{})

		// Writer goroutine: the only one writing to conn.
		writeErr := make(chan error, 1)
		go func() {
			if err := s.writeJSON(conn, s.routesMsg()); err != nil {
				writeErr <- err
				return
			}
			for {
				var msg any
				select {
				case <-done:
					writeErr <- nil
					return
				case <-resync:
					msg = s.routesMsg()
				case ev, ok := <-feed:
					if !ok {
						writeErr <- nil
						return
					}
					if err := s.forward(conn, ev, wantEvents.Load()); err != nil {
						writeErr <- err
						return
					}
					continue
				}
				if err := s.writeJSON(conn, msg); err != nil {
					writeErr <- err
					return
				}
			}
		}()

		// Reader loop: a repeated SUBSCRIBE requests a snapshot.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			sub, ok, err := readSubscribe(conn)
			if err != nil {
				break
			}
			if !ok {
				continue
			}
			wantEvents.Store(sub.Events)
			select {
			case resync <- struct{}{}:
			default:
			}
		}

		close(done)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// readSubscribe reads one client message. ok is false when the message is
// not a SUBSCRIBE for this protocol version.
func readSubscribe(conn *websocket.Conn) (sub observerproto.SubscribeMsg, ok bool, err error) {
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return sub, false, err
	}
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, false, nil
	}
	ok = sub.Type == observerproto.TypeSubscribe && sub.ProtocolVersion == observerproto.Version
	return sub, ok, nil
}

func (s *Server) forward(conn *websocket.Conn, ev events.Event, wantEvents bool) error {
	if wantEvents {
		if err := s.writeJSON(conn, EventMsg(ev)); err != nil {
			return err
		}
	}
	switch ev.Kind {
	case events.RouteUpdated, events.WaveCompleted, events.ActivationComplete:
		return s.writeJSON(conn, s.routesMsg())
	}
	return nil
}

func (s *Server) writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (s *Server) routesMsg() observerproto.RoutesMsg {
	return observerproto.RoutesMsg{
		Type:            observerproto.TypeRoutes,
		ProtocolVersion: observerproto.Version,
		State:           s.cfg.Field.State().String(),
		Epoch:           s.cfg.Routes.Epoch(),
		Outstanding:     s.cfg.Routes.Outstanding(),
		Routes:          RouteStates(s.cfg.Routes.Table().Entries()),
	}
}

func RouteStates(entries []routes.Entry) []observerproto.RouteState {
	out := make([]observerproto.RouteState, len(entries))
	for i, e := range entries {
		rs := observerproto.RouteState{
			Entrance: i,
			Epoch:    e.Epoch,
			Resolved: e.Resolved,
			Found:    e.Route.Exists(),
		}
		if e.Route.Exists() {
			rs.Path = make([][3]int, len(e.Route))
			for j, p := range e.Route {
				rs.Path[j] = p.Array()
			}
		}
		out[i] = rs
	}
	return out
}

func EventMsg(ev events.Event) observerproto.EventMsg {
	return observerproto.EventMsg{
		Type:            observerproto.TypeEvent,
		ProtocolVersion: observerproto.Version,
		Kind:            string(ev.Kind),
		At:              ev.At.UTC().Format(time.RFC3339Nano),
		Epoch:           ev.Epoch,
		Entrance:        ev.Entrance,
		Seed:            ev.Seed,
		Routes:          ev.Routes,
		Missing:         ev.Missing,
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.cfg.Log != nil {
		s.cfg.Log.Printf(format, args...)
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
