package observerproto

// Version is the observer protocol version.
const Version = "1.0"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeRoutes    = "ROUTES"
	TypeEvent     = "EVENT"
)

// Client -> Server. First message on the observer WS connection. Sending it
// again asks for a fresh ROUTES snapshot.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Events opts in to EVENT messages in addition to ROUTES.
	Events bool `json:"events,omitempty"`
}

// HTTP response for GET /admin/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string       `json:"protocol_version"`
	RunID           string       `json:"run_id,omitempty"`
	State           string       `json:"state"`
	Epoch           uint64       `json:"epoch"`
	Field           FieldParams  `json:"field"`
	BlockPalette    []string     `json:"block_palette"`
	Routes          []RouteState `json:"routes"`
}

type FieldParams struct {
	Center    [3]int   `json:"center"`
	Radius    int      `json:"radius"`
	Entrances [][3]int `json:"entrances"`
	Seed      int64    `json:"seed"`
}

// Server -> Client. Full route table, sent on subscribe and whenever an
// entrance resolves.
type RoutesMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	State           string       `json:"state"`
	Epoch           uint64       `json:"epoch"`
	Outstanding     int          `json:"outstanding"`
	Routes          []RouteState `json:"routes"`
}

type RouteState struct {
	Entrance int      `json:"entrance"`
	Epoch    uint64   `json:"epoch"`
	Resolved bool     `json:"resolved"`
	Found    bool     `json:"found"`
	Path     [][3]int `json:"path"`
}

// Server -> Client. One field event.
type EventMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Kind            string `json:"kind"`
	At              string `json:"at"`
	Epoch           uint64 `json:"epoch,omitempty"`
	Entrance        int    `json:"entrance"`
	Seed            int64  `json:"seed,omitempty"`
	Routes          int    `json:"routes,omitempty"`
	Missing         int    `json:"missing,omitempty"`
}
