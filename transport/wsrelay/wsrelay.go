// Package wsrelay is a reference transport.EventStore adapter that gossips
// signed records over a WebSocket connection to a relay. It is a thin
// publish/subscribe framing layer; capability, coordination, and social
// discovery code never import it directly, only the transport interfaces
// it satisfies.
package wsrelay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"agentconnector/record"
	"agentconnector/transport"
)

const writeTimeout = 10 * time.Second

// frame is the wire envelope exchanged with the relay: a client either
// publishes a record or asks for a query to be answered; the relay streams
// back matching records followed by an "eose" frame, and answers a publish
// only with an "error" frame when it fails.
type frame struct {
	Type   string          `json:"type"`
	Record *record.Record  `json:"record,omitempty"`
	Filter *wireFilter     `json:"filter,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type wireFilter struct {
	Kinds      []record.Kind                  `json:"kinds,omitempty"`
	Authors    []string                       `json:"authors,omitempty"`
	TagFilters map[string][]string            `json:"tag_filters,omitempty"`
	Limit      int                            `json:"limit,omitempty"`
}

func toWireFilter(f transport.Filter) *wireFilter {
	wf := &wireFilter{Limit: f.Limit}
	for k := range f.Kinds {
		wf.Kinds = append(wf.Kinds, k)
	}
	for a := range f.Authors {
		wf.Authors = append(wf.Authors, a)
	}
	if len(f.TagFilters) > 0 {
		wf.TagFilters = make(map[string][]string, len(f.TagFilters))
		for name, values := range f.TagFilters {
			for v := range values {
				wf.TagFilters[name] = append(wf.TagFilters[name], v)
			}
		}
	}
	return wf
}

// Relay is a transport.EventStore backed by a single WebSocket connection
// to a relay endpoint. One Relay serves one logical connection; callers
// needing redundancy across relays compose multiple Relay instances
// themselves (the connector core has no notion of relay fan-out).
type Relay struct {
	url  string
	mu   sync.Mutex
	conn *websocket.Conn
}

// Dial connects to the relay at url (ws:// or wss://).
func Dial(ctx context.Context, url string) (*Relay, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, record.Wrap(record.TransportFailure, err, "dial relay")
	}
	return &Relay{url: url, conn: conn}, nil
}

// Close closes the underlying connection.
func (r *Relay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn.Close(websocket.StatusNormalClosure, "closing")
}

// StoreEvent publishes rec to the relay. Satisfies transport.EventStore.
func (r *Relay) StoreEvent(ctx context.Context, rec *record.Record) error {
	f := frame{Type: "publish", Record: rec}
	return r.writeFrame(ctx, f)
}

// QueryEvents asks the relay to answer filter and collects the response
// stream until the relay signals end-of-results or ctx is cancelled.
func (r *Relay) QueryEvents(ctx context.Context, filter transport.Filter) ([]*record.Record, error) {
	req := frame{Type: "query", Filter: toWireFilter(filter)}
	if err := r.writeFrame(ctx, req); err != nil {
		return nil, err
	}

	var out []*record.Record
	for {
		r.mu.Lock()
		_, data, err := r.conn.Read(ctx)
		r.mu.Unlock()
		if err != nil {
			return nil, record.Wrap(record.TransportFailure, err, "read relay response")
		}
		var resp frame
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, record.Wrap(record.TransportFailure, err, "decode relay response")
		}
		switch resp.Type {
		case "event":
			if resp.Record != nil {
				out = append(out, resp.Record)
			}
		case "eose":
			return out, nil
		case "error":
			return nil, record.NewError(record.TransportFailure, resp.Error)
		default:
			return nil, record.NewError(record.TransportFailure, fmt.Sprintf("unexpected relay frame %q", resp.Type))
		}
	}
}

func (r *Relay) writeFrame(ctx context.Context, f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return record.Wrap(record.TransportFailure, err, "encode relay frame")
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return record.Wrap(record.TransportFailure, err, "write relay frame")
	}
	return nil
}

// Server accepts inbound WebSocket gossip connections and fans published
// records out to an in-process backing store. It is the relay-side half of
// this package: agentd can run one to let peers publish/query against it
// directly instead of dialing an external relay.
type Server struct {
	store          transport.EventStore
	allowedOrigins []string
}

// NewServer constructs a relay server backed by store.
func NewServer(store transport.EventStore, allowedOrigins ...string) *Server {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return &Server{store: store, allowedOrigins: allowedOrigins}
}

// ServeHTTP upgrades the connection and serves publish/query frames until
// the client disconnects or the request context is cancelled.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.allowedOrigins})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var req frame
		if err := json.Unmarshal(data, &req); err != nil {
			s.writeError(ctx, conn, "invalid frame")
			continue
		}
		switch req.Type {
		case "publish":
			s.handlePublish(ctx, conn, req)
		case "query":
			s.handleQuery(ctx, conn, req)
		default:
			s.writeError(ctx, conn, "unknown frame type "+strings.TrimSpace(req.Type))
		}
	}
}

func (s *Server) handlePublish(ctx context.Context, conn *websocket.Conn, req frame) {
	if req.Record == nil {
		s.writeError(ctx, conn, "publish frame missing record")
		return
	}
	if err := s.store.StoreEvent(ctx, req.Record); err != nil {
		s.writeError(ctx, conn, err.Error())
	}
}

func (s *Server) handleQuery(ctx context.Context, conn *websocket.Conn, req frame) {
	filter := fromWireFilter(req.Filter)
	records, err := s.store.QueryEvents(ctx, filter)
	if err != nil {
		s.writeError(ctx, conn, err.Error())
		return
	}
	for _, rec := range records {
		s.writeFrame(ctx, conn, frame{Type: "event", Record: rec})
	}
	s.writeFrame(ctx, conn, frame{Type: "eose"})
}

func (s *Server) writeError(ctx context.Context, conn *websocket.Conn, msg string) {
	s.writeFrame(ctx, conn, frame{Type: "error", Error: msg})
}

func (s *Server) writeFrame(ctx context.Context, conn *websocket.Conn, f frame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = conn.Write(writeCtx, websocket.MessageText, data)
}

func fromWireFilter(wf *wireFilter) transport.Filter {
	if wf == nil {
		return transport.Filter{}
	}
	f := transport.NewFilter(wf.Kinds...)
	f = f.WithAuthors(wf.Authors...)
	f = f.WithLimit(wf.Limit)
	for name, values := range wf.TagFilters {
		f = f.WithTag(name, values...)
	}
	return f
}
