package rtstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Frame is the wire format between a RemoteStore and the relay. One frame
// per WebSocket message, JSON-encoded.
type Frame struct {
	Op     string                     `json:"op"` // read|write|merge|delete|subscribe|unsubscribe|result|update
	ID     int64                      `json:"id,omitempty"`
	Path   string                     `json:"path,omitempty"`
	Value  json.RawMessage            `json:"value,omitempty"`
	Fields map[string]json.RawMessage `json:"fields,omitempty"`
	Error  string                     `json:"error,omitempty"`
}

// RemoteStore speaks the relay's WebSocket protocol so clients in separate
// processes share one tree. All mutations are request/response; updates are
// pushed unsolicited and fanned out to local subscribers.
type RemoteStore struct {
	conn *websocket.Conn

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan Frame
	subs    map[int64]*subscriber
	closed  bool
	writeMu sync.Mutex
}

// DialRemote connects to the relay's /ws endpoint. The bearer token carries
// the caller's role and participant identity; the relay enforces field
// ownership on every mutating frame.
func DialRemote(ctx context.Context, url, token string) (*RemoteStore, error) {
	hdr := http.Header{}
	if token != "" {
		hdr.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, hdr)
	if err != nil {
		return nil, err
	}
	r := &RemoteStore{
		conn:    conn,
		pending: map[int64]chan Frame{},
		subs:    map[int64]*subscriber{},
	}
	go r.readLoop()
	return r, nil
}

func (r *RemoteStore) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return r.conn.Close()
}

func (r *RemoteStore) readLoop() {
	for {
		var f Frame
		if err := r.conn.ReadJSON(&f); err != nil {
			r.failPending(err)
			return
		}
		switch f.Op {
		case "result":
			r.mu.Lock()
			ch, ok := r.pending[f.ID]
			delete(r.pending, f.ID)
			r.mu.Unlock()
			if ok {
				ch <- f
			}
		case "update":
			r.mu.Lock()
			var fns []func(Update)
			for _, s := range r.subs {
				if Covers(s.path, f.Path) {
					fns = append(fns, s.fn)
				}
			}
			r.mu.Unlock()
			dispatch(fns, Update{Path: f.Path, Value: f.Value})
		}
	}
}

func (r *RemoteStore) failPending(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ch := range r.pending {
		ch <- Frame{Op: "result", ID: id, Error: err.Error()}
		delete(r.pending, id)
	}
}

func (r *RemoteStore) roundTrip(ctx context.Context, f Frame) (Frame, error) {
	ch := make(chan Frame, 1)
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return Frame{}, errors.New("remote store closed")
	}
	r.nextID++
	f.ID = r.nextID
	r.pending[f.ID] = ch
	r.mu.Unlock()

	r.writeMu.Lock()
	err := r.conn.WriteJSON(f)
	r.writeMu.Unlock()
	if err != nil {
		r.mu.Lock()
		delete(r.pending, f.ID)
		r.mu.Unlock()
		return Frame{}, err
	}
	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case resp := <-ch:
		if resp.Error != "" {
			if resp.Error == ErrNotFound.Error() {
				return resp, ErrNotFound
			}
			return resp, fmt.Errorf("relay: %s", resp.Error)
		}
		return resp, nil
	}
}

func (r *RemoteStore) Read(ctx context.Context, path string) (json.RawMessage, error) {
	resp, err := r.roundTrip(ctx, Frame{Op: "read", Path: path})
	if err != nil {
		return nil, err
	}
	return resp.Value, nil
}

func (r *RemoteStore) Write(ctx context.Context, path string, value interface{}) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = r.roundTrip(ctx, Frame{Op: "write", Path: path, Value: b})
	return err
}

func (r *RemoteStore) MergeWrite(ctx context.Context, path string, fields map[string]interface{}) error {
	enc := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		enc[k] = b
	}
	_, err := r.roundTrip(ctx, Frame{Op: "merge", Path: path, Fields: enc})
	return err
}

func (r *RemoteStore) Delete(ctx context.Context, path string) error {
	_, err := r.roundTrip(ctx, Frame{Op: "delete", Path: path})
	return err
}

func (r *RemoteStore) Subscribe(path string, fn func(Update)) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.subs[id] = &subscriber{path: path, fn: fn}
	r.mu.Unlock()

	r.writeMu.Lock()
	_ = r.conn.WriteJSON(Frame{Op: "subscribe", ID: id, Path: path})
	r.writeMu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
		r.writeMu.Lock()
		_ = r.conn.WriteJSON(Frame{Op: "unsubscribe", ID: id, Path: path})
		r.writeMu.Unlock()
	}
}
