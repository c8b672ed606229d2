package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/classpulse/classpulse/internal/auth"
	"github.com/classpulse/classpulse/internal/live"
	"github.com/classpulse/classpulse/internal/rtstore"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browsers enforce the CORS allowlist on the REST surface; the socket
	// itself is gated by the bearer token.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn is one client's connection to the relay: a frame loop over the
// store plus the connection's active subscriptions.
type wsConn struct {
	conn   *websocket.Conn
	store  rtstore.Store
	own    live.Ownership
	role   live.Role
	selfID string

	writeMu sync.Mutex

	mu     sync.Mutex
	unsubs map[int64]func()
	closed bool
}

// SyncHandler upgrades to the tree protocol. The token's role claim drives
// the ownership table; the participant id is client-declared via query
// parameter (defaulting to the token subject), since student identities are
// minted client-side. Role partitioning is the enforced boundary, the
// self-id scoping on top of it keeps honest clients honest.
func SyncHandler(a *auth.AuthService, store rtstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.Parse(auth.TokenFromRequest(r))
		if err != nil {
			http.Error(w, "bad token", http.StatusUnauthorized)
			return
		}
		role := live.RoleStudent
		if claims.Role == auth.RoleTeacher {
			role = live.RoleTeacher
		}
		selfID := r.URL.Query().Get("participant_id")
		if selfID == "" {
			selfID = claims.Sub
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := &wsConn{
			conn:   conn,
			store:  store,
			role:   role,
			selfID: selfID,
			unsubs: map[int64]func(){},
		}
		c.serve(r.Context())
	}
}

func (c *wsConn) serve(ctx context.Context) {
	defer c.teardown()
	for {
		var f rtstore.Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			return
		}
		switch f.Op {
		case "read":
			v, err := c.store.Read(ctx, f.Path)
			c.result(f.ID, v, err)
		case "write":
			err := c.own.Check(c.role, c.selfID, f.Path, live.OpWrite, nil)
			if err == nil {
				err = c.store.Write(ctx, f.Path, f.Value)
			}
			c.result(f.ID, nil, err)
		case "merge":
			names := make([]string, 0, len(f.Fields))
			fields := make(map[string]interface{}, len(f.Fields))
			for k, v := range f.Fields {
				names = append(names, k)
				fields[k] = v
			}
			err := c.own.Check(c.role, c.selfID, f.Path, live.OpMerge, names)
			if err == nil {
				err = c.store.MergeWrite(ctx, f.Path, fields)
			}
			c.result(f.ID, nil, err)
		case "delete":
			err := c.own.Check(c.role, c.selfID, f.Path, live.OpDelete, nil)
			if err == nil {
				err = c.store.Delete(ctx, f.Path)
			}
			c.result(f.ID, nil, err)
		case "subscribe":
			c.subscribe(f.ID, f.Path)
		case "unsubscribe":
			c.unsubscribe(f.ID)
		default:
			c.result(f.ID, nil, rtstore.ErrInvalidPath)
		}
	}
}

func (c *wsConn) subscribe(id int64, path string) {
	unsub := c.store.Subscribe(path, func(u rtstore.Update) {
		c.send(rtstore.Frame{Op: "update", Path: u.Path, Value: u.Value})
	})
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		unsub()
		return
	}
	if old, ok := c.unsubs[id]; ok {
		old()
	}
	c.unsubs[id] = unsub
	c.mu.Unlock()
}

func (c *wsConn) unsubscribe(id int64) {
	c.mu.Lock()
	unsub, ok := c.unsubs[id]
	delete(c.unsubs, id)
	c.mu.Unlock()
	if ok {
		unsub()
	}
}

func (c *wsConn) result(id int64, value json.RawMessage, err error) {
	f := rtstore.Frame{Op: "result", ID: id, Value: value}
	if err != nil {
		f.Error = err.Error()
	}
	c.send(f)
}

func (c *wsConn) send(f rtstore.Frame) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(f); err != nil {
		log.Printf("ws send %s: %v", f.Op, err)
	}
}

func (c *wsConn) teardown() {
	c.mu.Lock()
	unsubs := c.unsubs
	c.unsubs = nil
	c.closed = true
	c.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
	_ = c.conn.Close()
}
