package rtstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"
)

// SQLStore persists the tree in a nodes table so a relay restart does not
// drop live sessions. Subscriptions are served from an in-process hub:
// every mutation routed through this store instance is pushed to local
// subscribers after the row lands.
type SQLStore struct {
	db     *sql.DB
	events *EventLog

	// mergeMu serializes merge read-modify-writes so concurrent merges to
	// one path cannot erase each other's fields.
	mergeMu sync.Mutex

	mu   sync.RWMutex
	subs map[int]*subscriber
	next int
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{
		db:     db,
		events: NewEventLog(db),
		subs:   map[int]*subscriber{},
	}
}

// Events exposes the audit log repo for the relay's admin surface.
func (s *SQLStore) Events() *EventLog { return s.events }

func (s *SQLStore) Read(ctx context.Context, path string) (json.RawMessage, error) {
	path, err := CleanPath(path)
	if err != nil {
		return nil, err
	}
	var raw string
	err = s.db.QueryRowContext(ctx, `SELECT value FROM nodes WHERE path=$1`, path).Scan(&raw)
	if err == nil {
		return json.RawMessage(raw), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, value FROM nodes WHERE path LIKE $1`, path+"/%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	docs := map[string]json.RawMessage{}
	for rows.Next() {
		var p, v string
		if err := rows.Scan(&p, &v); err != nil {
			return nil, err
		}
		docs[strings.TrimPrefix(p, path+"/")] = json.RawMessage(v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return assemble(docs), nil
}

func (s *SQLStore) Write(ctx context.Context, path string, value interface{}) error {
	path, err := CleanPath(path)
	if err != nil {
		return err
	}
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO nodes (path, value, updated_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (path) DO UPDATE SET value=EXCLUDED.value, updated_at=EXCLUDED.updated_at`,
		path, string(b), time.Now().Unix())
	if err != nil {
		return err
	}
	_ = s.events.Append(ctx, Event{Type: "write", Path: path, DataJSON: string(b)})
	s.notify(Update{Path: path, Value: b})
	return nil
}

func (s *SQLStore) MergeWrite(ctx context.Context, path string, fields map[string]interface{}) error {
	path, err := CleanPath(path)
	if err != nil {
		return err
	}
	b, err := s.mergeLocked(ctx, path, fields)
	if err != nil {
		return err
	}
	_ = s.events.Append(ctx, Event{Type: "merge", Path: path, DataJSON: string(b)})
	s.notify(Update{Path: path, Value: b})
	return nil
}

// mergeLocked performs the read-modify-write under mergeMu. The lock is
// released before subscribers are notified so handlers may call back into
// the store.
func (s *SQLStore) mergeLocked(ctx context.Context, path string, fields map[string]interface{}) ([]byte, error) {
	s.mergeMu.Lock()
	defer s.mergeMu.Unlock()
	doc := map[string]json.RawMessage{}
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM nodes WHERE path=$1`, path).Scan(&raw)
	if err == nil {
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	for k, v := range fields {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		doc[k] = b
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO nodes (path, value, updated_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (path) DO UPDATE SET value=EXCLUDED.value, updated_at=EXCLUDED.updated_at`,
		path, string(b), time.Now().Unix())
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *SQLStore) Delete(ctx context.Context, path string) error {
	path, err := CleanPath(path)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM nodes WHERE path=$1 OR path LIKE $2`, path, path+"/%")
	if err != nil {
		return err
	}
	_ = s.events.Append(ctx, Event{Type: "delete", Path: path})
	s.notify(Update{Path: path, Value: nil})
	return nil
}

func (s *SQLStore) Subscribe(path string, fn func(Update)) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = &subscriber{path: path, fn: fn}
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *SQLStore) notify(u Update) {
	s.mu.RLock()
	var fns []func(Update)
	for _, sub := range s.subs {
		if Covers(sub.path, u.Path) {
			fns = append(fns, sub.fn)
		}
	}
	s.mu.RUnlock()
	dispatch(fns, u)
}
