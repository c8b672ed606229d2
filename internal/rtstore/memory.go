package rtstore

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
)

// MemoryStore keeps the tree in process memory. It is the store used by
// tests and by single-process deployments where teacher and students share
// the relay's address space.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[string]json.RawMessage
	subs  map[int]*subscriber
	next  int
}

type subscriber struct {
	path string
	fn   func(Update)
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: map[string]json.RawMessage{},
		subs:  map[int]*subscriber{},
	}
}

func (m *MemoryStore) Read(_ context.Context, path string) (json.RawMessage, error) {
	path, err := CleanPath(path)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.nodes[path]; ok {
		return append(json.RawMessage(nil), v...), nil
	}
	sub := m.collectLocked(path)
	if len(sub) == 0 {
		return nil, ErrNotFound
	}
	return assemble(sub), nil
}

// collectLocked returns descendant documents keyed by their path relative
// to prefix.
func (m *MemoryStore) collectLocked(prefix string) map[string]json.RawMessage {
	out := map[string]json.RawMessage{}
	p := prefix + "/"
	for k, v := range m.nodes {
		if strings.HasPrefix(k, p) {
			out[strings.TrimPrefix(k, p)] = v
		}
	}
	return out
}

// assemble nests relative-path documents into a single JSON object. A node
// may hold both its own document and deeper children (a participant record
// plus its responses subtree); the two are merged at that level.
func assemble(docs map[string]json.RawMessage) json.RawMessage {
	root := map[string]interface{}{}
	for rel, raw := range docs {
		insert(root, strings.Split(rel, "/"), raw)
	}
	b, _ := json.Marshal(root)
	return b
}

func insert(cur map[string]interface{}, segs []string, raw json.RawMessage) {
	s := segs[0]
	if len(segs) == 1 {
		if existing, ok := cur[s].(map[string]interface{}); ok {
			var doc map[string]json.RawMessage
			if json.Unmarshal(raw, &doc) == nil {
				for k, v := range doc {
					if _, taken := existing[k]; !taken {
						existing[k] = v
					}
				}
			}
			return
		}
		cur[s] = json.RawMessage(append(json.RawMessage(nil), raw...))
		return
	}
	var next map[string]interface{}
	switch ex := cur[s].(type) {
	case map[string]interface{}:
		next = ex
	case json.RawMessage:
		next = map[string]interface{}{}
		var doc map[string]json.RawMessage
		if json.Unmarshal(ex, &doc) == nil {
			for k, v := range doc {
				next[k] = v
			}
		}
		cur[s] = next
	default:
		next = map[string]interface{}{}
		cur[s] = next
	}
	insert(next, segs[1:], raw)
}

func (m *MemoryStore) Write(_ context.Context, path string, value interface{}) error {
	path, err := CleanPath(path)
	if err != nil {
		return err
	}
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.nodes[path] = b
	fns := m.matchLocked(path)
	m.mu.Unlock()
	dispatch(fns, Update{Path: path, Value: b})
	return nil
}

func (m *MemoryStore) MergeWrite(_ context.Context, path string, fields map[string]interface{}) error {
	path, err := CleanPath(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	doc := map[string]json.RawMessage{}
	if prev, ok := m.nodes[path]; ok {
		if err := json.Unmarshal(prev, &doc); err != nil {
			m.mu.Unlock()
			return err
		}
	}
	for k, v := range fields {
		b, err := json.Marshal(v)
		if err != nil {
			m.mu.Unlock()
			return err
		}
		doc[k] = b
	}
	b, err := json.Marshal(doc)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.nodes[path] = b
	fns := m.matchLocked(path)
	m.mu.Unlock()
	dispatch(fns, Update{Path: path, Value: b})
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, path string) error {
	path, err := CleanPath(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.nodes, path)
	p := path + "/"
	for k := range m.nodes {
		if strings.HasPrefix(k, p) {
			delete(m.nodes, k)
		}
	}
	fns := m.matchLocked(path)
	m.mu.Unlock()
	dispatch(fns, Update{Path: path, Value: nil})
	return nil
}

func (m *MemoryStore) Subscribe(path string, fn func(Update)) func() {
	m.mu.Lock()
	id := m.next
	m.next++
	m.subs[id] = &subscriber{path: path, fn: fn}
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// matchLocked snapshots the callbacks covering path. Callbacks run after the
// lock is released so a handler may call back into the store.
func (m *MemoryStore) matchLocked(path string) []func(Update) {
	var fns []func(Update)
	for _, s := range m.subs {
		if Covers(s.path, path) {
			fns = append(fns, s.fn)
		}
	}
	return fns
}

func dispatch(fns []func(Update), u Update) {
	for _, fn := range fns {
		fn(u)
	}
}
