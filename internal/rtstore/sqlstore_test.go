package rtstore_test

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/classpulse/classpulse/internal/db"
	"github.com/classpulse/classpulse/internal/rtstore"
)

func openTestStore(t *testing.T) *rtstore.SQLStore {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "relay.db")
	dbh, err := db.Open(context.Background(), db.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { dbh.Close() })
	return rtstore.NewSQLStore(dbh)
}

func TestSQLStoreRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Write(ctx, "sessions/s1", map[string]interface{}{"id": "s1", "lock_mode": true}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.MergeWrite(ctx, "sessions/s1", map[string]interface{}{"lock_mode": false}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	raw, err := s.Read(ctx, "sessions/s1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var doc struct {
		ID       string `json:"id"`
		LockMode bool   `json:"lock_mode"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.ID != "s1" || doc.LockMode {
		t.Fatalf("merge lost fields: %s", raw)
	}
}

func TestSQLStoreSubtreeRead(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_ = s.Write(ctx, "sessions/s1/votes/sl1/p1", map[string][]string{"option_ids": {"A"}})
	_ = s.Write(ctx, "sessions/s1/votes/sl1/p2", map[string][]string{"option_ids": {"B"}})

	raw, err := s.Read(ctx, "sessions/s1/votes/sl1")
	if err != nil {
		t.Fatalf("subtree read: %v", err)
	}
	var votes map[string]struct {
		OptionIDs []string `json:"option_ids"`
	}
	if err := json.Unmarshal(raw, &votes); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(votes) != 2 || votes["p1"].OptionIDs[0] != "A" {
		t.Fatalf("bad subtree: %s", raw)
	}
}

func TestSQLStoreDeleteSubtree(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_ = s.Write(ctx, "sessions/s1/participants/p1", map[string]string{"id": "p1"})
	_ = s.Write(ctx, "sessions/s1/participants/p1/responses/sl1", map[string]string{"slide_id": "sl1"})

	if err := s.Delete(ctx, "sessions/s1/participants/p1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Read(ctx, "sessions/s1/participants/p1"); err != rtstore.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// Concurrent merges of disjoint fields to one path must both land; the
// session root sees exactly this from the heartbeat goroutine racing the
// teacher's navigation merges.
func TestSQLStoreConcurrentMergeKeepsBothFields(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		path := fmt.Sprintf("sessions/s%d", i)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.MergeWrite(ctx, path, map[string]interface{}{"current_slide_index": 3})
		}()
		go func() {
			defer wg.Done()
			_ = s.MergeWrite(ctx, path, map[string]interface{}{"owner_heartbeat_at": 12345})
		}()
		wg.Wait()

		raw, err := s.Read(ctx, path)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var doc map[string]interface{}
		if err := json.Unmarshal(raw, &doc); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if _, ok := doc["current_slide_index"]; !ok {
			t.Fatalf("lost current_slide_index: %s", raw)
		}
		if _, ok := doc["owner_heartbeat_at"]; !ok {
			t.Fatalf("lost owner_heartbeat_at: %s", raw)
		}
	}
}

func TestSQLStoreEventLog(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_ = s.Write(ctx, "sessions/s1", map[string]string{"id": "s1"})
	_ = s.MergeWrite(ctx, "sessions/s1", map[string]interface{}{"lock_mode": false})
	_ = s.Delete(ctx, "sessions/s1")

	events, err := s.Events().Since(ctx, 0, 10)
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	types := []string{events[0].Type, events[1].Type, events[2].Type}
	if types[0] != "write" || types[1] != "merge" || types[2] != "delete" {
		t.Fatalf("wrong event order: %v", types)
	}
	if events[1].Offset <= events[0].Offset {
		t.Fatalf("offsets not monotonic: %+v", events)
	}
}
