// Package presence infers who is online from periodic heartbeat writes.
// The staleness check is the authoritative offline signal; the final
// "online=false" write on teardown is best effort only.
package presence

import (
	"context"
	"time"

	"github.com/classpulse/classpulse/internal/rtstore"
)

// Heartbeat intervals. Live sessions want near-real-time presence on the
// teacher dashboard; self-paced sessions trade immediacy for bandwidth.
const (
	LiveInterval      = 5 * time.Second
	SelfPacedInterval = 30 * time.Second
)

// ThresholdFor exceeds the write interval by a 2x margin so clock and write
// jitter do not produce false offline flags.
func ThresholdFor(interval time.Duration) time.Duration {
	return 2 * interval
}

// Online reports whether a record with the given heartbeat is considered
// connected at time now.
func Online(lastHeartbeatUnix int64, now time.Time, threshold time.Duration) bool {
	if lastHeartbeatUnix <= 0 {
		return false
	}
	return now.Sub(time.Unix(lastHeartbeatUnix, 0)) < threshold
}

// Tracker merges heartbeat fields into one record path on a fixed interval.
type Tracker struct {
	store    rtstore.Store
	path     string
	interval time.Duration
	now      func() time.Time
	cancel   context.CancelFunc
	done     chan struct{}

	// Field names, overridable for records that are not participant
	// documents (the teacher heartbeats on the session root).
	Field       string
	OnlineField string
}

func NewTracker(store rtstore.Store, path string, interval time.Duration) *Tracker {
	if interval <= 0 {
		interval = LiveInterval
	}
	return &Tracker{
		store:       store,
		path:        path,
		interval:    interval,
		now:         time.Now,
		Field:       "last_heartbeat_at",
		OnlineField: "online",
	}
}

// Start writes one heartbeat immediately and then on every tick until the
// context ends or Stop is called.
func (t *Tracker) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	t.done = make(chan struct{})
	t.beat(ctx)
	go func() {
		defer close(t.done)
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.beat(ctx)
			}
		}
	}()
}

func (t *Tracker) beat(ctx context.Context) {
	fields := map[string]interface{}{t.Field: t.now().Unix()}
	if t.OnlineField != "" {
		fields[t.OnlineField] = true
	}
	_ = t.store.MergeWrite(ctx, t.path, fields)
}

// Stop halts the ticker and makes the best-effort offline write. Callers
// must not rely on that write landing.
func (t *Tracker) Stop() {
	if t.cancel == nil {
		return
	}
	t.cancel()
	<-t.done
	if t.OnlineField == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = t.store.MergeWrite(ctx, t.path, map[string]interface{}{t.OnlineField: false})
}
