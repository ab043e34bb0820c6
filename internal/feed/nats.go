package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"adsb_tracker/internal/adsb"
)

// NATSSource consumes aircraft.json documents published on a NATS subject
// and serves the most recent one. Receivers that fan out to multiple
// consumers publish each snapshot instead of exposing a file.
type NATSSource struct {
	conn *nats.Conn
	sub  *nats.Subscription

	mu     sync.RWMutex
	latest []byte
	at     time.Time
}

// maxSnapshotAge rejects snapshots from a publisher that has gone quiet;
// stale aircraft state must not keep feeding the pipeline.
const maxSnapshotAge = 2 * time.Minute

// NewNATSSource connects to the NATS server and subscribes to the subject.
func NewNATSSource(url, subject string) (*NATSSource, error) {
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	s := &NATSSource{conn: conn}
	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		s.mu.Lock()
		s.latest = msg.Data
		s.at = time.Now()
		s.mu.Unlock()
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	s.sub = sub
	return s, nil
}

// Fetch decodes the most recently received snapshot. It fails when nothing
// has arrived yet or the last snapshot is too old.
func (s *NATSSource) Fetch(_ context.Context) (*adsb.Snapshot, error) {
	s.mu.RLock()
	data, at := s.latest, s.at
	s.mu.RUnlock()

	if data == nil {
		return nil, fmt.Errorf("no snapshot received yet")
	}
	if age := time.Since(at); age > maxSnapshotAge {
		return nil, fmt.Errorf("last snapshot is %s old", age.Round(time.Second))
	}

	snap, err := adsb.DecodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("decode nats snapshot: %w", err)
	}
	return snap, nil
}

// Close drains the subscription and closes the connection.
func (s *NATSSource) Close() {
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
	s.conn.Close()
}
