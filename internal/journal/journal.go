// Package journal records every store change to the SQLite activity table.
// Recording never blocks a mutation: changes are queued on a buffered
// channel and written by a single background goroutine.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/domain"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/metrics"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/store"
)

const DefaultBuffer = 256

var ErrClosed = errors.New("journal closed")

// Entry is one recorded change.
type Entry struct {
	Seq        int64            `json:"seq"`
	Kind       store.ChangeKind `json:"kind"`
	EventID    string           `json:"event_id"`
	TaskID     string           `json:"task_id,omitempty"`
	Role       domain.Role      `json:"role,omitempty"`
	At         time.Time        `json:"at"`
	RecordedAt time.Time        `json:"recorded_at"`
}

type Journal struct {
	DB  *sql.DB
	Now func() time.Time

	log   zerolog.Logger
	queue chan store.Change
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// Open starts the writer goroutine. Callers must Close the journal.
func Open(conn *sql.DB, buffer int, logger zerolog.Logger) *Journal {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	j := &Journal{
		DB:    conn,
		Now:   time.Now,
		log:   logger.With().Str("component", "journal").Logger(),
		queue: make(chan store.Change, buffer),
		done:  make(chan struct{}),
	}
	go j.run()
	return j
}

// Record is a store.Subscriber. A full buffer drops the change and counts it.
func (j *Journal) Record(c store.Change) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}
	select {
	case j.queue <- c:
	default:
		metrics.JournalDroppedTotal.Inc()
		j.log.Warn().Str("kind", string(c.Kind)).Str("event_id", c.EventID).Msg("journal buffer full, change dropped")
	}
}

func (j *Journal) run() {
	defer close(j.done)
	for c := range j.queue {
		if err := j.Append(context.Background(), c); err != nil {
			j.log.Error().Err(err).Str("kind", string(c.Kind)).Str("event_id", c.EventID).Msg("journal append failed")
		}
	}
}

// Close stops accepting changes, drains the queue and waits for the writer.
// It does not close the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return ErrClosed
	}
	j.closed = true
	close(j.queue)
	j.mu.Unlock()
	<-j.done
	return nil
}

// Append writes one change synchronously.
func (j *Journal) Append(ctx context.Context, c store.Change) error {
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	_, err = j.DB.ExecContext(ctx,
		`INSERT INTO activity(ts,kind,event_id,task_id,role,recorded_at,payload_json) VALUES (?,?,?,?,?,?,?)`,
		c.At.UTC().Format(time.RFC3339Nano), string(c.Kind), c.EventID, nullable(c.TaskID), nullable(string(c.Role)),
		now().UTC().Format(time.RFC3339Nano), string(payload))
	return err
}

// Entries returns up to limit entries with seq greater than after, oldest first.
func (j *Journal) Entries(ctx context.Context, after int64, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.DB.QueryContext(ctx,
		`SELECT seq,ts,kind,event_id,COALESCE(task_id,''),COALESCE(role,''),recorded_at FROM activity WHERE seq>? ORDER BY seq LIMIT ?`,
		after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var (
			e            Entry
			kind, role   string
			ts, recorded string
		)
		if err := rows.Scan(&e.Seq, &ts, &kind, &e.EventID, &e.TaskID, &role, &recorded); err != nil {
			return nil, err
		}
		e.Kind = store.ChangeKind(kind)
		e.Role = domain.Role(role)
		e.At, _ = time.Parse(time.RFC3339Nano, ts)
		e.RecordedAt, _ = time.Parse(time.RFC3339Nano, recorded)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Latest returns the highest recorded seq, or 0 for an empty journal.
func (j *Journal) Latest(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := j.DB.QueryRowContext(ctx, `SELECT MAX(seq) FROM activity`).Scan(&seq); err != nil {
		return 0, err
	}
	return seq.Int64, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
