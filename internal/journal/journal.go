package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/forceps/api/schemas"
	"github.com/xkilldash9x/forceps/internal/observability"
)

// Recorder persists a single lifecycle or action event. The writer calls
// Record sequentially, never concurrently.
type Recorder interface {
	Record(ctx context.Context, ev schemas.Event) error
}

// Nop discards every event. Used when journaling is disabled.
type Nop struct{}

func (Nop) Record(context.Context, schemas.Event) error { return nil }

// DBPool abstracts pgxpool.Pool so tests can substitute a mock.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store journals events to Postgres. The journal is write-only telemetry:
// nothing in the serving path reads it back, and a process restart still
// invalidates every session id regardless of what the journal holds.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New verifies connectivity and returns a Postgres-backed recorder.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping journal database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("journal"),
	}, nil
}

const sqlCreateEvents = `
        CREATE TABLE IF NOT EXISTS session_events (
            id          UUID PRIMARY KEY,
            type        TEXT NOT NULL,
            session_id  UUID NOT NULL,
            browser     TEXT NOT NULL,
            action      TEXT NOT NULL DEFAULT '',
            status      TEXT NOT NULL DEFAULT '',
            error       TEXT NOT NULL DEFAULT '',
            occurred_at TIMESTAMPTZ NOT NULL
        );
    `

// EnsureSchema creates the journal table when it does not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, sqlCreateEvents); err != nil {
		return fmt.Errorf("failed to create session_events table: %w", err)
	}
	return nil
}

const sqlInsertEvent = `
        INSERT INTO session_events (id, type, session_id, browser, action, status, error, occurred_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
    `

// Record inserts one event row. The timestamp is normalized to UTC before
// insertion to prevent ambiguity.
func (s *Store) Record(ctx context.Context, ev schemas.Event) error {
	_, err := s.pool.Exec(ctx, sqlInsertEvent,
		ev.ID, string(ev.Type), ev.SessionID, string(ev.Browser),
		string(ev.Action), string(ev.Status), ev.Error, ev.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session event: %w", err)
	}
	return nil
}

// writeTimeout bounds a single insert so a stalled database cannot pile
// feed events up behind it forever.
const writeTimeout = 5 * time.Second

// Writer pumps a lifecycle event feed into a Recorder. Failures are
// counted and logged, never propagated: the journal is best-effort and
// must not disturb the serving path.
type Writer struct {
	log      *zap.Logger
	recorder Recorder
	feed     <-chan schemas.Event
	cancel   func()
}

// NewWriter wires a subscription feed to a recorder. The cancel function
// releases the subscription and is invoked when Run returns.
func NewWriter(logger *zap.Logger, recorder Recorder, feed <-chan schemas.Event, cancel func()) *Writer {
	return &Writer{
		log:      logger.Named("journal"),
		recorder: recorder,
		feed:     feed,
		cancel:   cancel,
	}
}

// Run consumes the feed until it is closed or ctx is canceled. A closed
// feed is drained to the end, so events published just before shutdown
// still reach the journal.
func (w *Writer) Run(ctx context.Context) {
	defer w.cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.feed:
			if !ok {
				return
			}
			w.record(ctx, ev)
		}
	}
}

func (w *Writer) record(ctx context.Context, ev schemas.Event) {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := w.recorder.Record(writeCtx, ev); err != nil {
		observability.JournalWriteFailures.Inc()
		w.log.Warn("Failed to journal event.",
			zap.String("event_type", string(ev.Type)),
			zap.String("session_id", ev.SessionID),
			zap.Error(err))
	}
}
