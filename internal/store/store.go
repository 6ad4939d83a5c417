package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scroller/internal/recorder"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

const eventsTable = "scroll_events"

var eventColumns = []string{
	"session_id", "seq", "recorded_at", "scroller_id", "event_type", "kind",
	"scene_index", "element", "scrolling_down", "progress",
	"bounds_x", "bounds_y", "bounds_width", "bounds_height",
}

const createEventsTable = `
    CREATE TABLE IF NOT EXISTS scroll_events (
        session_id     TEXT             NOT NULL,
        seq            BIGINT           NOT NULL,
        recorded_at    TIMESTAMPTZ      NOT NULL,
        scroller_id    TEXT             NOT NULL,
        event_type     TEXT             NOT NULL,
        kind           TEXT             NOT NULL,
        scene_index    INTEGER          NOT NULL,
        element        TEXT             NOT NULL,
        scrolling_down BOOLEAN          NOT NULL,
        progress       DOUBLE PRECISION,
        bounds_x       DOUBLE PRECISION NOT NULL,
        bounds_y       DOUBLE PRECISION NOT NULL,
        bounds_width   DOUBLE PRECISION NOT NULL,
        bounds_height  DOUBLE PRECISION NOT NULL,
        PRIMARY KEY (session_id, seq)
    );
`

const selectSessionEvents = `
    SELECT seq, recorded_at, scroller_id, event_type, kind, scene_index, element, scrolling_down, progress,
           bounds_x, bounds_y, bounds_width, bounds_height
    FROM scroll_events
    WHERE session_id = $1
    ORDER BY seq ASC;
`

// Store journals scroll events to PostgreSQL. It implements recorder.Sink.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// Connect opens a connection pool for url and wraps it in a Store.
func Connect(ctx context.Context, url string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the events table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createEventsTable); err != nil {
		return fmt.Errorf("failed to create %s: %w", eventsTable, err)
	}
	return nil
}

// Write implements recorder.Sink by copying the batch inside one transaction.
func (s *Store) Write(ctx context.Context, records []recorder.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	rows := make([][]interface{}, len(records))
	for i, r := range records {
		var progress interface{}
		if r.Progress != nil {
			progress = *r.Progress
		}
		rows[i] = []interface{}{
			r.SessionID, int64(r.Seq), r.Time.UTC(), r.ScrollerID, r.Type, r.Kind,
			r.Index, r.Element, r.ScrollingDown, progress,
			r.Bounds.X, r.Bounds.Y, r.Bounds.Width, r.Bounds.Height,
		}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{eventsTable}, eventColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy scroll events: %w", err)
	}
	if int(copyCount) != len(records) {
		return fmt.Errorf("mismatch in copied scroll events count: expected %d, got %d", len(records), copyCount)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Persisted scroll events.", zap.Int("count", len(records)))
	return nil
}

// EventsBySession returns a session's journal in sequence order.
func (s *Store) EventsBySession(ctx context.Context, sessionID string) ([]recorder.Record, error) {
	rows, err := s.pool.Query(ctx, selectSessionEvents, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query scroll events: %w", err)
	}
	defer rows.Close()

	var records []recorder.Record
	for rows.Next() {
		r := recorder.Record{SessionID: sessionID}
		var seq int64
		err := rows.Scan(
			&seq, &r.Time, &r.ScrollerID, &r.Type, &r.Kind, &r.Index, &r.Element, &r.ScrollingDown, &r.Progress,
			&r.Bounds.X, &r.Bounds.Y, &r.Bounds.Width, &r.Bounds.Height,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scroll event row: %w", err)
		}
		r.Seq = uint64(seq)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return records, nil
}

// Close implements recorder.Sink and closes the pool if it supports it.
func (s *Store) Close() error {
	if c, ok := s.pool.(interface{ Close() }); ok {
		c.Close()
	}
	return nil
}
