// internal/recorder/recorder.go
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scroller/pkg/scroller"
)

const (
	// DefaultBatchSize is the number of buffered records that triggers a flush.
	DefaultBatchSize = 64
	// DefaultFlushTimeout bounds a flush started by Handle.
	DefaultFlushTimeout = 5 * time.Second
)

// Record is one journaled engine event.
type Record struct {
	SessionID     string        `json:"session_id"`
	Seq           uint64        `json:"seq"`
	Time          time.Time     `json:"time"`
	ScrollerID    string        `json:"scroller_id"`
	Type          string        `json:"type"`
	Kind          string        `json:"kind"`
	Index         int           `json:"index"`
	Element       string        `json:"element"`
	ScrollingDown bool          `json:"scrolling_down"`
	Progress      *float64      `json:"progress,omitempty"`
	Bounds        scroller.Rect `json:"bounds"`
}

// Sink persists batches of records.
type Sink interface {
	Write(ctx context.Context, records []Record) error
	Close() error
}

// PartialWriteError is returned by a Sink that persisted the first Written
// records of a batch before failing. Only the rest is retried.
type PartialWriteError struct {
	Written int
	Err     error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("wrote %d records before failing: %v", e.Written, e.Err)
}

func (e *PartialWriteError) Unwrap() error { return e.Err }

// Option configures a Recorder.
type Option func(*options)

type options struct {
	batchSize    int
	flushTimeout time.Duration
	now          func() time.Time
}

// WithBatchSize sets the auto-flush threshold. Values below 1 are ignored.
func WithBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithFlushTimeout bounds the flush Handle runs when a batch fills up.
// Values below 1 are ignored.
func WithFlushTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.flushTimeout = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Recorder turns engine events into Records and writes them to a Sink in
// batches. It is a comparable scroller.Handler, so attaching it twice to
// the same engine records each event once.
type Recorder[E comparable] struct {
	sessionID string
	sink      Sink
	label     func(E) string
	logger    *zap.Logger
	opts      options

	// flushMu serializes flushes so batches reach the sink in order.
	flushMu sync.Mutex

	mu         sync.Mutex
	scrollerID string
	seq        uint64
	pending    []Record
	written    uint64
}

// New creates a Recorder. An empty sessionID gets a random one; a nil label
// renders elements with fmt.
func New[E comparable](sessionID string, sink Sink, label func(E) string, logger *zap.Logger, opts ...Option) *Recorder[E] {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if label == nil {
		label = func(el E) string { return fmt.Sprint(el) }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{batchSize: DefaultBatchSize, flushTimeout: DefaultFlushTimeout, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Recorder[E]{
		sessionID: sessionID,
		sink:      sink,
		label:     label,
		logger:    logger.Named("recorder").With(zap.String("session_id", sessionID)),
		opts:      o,
	}
}

// SessionID returns the identifier stamped on every record.
func (r *Recorder[E]) SessionID() string { return r.sessionID }

// Attach subscribes r to every event type s can emit and returns a function
// that detaches it again. A Recorder journals one engine at a time.
func (r *Recorder[E]) Attach(s *scroller.Scroller[E]) (detach func()) {
	r.mu.Lock()
	r.scrollerID = s.ID()
	r.mu.Unlock()

	types := s.EventTypes()
	for _, t := range types {
		s.On(t, r)
	}
	r.logger.Debug("Attached to engine.", zap.String("scroller_id", s.ID()), zap.Int("event_types", len(types)))
	return func() {
		for _, t := range types {
			s.Off(t, r)
		}
	}
}

// Handle implements scroller.Handler.
func (r *Recorder[E]) Handle(ev scroller.Event[E]) {
	rec := Record{
		SessionID:     r.sessionID,
		Type:          string(ev.Type),
		Index:         ev.Index,
		ScrollingDown: ev.IsScrollingDown,
		Bounds:        ev.Bounds,
	}
	if ev.Type != scroller.EventInit {
		rec.Kind = ev.Kind.String()
		rec.Element = r.label(ev.Element)
	}
	if ev.HasProgress {
		p := ev.Progress
		rec.Progress = &p
	}

	r.mu.Lock()
	r.seq++
	rec.Seq = r.seq
	rec.ScrollerID = r.scrollerID
	rec.Time = r.opts.now().UTC()
	r.pending = append(r.pending, rec)
	full := len(r.pending) >= r.opts.batchSize
	r.mu.Unlock()

	if full {
		ctx, cancel := context.WithTimeout(context.Background(), r.opts.flushTimeout)
		defer cancel()
		if err := r.Flush(ctx); err != nil {
			r.logger.Error("Failed to flush journal batch.", zap.Error(err))
		}
	}
}

// Pending returns the number of buffered records.
func (r *Recorder[E]) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Written returns the number of records the sink has accepted.
func (r *Recorder[E]) Written() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

// Flush writes every buffered record. Flushes run one at a time; on failure
// the unwritten part of the batch is put back in front of anything recorded
// meanwhile, so the sink sees records in sequence order.
func (r *Recorder[E]) Flush(ctx context.Context) error {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := r.sink.Write(ctx, batch); err != nil {
		written := 0
		var partial *PartialWriteError
		if errors.As(err, &partial) {
			written = min(max(partial.Written, 0), len(batch))
		}
		r.mu.Lock()
		r.written += uint64(written)
		r.pending = append(batch[written:len(batch):len(batch)], r.pending...)
		r.mu.Unlock()
		return fmt.Errorf("failed to write %d records: %w", len(batch)-written, err)
	}

	r.mu.Lock()
	r.written += uint64(len(batch))
	r.mu.Unlock()
	r.logger.Debug("Journal batch written.", zap.Int("records", len(batch)))
	return nil
}

// Close flushes and closes the sink.
func (r *Recorder[E]) Close(ctx context.Context) error {
	return errors.Join(r.Flush(ctx), r.sink.Close())
}
