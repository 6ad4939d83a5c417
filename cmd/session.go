// cmd/session.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scroller/internal/config"
	"github.com/xkilldash9x/scroller/internal/recorder"
	"github.com/xkilldash9x/scroller/internal/store"
	"github.com/xkilldash9x/scroller/pkg/scroller"
)

// engineConfig translates the scroller section into an engine Config.
func engineConfig[E comparable](cfg config.ScrollerConfig, scenes []E, container E, logger *zap.Logger) scroller.Config[E] {
	variant, _ := scroller.ParseVariant(cfg.Variant)
	return scroller.Config[E]{
		Scenes:    scenes,
		Container: container,
		Offset:    cfg.Offset,
		Nudge:     cfg.Nudge,
		Progress:  cfg.Progress,
		Variant:   variant,
		Logger:    logger,
	}
}

// eventPrinter writes one line per engine event.
type eventPrinter[E comparable] struct {
	mu     sync.Mutex
	w      io.Writer
	label  func(E) string
	counts map[scroller.EventType]int
}

func newEventPrinter[E comparable](w io.Writer, label func(E) string) *eventPrinter[E] {
	return &eventPrinter[E]{w: w, label: label, counts: make(map[scroller.EventType]int)}
}

// subscribe registers p for every event type s can emit.
func (p *eventPrinter[E]) subscribe(s *scroller.Scroller[E]) {
	for _, t := range s.EventTypes() {
		s.On(t, p)
	}
}

func (p *eventPrinter[E]) Handle(ev scroller.Event[E]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts[ev.Type]++

	if ev.Type == scroller.EventInit {
		fmt.Fprintln(p.w, ev.Type)
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s index=%d element=%s down=%t", ev.Type, ev.Index, p.label(ev.Element), ev.IsScrollingDown)
	if ev.HasProgress {
		fmt.Fprintf(&b, " progress=%.3f", ev.Progress)
	}
	fmt.Fprintln(p.w, b.String())
}

// summary returns the per-type counts in emission vocabulary order.
func (p *eventPrinter[E]) summary(types []scroller.EventType) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	parts := make([]string, 0, len(types))
	for _, t := range types {
		parts = append(parts, fmt.Sprintf("%s=%d", t, p.counts[t]))
	}
	return strings.Join(parts, " ")
}

// openSink returns the journal sink selected by cfg, or nil when journaling is off.
func openSink(ctx context.Context, cfg *config.Config, logger *zap.Logger) (recorder.Sink, error) {
	rc := cfg.Recorder()
	switch rc.Sink {
	case config.SinkNone, "":
		return nil, nil
	case config.SinkJSONL:
		logger.Info("Journaling to file.", zap.String("path", rc.Path))
		return recorder.OpenJSONL(rc), nil
	case config.SinkPostgres:
		st, err := store.Connect(ctx, cfg.Database().URL, logger)
		if err != nil {
			return nil, err
		}
		if err := st.EnsureSchema(ctx); err != nil {
			st.Close()
			return nil, err
		}
		logger.Info("Journaling to PostgreSQL.")
		return st, nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidSink, rc.Sink)
	}
}

// startJournal attaches a recorder to s when a sink is configured. The
// returned stop function detaches it and flushes what is left.
func startJournal[E comparable](ctx context.Context, cfg *config.Config, s *scroller.Scroller[E], label func(E) string, logger *zap.Logger) (*recorder.Recorder[E], func(context.Context) error, error) {
	sink, err := openSink(ctx, cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if sink == nil {
		return nil, func(context.Context) error { return nil }, nil
	}

	rec := recorder.New("", sink, label, logger, recorder.WithBatchSize(cfg.Recorder().BatchSize))
	detach := rec.Attach(s)
	stop := func(ctx context.Context) error {
		detach()
		err := rec.Close(ctx)
		logger.Info("Journal closed.", zap.String("session_id", rec.SessionID()), zap.Uint64("records", rec.Written()))
		return err
	}
	return rec, stop, nil
}
