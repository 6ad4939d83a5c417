// internal/recorder/jsonl.go
package recorder

import (
	"context"
	"fmt"
	"io"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/scroller/internal/config"
	"github.com/xkilldash9x/scroller/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONLSink writes one JSON object per record and line.
type JSONLSink struct {
	mu     sync.Mutex
	w      io.Writer
	stream *jsoniter.Stream
}

// NewJSONLSink writes to w. If w is an io.Closer, Close closes it.
func NewJSONLSink(w io.Writer) *JSONLSink {
	return &JSONLSink{w: w, stream: jsoniter.NewStream(json, w, 4096)}
}

// OpenJSONL opens a rotating journal file from the recorder configuration.
func OpenJSONL(cfg config.RecorderConfig) *JSONLSink {
	return NewJSONLSink(observability.NewRotatingFile(cfg.Path, observability.Rotation{
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}))
}

// Write implements Sink. Each record is flushed to the writer as its own
// line; a failure reports how many lines made it out as a
// *PartialWriteError. A line torn by a failing writer is not rewritten.
func (s *JSONLSink) Write(ctx context.Context, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range records {
		s.stream.WriteVal(&records[i])
		s.stream.WriteRaw("\n")
		if err := s.stream.Error; err != nil {
			s.resetStream()
			return &PartialWriteError{Written: i, Err: fmt.Errorf("failed to encode record %d: %w", records[i].Seq, err)}
		}
		if err := s.stream.Flush(); err != nil {
			s.resetStream()
			return &PartialWriteError{Written: i, Err: fmt.Errorf("failed to write journal: %w", err)}
		}
	}
	return nil
}

// resetStream drops buffered bytes and the sticky stream error so the next
// Write starts clean.
func (s *JSONLSink) resetStream() {
	s.stream.Reset(s.w)
	s.stream.Error = nil
}

// Close implements Sink.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
