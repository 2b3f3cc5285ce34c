package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"coin/internal/application/port"
)

// Stdout 输出目标 "-" 表示标准输出
const Stdout = "-"

// Sink writes one rendered line per record to stdout or a file. Each line is
// flushed before Write returns.
type Sink struct {
	name   string
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer // nil for stdout
	closed bool
}

// NewSink opens dest ("-" or empty for stdout, otherwise a file in append mode).
func NewSink(dest string) (*Sink, error) {
	w, c, err := open(dest)
	if err != nil {
		return nil, err
	}
	return &Sink{name: sinkName(dest), w: bufio.NewWriter(w), closer: c}, nil
}

// NewWriterSink wraps an arbitrary writer. The writer is not closed.
func NewWriterSink(name string, w io.Writer) *Sink {
	return &Sink{name: name, w: bufio.NewWriter(w)}
}

func (s *Sink) Name() string { return s.name }

func (s *Sink) Write(_ context.Context, rec port.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return os.ErrClosed
	}
	if _, err := s.w.WriteString(rec.Line); err != nil {
		return err
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return err
	}
	return s.w.Flush()
}

// Close flushes and releases the file; stdout stays open.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.w.Flush()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// RawWriter mirrors undecoded venue frames, one per line, prefixed with the
// venue name. Lines are flushed every batch frames and on Close.
type RawWriter struct {
	mu      sync.Mutex
	w       *bufio.Writer
	closer  io.Closer
	batch   int
	pending int
}

// NewRawWriter opens dest; batch <= 1 flushes after every frame.
func NewRawWriter(dest string, batch int) (*RawWriter, error) {
	w, c, err := open(dest)
	if err != nil {
		return nil, err
	}
	if batch < 1 {
		batch = 1
	}
	return &RawWriter{w: bufio.NewWriter(w), closer: c, batch: batch}, nil
}

func (r *RawWriter) WriteRaw(venue string, frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := fmt.Fprintf(r.w, "%s\t%s\n", venue, frame); err != nil {
		return err
	}
	r.pending++
	if r.pending < r.batch {
		return nil
	}
	r.pending = 0
	return r.w.Flush()
}

func (r *RawWriter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.w.Flush()
	if r.closer != nil {
		if cerr := r.closer.Close(); err == nil {
			err = cerr
		}
		r.closer = nil
	}
	return err
}

func open(dest string) (io.Writer, io.Closer, error) {
	if dest == "" || dest == Stdout {
		return os.Stdout, nil, nil
	}
	if dir := filepath.Dir(dest); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, err
		}
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return f, f, nil
}

func sinkName(dest string) string {
	if dest == "" || dest == Stdout {
		return "stdout"
	}
	return "file:" + dest
}

var (
	_ port.Sink    = (*Sink)(nil)
	_ port.RawSink = (*RawWriter)(nil)
)
