// Package portlog appends every port access of a run to a text file.
package portlog

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/tinyrange/xtvm/internal/chipset"
)

// Log is a chipset.Tracer writing one slog text record per access. Each
// record is flushed before TracePort returns so the file survives a crash
// of the host process.
type Log struct {
	mu     sync.Mutex
	closer io.Closer
	buf    *bufio.Writer
	logger *slog.Logger
}

// Open appends to path, creating it when needed.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("portlog: open %s: %w", path, err)
	}
	return New(f), nil
}

// New writes records to w. Close closes w when it is an io.Closer.
func New(w io.Writer) *Log {
	l := &Log{buf: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		l.closer = c
	}
	l.logger = slog.New(slog.NewTextHandler(flushWriter{l.buf}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	return l
}

// flushWriter pushes each handler write straight through the buffer. The
// text handler emits a whole record per Write.
type flushWriter struct{ w *bufio.Writer }

func (f flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if err != nil {
		return n, err
	}
	return n, f.w.Flush()
}

func (l *Log) TracePort(access chipset.PortAccess) {
	attrs := []slog.Attr{
		slog.String("dir", access.Direction()),
		slog.String("port", fmt.Sprintf("0x%04X", access.Port)),
		slog.String("name", access.Name),
		slog.Int("size", access.Size),
		slog.String("value", fmt.Sprintf("0x%X", access.Value)),
	}
	level := slog.LevelInfo
	if access.Err != nil {
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("error", access.Err.Error()))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.buf == nil {
		return
	}
	l.logger.LogAttrs(context.Background(), level, "port", attrs...)
}

// Close flushes pending output and closes the file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.buf == nil {
		return nil
	}
	err := l.buf.Flush()
	l.buf = nil
	if l.closer != nil {
		if cerr := l.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

var _ chipset.Tracer = &Log{}
