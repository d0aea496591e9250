package logging

import (
	"bytes"
	"io"
	"log/slog"
	"sync"
	"time"
)

// stampWriter prefixes each complete line with a run-scoped sequence number
// and a wall clock timestamp. Partial lines are held until their newline
// arrives or Close is called.
type stampWriter struct {
	mu     sync.Mutex
	target io.Writer
	now    func() time.Time
	seq    uint64
	buf    bytes.Buffer
}

func newStampWriter(target io.Writer) *stampWriter {
	return &stampWriter{target: target, now: time.Now}
}

func (w *stampWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadBytes('\n')
		if err != nil {
			// incomplete, put it back
			w.buf.Write(line)
			break
		}
		if err := w.writeLine(line); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (w *stampWriter) writeLine(line []byte) error {
	w.seq++
	prefix := slog.Uint64("line", w.seq).String() + " " +
		slog.String("time", w.now().Format(time.RFC3339)).String() + " "
	if _, err := io.WriteString(w.target, prefix); err != nil {
		return err
	}
	_, err := w.target.Write(line)
	return err
}

// Close flushes a trailing partial line.
func (w *stampWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() == 0 {
		return nil
	}
	rest := append(w.buf.Bytes(), '\n')
	w.buf.Reset()
	return w.writeLine(rest)
}
