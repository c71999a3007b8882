package cdk

import (
	"bytes"
	"strings"
	"sync"
)

// lineWriter is an io.Writer that splits tool output into lines and forwards
// each to the sink. Partial lines are buffered until their newline arrives.
type lineWriter struct {
	mu     sync.Mutex
	stream string
	sink   LineSink
	buf    bytes.Buffer
}

func newLineWriter(stream string, sink LineSink) *lineWriter {
	return &lineWriter{stream: stream, sink: sink}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		raw := w.buf.Bytes()
		idx := bytes.IndexByte(raw, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimRight(string(raw[:idx]), "\r")
		w.buf.Next(idx + 1)
		if line != "" {
			w.sink(w.stream, line)
		}
	}
	return len(p), nil
}
