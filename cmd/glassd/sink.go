package main

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
)

// stdoutSink writes every emitted Hypo/Cancel report as one NDJSON line to
// stdout, the CLI boundary's only place where sink.Sink's map payloads
// touch encoding/json bytes (messages.Decode/ToMap deliberately stay free
// of byte-level I/O).
type stdoutSink struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func newStdoutSink() *stdoutSink {
	return &stdoutSink{w: bufio.NewWriter(os.Stdout)}
}

func (s *stdoutSink) Send(msg map[string]any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("glassd: marshal outbound message", "err", err)
		return false
	}
	if _, err := s.w.Write(data); err != nil {
		slog.Error("glassd: write outbound message", "err", err)
		return false
	}
	if err := s.w.WriteByte('\n'); err != nil {
		slog.Error("glassd: write outbound newline", "err", err)
		return false
	}
	return s.w.Flush() == nil
}
