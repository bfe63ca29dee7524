package main

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"glass3/internal/glass/glass"
)

// readStdin is the inbound message loop: one NDJSON message per line.
// A malformed line is logged and dropped, never fatal.
func readStdin(ctx context.Context, eng *glass.Glass) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var raw map[string]any
		if err := json.Unmarshal(line, &raw); err != nil {
			slog.Warn("glassd: dropping malformed input line", "err", err)
			continue
		}
		if err := eng.Dispatch(raw); err != nil {
			slog.Warn("glassd: dropping undispatchable message", "err", err)
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Error("glassd: stdin read error", "err", err)
	}
}
