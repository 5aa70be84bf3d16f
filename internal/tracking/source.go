package tracking

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// ReadStream feeds newline-delimited JSON detections from r into the
// ingestor. Blank lines are skipped; a malformed line aborts the stream with
// its line number. Tracklets left open when the stream ends are closed.
func ReadStream(ctx context.Context, r io.Reader, in *Ingestor) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var (
		lineNo   int
		lastSeen time.Time
	)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var det Detection
		if err := json.Unmarshal([]byte(line), &det); err != nil {
			return fmt.Errorf("line %d: decode detection: %w", lineNo, err)
		}
		if err := in.Ingest(ctx, det); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}

		// Stream time, not wall time, drives the lost-track sweep so
		// replayed recordings behave like live feeds.
		if det.TS.After(lastSeen) {
			lastSeen = det.TS
			if err := in.Sweep(ctx, lastSeen); err != nil {
				return fmt.Errorf("line %d: sweep: %w", lineNo, err)
			}
		}

		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read detections: %w", err)
	}
	return in.CloseAll(ctx)
}
