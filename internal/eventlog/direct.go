package eventlog

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// Direct appends each event to a file as it is recorded. Every line is
// written with a single append-mode write and no locking; concurrent
// writers may interleave only at line granularity.
type Direct struct {
	f *os.File
}

// OpenDirect opens path for appending, creating it if needed.
func OpenDirect(path string) (*Direct, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	return &Direct{f: f}, nil
}

// Record appends one line.
func (d *Direct) Record(sessionID, message string, ts time.Time) error {
	line := Event{SessionID: sessionID, Message: message, Time: ts}.Line() + "\n"
	if _, err := d.f.WriteString(line); err != nil {
		if errors.Is(err, os.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("writing event log: %w", err)
	}
	return nil
}

// Close closes the file.
func (d *Direct) Close() error {
	return d.f.Close()
}
