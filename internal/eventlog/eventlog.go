// Package eventlog records session-correlated events for the milter.
//
// Three sinks are provided: Buffered hands lines to one background writer
// through a bounded queue, Direct appends each line to a file as it is
// recorded, and Redis pushes lines onto a list.
package eventlog

import (
	"errors"
	"fmt"
	"time"
)

// TimeLayout is the timestamp format of a log line, in local time.
const TimeLayout = "2006-Jan-02 15:04:05"

// ErrClosed is returned by Record after the sink has been closed.
var ErrClosed = errors.New("event log closed")

// Event is a single log record.
type Event struct {
	SessionID string
	Message   string
	Time      time.Time
}

// Line formats e as "<timestamp> [<session id>] <message>".
func (e Event) Line() string {
	return fmt.Sprintf("%s [%s] %s", e.Time.Local().Format(TimeLayout), e.SessionID, e.Message)
}

// Sink records events. Implementations are safe for concurrent use by
// many sessions.
type Sink interface {
	Record(sessionID, message string, ts time.Time) error
	Close() error
}

// Type names a sink implementation in configuration.
type Type string

const (
	TypeBuffered Type = "buffered"
	TypeDirect   Type = "direct"
	TypeRedis    Type = "redis"
)
