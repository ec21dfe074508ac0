// Package filter implements the per-connection attachment filter: it buffers
// each message as the MTA streams it, and at end of message parses it,
// forwards every attachment and records the outcomes in the event log.
package filter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/textproto"
	"strconv"
	"time"

	"github.com/emersion/go-milter"

	"github.com/infodancer/attachment-milter/internal/dispatch"
	"github.com/infodancer/attachment-milter/internal/eventlog"
	"github.com/infodancer/attachment-milter/internal/logging"
	"github.com/infodancer/attachment-milter/internal/message"
	"github.com/infodancer/attachment-milter/internal/metrics"
)

// ErrProtocol reports a callback that arrived out of protocol order.
var ErrProtocol = errors.New("protocol ordering violation")

// Phase is the position of a session in the milter callback sequence.
type Phase int

const (
	PhaseConnected Phase = iota
	PhaseEnvelope
	PhaseHeaders
	PhaseEndOfHeaders
	PhaseBody
	PhaseEndOfMessage
)

func (p Phase) String() string {
	switch p {
	case PhaseConnected:
		return "connected"
	case PhaseEnvelope:
		return "envelope"
	case PhaseHeaders:
		return "headers"
	case PhaseEndOfHeaders:
		return "end-of-headers"
	case PhaseBody:
		return "body"
	case PhaseEndOfMessage:
		return "end-of-message"
	default:
		return "phase(" + strconv.Itoa(int(p)) + ")"
	}
}

// ParseFunc turns the buffered bytes of one message into a part tree.
type ParseFunc func(raw []byte) (*message.Message, error)

// Config holds the collaborators of a session.
type Config struct {
	// SessionID identifies the connection in every event.
	SessionID string
	Sink      eventlog.Sink
	Pipeline  *dispatch.Pipeline
	// Context bounds the attachment uploads. Defaults to
	// context.Background.
	Context context.Context
	// Logger defaults to the logger carried by Context.
	Logger  *slog.Logger
	Metrics metrics.Collector
	// Clock defaults to time.Now.
	Clock func() time.Time
	// Parse defaults to message.Parse.
	Parse ParseFunc
}

// Session is the filter for one MTA connection. The milter server calls
// its callbacks sequentially and keeps the same session for every message
// on the connection.
type Session struct {
	id       string
	sink     eventlog.Sink
	pipeline *dispatch.Pipeline
	ctx      context.Context
	logger   *slog.Logger
	metrics  metrics.Collector
	clock    func() time.Time
	parse    ParseFunc

	phase Phase
	// buf is nil outside of a message.
	buf      *bytes.Buffer
	helo     string
	lastTime time.Time
}

var _ milter.Milter = (*Session)(nil)

// New creates a session in the connected phase.
func New(cfg Config) *Session {
	s := &Session{
		id:       cfg.SessionID,
		sink:     cfg.Sink,
		pipeline: cfg.Pipeline,
		ctx:      cfg.Context,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		clock:    cfg.Clock,
		parse:    cfg.Parse,
	}
	if s.ctx == nil {
		s.ctx = context.Background()
	}
	if s.logger == nil {
		s.logger = logging.FromContext(s.ctx)
	}
	if s.metrics == nil {
		s.metrics = &metrics.NoopCollector{}
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.parse == nil {
		s.parse = message.Parse
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	return s.phase
}

// now returns the current time, never earlier than a previous call.
func (s *Session) now() time.Time {
	t := s.clock()
	if t.Before(s.lastTime) {
		t = s.lastTime
	}
	s.lastTime = t
	return t
}

// event records a line in the event log. Sink failures are logged and
// otherwise ignored.
func (s *Session) event(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if err := s.sink.Record(s.id, msg, s.now()); err != nil {
		s.metrics.EventLogError()
		s.logger.Warn("failed to record event",
			"event", msg,
			"error", err.Error())
	}
}

func (s *Session) violation(command string) error {
	s.metrics.ProtocolError(command)
	return fmt.Errorf("%w: %s in phase %s", ErrProtocol, command, s.phase)
}

// queueID returns the MTA queue id macro when the MTA sent one.
func queueID(m *milter.Modifier) string {
	if m == nil {
		return ""
	}
	return m.Macros["i"]
}

// Connect starts a new SMTP connection on this session.
func (s *Session) Connect(host string, family string, port uint16, addr net.IP, m *milter.Modifier) (milter.Response, error) {
	s.metrics.CommandProcessed("connect")

	s.buf = nil
	s.helo = ""
	s.phase = PhaseConnected

	var peer string
	switch {
	case addr == nil:
		peer = family
	case family == "tcp4" || family == "tcp6":
		peer = net.JoinHostPort(addr.String(), strconv.Itoa(int(port)))
	default:
		peer = addr.String()
	}

	s.logger.Debug("client connected", "host", host, "family", family, "peer", peer)
	s.event("Connection from %s at address %s", host, peer)
	return milter.RespContinue, nil
}

// Helo records the client's HELO name.
func (s *Session) Helo(name string, m *milter.Modifier) (milter.Response, error) {
	s.metrics.CommandProcessed("helo")
	s.helo = name
	return milter.RespContinue, nil
}

// MailFrom starts a new message, discarding anything buffered so far.
func (s *Session) MailFrom(sender string, m *milter.Modifier) (milter.Response, error) {
	s.metrics.CommandProcessed("mail")

	s.buf = new(bytes.Buffer)
	fmt.Fprintf(s.buf, "From %s %s\n", sender, s.clock().Format(time.ANSIC))
	s.phase = PhaseEnvelope

	s.logger.Debug("message started", "sender", sender, "helo", s.helo, "queue_id", queueID(m))
	return milter.RespContinue, nil
}

// RcptTo accepts a recipient of the current message.
func (s *Session) RcptTo(rcpt string, m *milter.Modifier) (milter.Response, error) {
	s.metrics.CommandProcessed("rcpt")
	if s.buf == nil || s.phase != PhaseEnvelope {
		return nil, s.violation("rcpt")
	}
	return milter.RespContinue, nil
}

// Header appends one header field to the buffered message.
func (s *Session) Header(name, value string, m *milter.Modifier) (milter.Response, error) {
	s.metrics.CommandProcessed("header")
	if s.buf == nil || (s.phase != PhaseEnvelope && s.phase != PhaseHeaders) {
		return nil, s.violation("header")
	}
	fmt.Fprintf(s.buf, "%s: %s\n", name, value)
	s.phase = PhaseHeaders
	return milter.RespContinue, nil
}

// Headers appends the blank line separating headers from the body. The
// collected header map is ignored since the buffer already holds every
// field in arrival order.
func (s *Session) Headers(h textproto.MIMEHeader, m *milter.Modifier) (milter.Response, error) {
	s.metrics.CommandProcessed("eoh")
	if s.buf == nil || (s.phase != PhaseEnvelope && s.phase != PhaseHeaders) {
		return nil, s.violation("eoh")
	}
	s.buf.WriteByte('\n')
	s.phase = PhaseEndOfHeaders
	return milter.RespContinue, nil
}

// BodyChunk appends raw body bytes.
func (s *Session) BodyChunk(chunk []byte, m *milter.Modifier) (milter.Response, error) {
	s.metrics.CommandProcessed("body")
	if s.buf == nil || (s.phase != PhaseEndOfHeaders && s.phase != PhaseBody) {
		return nil, s.violation("body")
	}
	s.buf.Write(chunk)
	s.phase = PhaseBody
	return milter.RespContinue, nil
}

// acceptMessage is the end of message reply. It reports Continue to the
// milter server so the session, and with it the session identifier, stays
// attached to the connection for the next message.
type acceptMessage struct{}

func (acceptMessage) Response() *milter.Message { return milter.RespAccept.Response() }
func (acceptMessage) Continue() bool            { return true }

// Body parses the buffered message, dispatches its attachments and logs
// every outcome. The message is always accepted.
func (s *Session) Body(m *milter.Modifier) (milter.Response, error) {
	s.metrics.CommandProcessed("eob")
	if s.buf == nil || (s.phase != PhaseEndOfHeaders && s.phase != PhaseBody) {
		return nil, s.violation("eob")
	}

	raw := s.buf.Bytes()
	s.buf = nil
	s.phase = PhaseEndOfMessage

	msg, err := s.parse(raw)
	if err != nil {
		s.metrics.ParseFailed()
		s.metrics.MessageProcessed(int64(len(raw)), 0)
		s.logger.Warn("failed to parse message", "size", len(raw), "error", err.Error())
		s.event("Failed to parse message: %v", err)
		return acceptMessage{}, nil
	}

	atts := func(yield func(message.Attachment) bool) {
		for a := range message.Attachments(msg) {
			a.SessionID = s.id
			if !yield(a) {
				return
			}
		}
	}

	outcomes := s.pipeline.Run(s.ctx, atts)
	for _, o := range outcomes {
		s.report(o)
	}

	s.metrics.MessageProcessed(int64(len(raw)), len(outcomes))
	s.logger.Info("message processed",
		"queue_id", queueID(m),
		"size", len(raw),
		"attachments", len(outcomes))
	return acceptMessage{}, nil
}

// report logs the outcome of one dispatch.
func (s *Session) report(o dispatch.Outcome) {
	name := o.Attachment.DisplayName()

	result := metrics.ResultSuccess
	switch {
	case o.Status == dispatch.StatusTransportError:
		result = metrics.ResultTransportError
	case !o.Success:
		result = metrics.ResultFailure
	}
	s.metrics.AttachmentDispatched(result, o.Duration)

	s.logger.Debug("attachment dispatched",
		"index", o.Attachment.Index,
		"filename", name,
		"status", o.Status,
		"result", result,
		"duration", o.Duration)

	if !o.Success {
		s.event("Failed to send attachment %s: %d", name, o.Status)
		s.event("Response: %s", o.Body)
		return
	}

	s.event("Attachment %s sent successfully.", name)
	switch o.ResponseState {
	case dispatch.ResponseBody:
		s.event("Response Body: %s", o.ResponseBody)
	case dispatch.ResponseUnexpected:
		s.event("Unexpected response format: %s", o.Body)
	}
}

// Abort drops the current message. The session waits for a new envelope.
func (s *Session) Abort(m *milter.Modifier) error {
	s.metrics.CommandProcessed("abort")
	s.buf = nil
	s.phase = PhaseConnected
	return nil
}
