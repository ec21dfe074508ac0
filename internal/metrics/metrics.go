// Package metrics provides interfaces and implementations for collecting
// milter metrics. This package defines the Collector interface for
// recording metrics and the Server interface for exposing them.
package metrics

import (
	"context"
	"time"
)

// Dispatch results reported to AttachmentDispatched.
const (
	ResultSuccess        = "success"
	ResultFailure        = "failure"
	ResultTransportError = "transport_error"
)

// Collector defines the interface for recording milter metrics.
type Collector interface {
	// Connection metrics
	ConnectionOpened()
	ConnectionClosed()

	// Command metrics, labelled with the milter command name
	CommandProcessed(command string)
	ProtocolError(command string)

	// Message metrics
	MessageProcessed(sizeBytes int64, attachments int)
	ParseFailed()

	// Dispatch metrics
	// result should be ResultSuccess, ResultFailure or ResultTransportError
	AttachmentDispatched(result string, duration time.Duration)

	// Event log metrics
	EventLogError()
}

// Server defines the interface for a metrics HTTP server.
type Server interface {
	// Start begins serving metrics. It blocks until the context is canceled
	// or an error occurs.
	Start(ctx context.Context) error

	// Shutdown gracefully stops the metrics server.
	Shutdown(ctx context.Context) error
}
