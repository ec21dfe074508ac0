package metrics

import "time"

// NoopCollector is a no-op implementation of the Collector interface.
// All methods are empty stubs that do nothing.
type NoopCollector struct{}

// ConnectionOpened is a no-op.
func (n *NoopCollector) ConnectionOpened() {}

// ConnectionClosed is a no-op.
func (n *NoopCollector) ConnectionClosed() {}

// CommandProcessed is a no-op.
func (n *NoopCollector) CommandProcessed(command string) {}

// ProtocolError is a no-op.
func (n *NoopCollector) ProtocolError(command string) {}

// MessageProcessed is a no-op.
func (n *NoopCollector) MessageProcessed(sizeBytes int64, attachments int) {}

// ParseFailed is a no-op.
func (n *NoopCollector) ParseFailed() {}

// AttachmentDispatched is a no-op.
func (n *NoopCollector) AttachmentDispatched(result string, duration time.Duration) {}

// EventLogError is a no-op.
func (n *NoopCollector) EventLogError() {}
