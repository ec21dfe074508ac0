// Package dispatch forwards extracted attachments to an artifact ingestion
// endpoint and classifies the result.
package dispatch

import (
	"context"
	"time"

	"github.com/infodancer/attachment-milter/internal/message"
)

// FieldName is the multipart form field that carries the attachment.
const FieldName = "file"

// StatusTransportError is the Outcome status when no HTTP response was
// received at all.
const StatusTransportError = -1

// ResponseState describes what could be read from a successful response.
type ResponseState int

const (
	// ResponseNone means the dispatch failed and nothing was decoded.
	ResponseNone ResponseState = iota
	// ResponseBody means the response was a non-empty JSON array and
	// Outcome.ResponseBody holds the first element's body field.
	ResponseBody
	// ResponseUnexpected means the response did not have the expected
	// shape, including a first element without a body field.
	ResponseUnexpected
)

// Outcome is the result of one dispatch attempt.
type Outcome struct {
	Attachment message.Attachment
	Success    bool
	// Status is the HTTP status code, or StatusTransportError.
	Status int
	// Body is the raw response text.
	Body string
	// Err holds the transport error when Status is StatusTransportError.
	Err error

	ResponseState ResponseState
	ResponseBody  string

	Duration time.Duration
}

// Dispatcher sends one attachment. Implementations report every failure
// through the Outcome and never panic.
type Dispatcher interface {
	Dispatch(ctx context.Context, att message.Attachment) Outcome
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, att message.Attachment) Outcome

// Dispatch calls f.
func (f DispatcherFunc) Dispatch(ctx context.Context, att message.Attachment) Outcome {
	return f(ctx, att)
}
