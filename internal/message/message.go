// Package message turns a buffered milter message into a part tree and
// extracts its attachments.
package message

import (
	"fmt"
	"strings"
)

// Header is a single header field in the order it appeared.
type Header struct {
	Name  string
	Value string
}

// Part is a node of a message's content tree. Leaf parts carry a
// transfer-decoded payload; multipart containers carry children instead.
// A message/rfc822 part keeps its raw bytes and carries the encapsulated
// message as its only child.
type Part struct {
	Header      []Header
	ContentType string
	// Disposition is the lower-cased disposition token, empty when absent.
	Disposition string
	// Filename is empty when the part does not name one.
	Filename string
	Body     []byte
	Children []*Part
}

// IsMultipart reports whether the part is a multipart container.
func (p *Part) IsMultipart() bool {
	return strings.HasPrefix(p.ContentType, "multipart/")
}

// IsAttachment reports whether the part's disposition marks it as an attachment.
func (p *Part) IsAttachment() bool {
	return strings.EqualFold(p.Disposition, "attachment")
}

// Message is a parsed message.
type Message struct {
	// Envelope is the mbox-style "From " line written at envelope start,
	// without the leading "From " and trailing newline.
	Envelope string
	Header   []Header
	Root     *Part
}

// HeaderValues returns all values of the named top-level header, in order.
func (m *Message) HeaderValues(name string) []string {
	var values []string
	for _, h := range m.Header {
		if strings.EqualFold(h.Name, name) {
			values = append(values, h.Value)
		}
	}
	return values
}

// Attachment is a read-only view of an attachment part, valid while the
// message pass that produced it is running.
type Attachment struct {
	SessionID   string
	Index       int
	Filename    string
	ContentType string
	Payload     []byte
}

// DisplayName is the filename used in log events.
func (a Attachment) DisplayName() string {
	if a.Filename == "" {
		return "None"
	}
	return a.Filename
}

// ParseError reports a message whose structure could not be read.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse message: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
