// Package testutil provides message fixtures shared by package tests.
package testutil

import (
	"bytes"
	"encoding/base64"
	"strings"
)

const (
	// OuterBoundary separates the top-level parts of a multipart fixture.
	OuterBoundary = "outer-boundary-7f3a"
	// InnerBoundary separates parts of the nested container in a nested fixture.
	InnerBoundary = "inner-boundary-91c2"
)

// TestHeader is one header field of a fixture.
type TestHeader struct {
	Name  string
	Value string
}

// TestAttachment describes an attachment part. An empty Filename produces
// a bare "attachment" disposition.
type TestAttachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// TestMessage describes a message to feed through a milter session.
type TestMessage struct {
	Headers     []TestHeader
	Text        string
	Attachments []TestAttachment
	// Nested places the attachments inside a multipart/mixed part of the
	// top-level multipart/mixed body.
	Nested bool
	// Forwarded places the attachments inside a multipart/mixed message
	// carried as a message/rfc822 part. It takes precedence over Nested.
	Forwarded bool
}

// DefaultHeaders returns the envelope-ish headers used by most fixtures.
func DefaultHeaders(subject string) []TestHeader {
	return []TestHeader{
		{Name: "From", Value: "sender@example.com"},
		{Name: "To", Value: "recipient@example.org"},
		{Name: "Subject", Value: subject},
	}
}

// PlainMessage returns a single-part text message.
func PlainMessage(subject, text string) TestMessage {
	return TestMessage{Headers: DefaultHeaders(subject), Text: text}
}

// MessageWithAttachments returns a multipart/mixed message carrying atts.
func MessageWithAttachments(subject string, atts ...TestAttachment) TestMessage {
	return TestMessage{
		Headers:     DefaultHeaders(subject),
		Text:        "See attached.",
		Attachments: atts,
	}
}

// HeaderFields returns the headers as they would be passed to the header
// callback, MIME headers included.
func (m TestMessage) HeaderFields() []TestHeader {
	fields := append([]TestHeader(nil), m.Headers...)
	fields = append(fields, TestHeader{Name: "Mime-Version", Value: "1.0"})
	if len(m.Attachments) == 0 {
		fields = append(fields, TestHeader{Name: "Content-Type", Value: "text/plain; charset=utf-8"})
	} else {
		fields = append(fields, TestHeader{Name: "Content-Type", Value: `multipart/mixed; boundary="` + OuterBoundary + `"`})
	}
	return fields
}

// Body returns the raw body bytes following the header block.
func (m TestMessage) Body() []byte {
	if len(m.Attachments) == 0 {
		return []byte(m.Text)
	}

	var b bytes.Buffer
	writeTextPart(&b, OuterBoundary, m.Text)

	switch {
	case m.Forwarded:
		b.WriteString("--" + OuterBoundary + "\r\n")
		b.WriteString("Content-Type: message/rfc822\r\n\r\n")
		b.WriteString("Subject: forwarded\r\n")
		b.WriteString("Mime-Version: 1.0\r\n")
		b.WriteString(`Content-Type: multipart/mixed; boundary="` + InnerBoundary + `"` + "\r\n\r\n")
		writeTextPart(&b, InnerBoundary, "Forwarded message.")
		for _, a := range m.Attachments {
			writeAttachmentPart(&b, InnerBoundary, a)
		}
		b.WriteString("--" + InnerBoundary + "--\r\n")
	case m.Nested:
		b.WriteString("--" + OuterBoundary + "\r\n")
		b.WriteString(`Content-Type: multipart/mixed; boundary="` + InnerBoundary + `"` + "\r\n\r\n")
		for _, a := range m.Attachments {
			writeAttachmentPart(&b, InnerBoundary, a)
		}
		b.WriteString("--" + InnerBoundary + "--\r\n")
	default:
		for _, a := range m.Attachments {
			writeAttachmentPart(&b, OuterBoundary, a)
		}
	}

	b.WriteString("--" + OuterBoundary + "--\r\n")
	return b.Bytes()
}

// Bytes renders the complete message.
func (m TestMessage) Bytes() []byte {
	var b bytes.Buffer
	for _, h := range m.HeaderFields() {
		b.WriteString(h.Name + ": " + h.Value + "\r\n")
	}
	b.WriteString("\r\n")
	b.Write(m.Body())
	return b.Bytes()
}

// Chunks splits the body into pieces of at most size bytes.
func (m TestMessage) Chunks(size int) [][]byte {
	body := m.Body()
	var chunks [][]byte
	for len(body) > 0 {
		n := min(size, len(body))
		chunks = append(chunks, body[:n])
		body = body[n:]
	}
	return chunks
}

func writeTextPart(b *bytes.Buffer, boundary, text string) {
	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(text + "\r\n")
}

func writeAttachmentPart(b *bytes.Buffer, boundary string, a TestAttachment) {
	contentType := a.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Type: " + contentType + "\r\n")
	b.WriteString("Content-Transfer-Encoding: base64\r\n")
	if a.Filename != "" {
		b.WriteString(`Content-Disposition: attachment; filename="` + a.Filename + `"` + "\r\n\r\n")
	} else {
		b.WriteString("Content-Disposition: attachment\r\n\r\n")
	}
	b.WriteString(wrap(base64.StdEncoding.EncodeToString(a.Data), 76))
	b.WriteString("\r\n")
}

func wrap(s string, width int) string {
	var lines []string
	for len(s) > width {
		lines = append(lines, s[:width])
		s = s[width:]
	}
	lines = append(lines, s)
	return strings.Join(lines, "\r\n")
}
