package message

import (
	"bytes"
	"errors"
	"io"
	"strings"

	gomessage "github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
)

var envelopePrefix = []byte("From ")

// Parse reads a complete raw message. A leading mbox "From " line is split
// off into Message.Envelope; the remainder must be an internet message.
// Structural failures are returned as *ParseError.
func Parse(raw []byte) (*Message, error) {
	msg := &Message{}

	if bytes.HasPrefix(raw, envelopePrefix) {
		line, rest, found := bytes.Cut(raw, []byte("\n"))
		if !found {
			rest = nil
		}
		msg.Envelope = strings.TrimSuffix(string(line[len(envelopePrefix):]), "\r")
		raw = rest
	}

	entity, err := gomessage.Read(bytes.NewReader(raw))
	if err != nil && !tolerable(err) {
		return nil, &ParseError{Err: err}
	}

	root, err := readPart(entity)
	if err != nil {
		return nil, &ParseError{Err: err}
	}

	msg.Root = root
	msg.Header = root.Header
	return msg, nil
}

// tolerable reports whether go-message handed back a usable entity along
// with err.
func tolerable(err error) bool {
	return gomessage.IsUnknownCharset(err) || gomessage.IsUnknownEncoding(err)
}

// readPart converts an entity and, recursively, its children.
func readPart(e *gomessage.Entity) (*Part, error) {
	p := &Part{}

	for f := e.Header.Fields(); f.Next(); {
		p.Header = append(p.Header, Header{Name: f.Key(), Value: f.Value()})
	}

	if t, _, err := e.Header.ContentType(); err == nil {
		p.ContentType = strings.ToLower(t)
	}
	p.Disposition = disposition(e.Header)

	// Filename falls back to the Content-Type "name" parameter; its error
	// only reports a malformed header, which leaves the name empty.
	ah := mail.AttachmentHeader{Header: e.Header}
	p.Filename, _ = ah.Filename()

	if mr := e.MultipartReader(); mr != nil {
		defer mr.Close()
		for {
			child, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil && !tolerable(err) {
				return nil, err
			}
			c, err := readPart(child)
			if err != nil {
				return nil, err
			}
			p.Children = append(p.Children, c)
		}
		return p, nil
	}

	body, err := io.ReadAll(e.Body)
	if err != nil {
		return nil, err
	}
	p.Body = body

	if p.ContentType == "message/rfc822" {
		inner, err := gomessage.Read(bytes.NewReader(body))
		if err != nil && !tolerable(err) {
			return nil, err
		}
		c, err := readPart(inner)
		if err != nil {
			return nil, err
		}
		p.Children = append(p.Children, c)
	}
	return p, nil
}

// disposition returns the lower-cased disposition token. Malformed
// parameters still yield the leading token.
func disposition(h gomessage.Header) string {
	d, _, err := h.ContentDisposition()
	if err == nil {
		return strings.ToLower(d)
	}
	raw := h.Get("Content-Disposition")
	if i := strings.IndexByte(raw, ';'); i >= 0 {
		raw = raw[:i]
	}
	return strings.ToLower(strings.TrimSpace(raw))
}
