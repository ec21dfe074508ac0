package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/infodancer/attachment-milter/internal/message"
)

// DefaultTimeout bounds a single upload when none is configured.
const DefaultTimeout = 30 * time.Second

// maxResponseSize caps how much of a response body is read.
const maxResponseSize = 1 << 20

// HTTPDispatcher uploads attachments as multipart/form-data POST requests.
type HTTPDispatcher struct {
	url        string
	httpClient *http.Client
}

// NewHTTPDispatcher creates a dispatcher posting to url. A non-positive
// timeout selects DefaultTimeout.
func NewHTTPDispatcher(url string, timeout time.Duration) *HTTPDispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPDispatcher{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// URL returns the endpoint attachments are posted to.
func (d *HTTPDispatcher) URL() string {
	return d.url
}

// Dispatch uploads att. Only a 201 response counts as success.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, att message.Attachment) Outcome {
	start := time.Now()
	out := d.dispatch(ctx, att)
	out.Attachment = att
	out.Duration = time.Since(start)
	return out
}

func (d *HTTPDispatcher) dispatch(ctx context.Context, att message.Attachment) Outcome {
	body, contentType, err := encodeForm(att)
	if err != nil {
		return transportFailure(fmt.Errorf("encoding form: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, body)
	if err != nil {
		return transportFailure(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return transportFailure(fmt.Errorf("sending request: %w", err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil && resp.StatusCode == http.StatusCreated {
		return transportFailure(fmt.Errorf("reading response: %w", err))
	}

	out := Outcome{
		Status: resp.StatusCode,
		Body:   string(data),
	}
	if resp.StatusCode != http.StatusCreated {
		return out
	}

	out.Success = true
	out.ResponseState, out.ResponseBody = decodeResponse(data)
	return out
}

func transportFailure(err error) Outcome {
	return Outcome{Status: StatusTransportError, Err: err, Body: err.Error()}
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// encodeForm builds the request body. Without a filename the payload is sent
// as a plain form value.
func encodeForm(att message.Attachment) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	if att.Filename == "" {
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"`, FieldName))
	} else {
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			FieldName, quoteEscaper.Replace(att.Filename)))
		ct := att.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
	}

	pw, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := pw.Write(att.Payload); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

// decodeResponse extracts the body field of the first element of a JSON
// array response.
func decodeResponse(data []byte) (ResponseState, string) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil || len(items) == 0 {
		return ResponseUnexpected, ""
	}

	var first map[string]json.RawMessage
	if err := json.Unmarshal(items[0], &first); err != nil || first == nil {
		return ResponseUnexpected, ""
	}

	raw, ok := first["body"]
	if !ok {
		return ResponseUnexpected, ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return ResponseBody, s
	}
	return ResponseBody, string(raw)
}
