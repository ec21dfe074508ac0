package main

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/infodancer/attachment-milter/internal/config"
	"github.com/infodancer/attachment-milter/internal/dispatch"
	"github.com/infodancer/attachment-milter/internal/eventlog"
	"github.com/infodancer/attachment-milter/internal/metrics"
	"github.com/infodancer/attachment-milter/internal/server"
	"github.com/infodancer/attachment-milter/internal/testutil"
)

// startMilter runs a milter server on a loopback port and returns its
// address. The returned stop function shuts it down and closes sink.
func startMilter(t *testing.T, sink eventlog.Sink, endpoint string) (string, func()) {
	t.Helper()

	cfg := config.Default()
	cfg.Listeners = []config.ListenerConfig{{Address: "127.0.0.1:0"}}

	srv, err := server.New(&cfg, nil)
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	h := &milterHandler{
		sink:     sink,
		pipeline: dispatch.NewPipeline(dispatch.NewHTTPDispatcher(endpoint, 5*time.Second), 2),
		metrics:  &metrics.NoopCollector{},
	}
	srv.SetMilter(h.newMilter)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	var addr net.Addr
	deadline := time.Now().Add(2 * time.Second)
	for addr == nil && time.Now().Before(deadline) {
		if ls := srv.Listeners(); len(ls) > 0 {
			addr = ls[0].Addr()
		}
		if addr == nil {
			time.Sleep(5 * time.Millisecond)
		}
	}
	if addr == nil {
		cancel()
		t.Fatal("milter did not start")
	}

	stop := func() {
		cancel()
		<-done
		_ = sink.Close()
	}
	return addr.String(), stop
}

func TestCheckAgainstServer(t *testing.T) {
	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hdr, err := r.FormFile(dispatch.FieldName)
		if err != nil || hdr.Filename == "broken.bin" {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("rejected"))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`[{"body":"stored ` + hdr.Filename + `"}]`))
	}))
	defer endpoint.Close()

	var events bytes.Buffer
	sink := eventlog.NewBuffered(&events, 4, nil)
	addr, stop := startMilter(t, sink, endpoint.URL)

	msg := testutil.MessageWithAttachments("invoice",
		testutil.TestAttachment{Filename: "invoice.pdf", ContentType: "application/pdf", Data: []byte("pdf bytes")},
		testutil.TestAttachment{Filename: "broken.bin", Data: []byte{0, 1, 2}},
	)

	var out bytes.Buffer
	err := check(checkOptions{
		address:  addr,
		hostname: "client.example.com",
		family:   "4",
		port:     4025,
		connAddr: "198.51.100.7",
		helo:     "client.example.com",
		from:     "sender@example.com",
		rcpts:    []string{"recipient@example.org"},
		timeout:  10 * time.Second,
	}, bytes.NewReader(msg.Bytes()), &out)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	stop()

	if !strings.HasSuffix(out.String(), "EOB: accept\n") {
		t.Errorf("check output:\n%s\nwant final accept", out.String())
	}
	if !strings.Contains(out.String(), "CONNECT: continue") {
		t.Errorf("check output missing connect decision:\n%s", out.String())
	}

	log := events.String()
	for _, want := range []string{
		"Connection from client.example.com at address 198.51.100.7:4025",
		"Attachment invoice.pdf sent successfully.",
		"Response Body: stored invoice.pdf",
		"Failed to send attachment broken.bin: 500",
		"Response: rejected",
	} {
		if !strings.Contains(log, want) {
			t.Errorf("event log missing %q:\n%s", want, log)
		}
	}
	if strings.Index(log, "invoice.pdf sent") > strings.Index(log, "broken.bin: 500") {
		t.Errorf("outcomes logged out of attachment order:\n%s", log)
	}
}

func TestCheckBadAddress(t *testing.T) {
	err := check(checkOptions{address: "nonsense", family: "4", timeout: time.Second}, strings.NewReader(""), &bytes.Buffer{})
	if err == nil {
		t.Error("expected error for invalid address")
	}
}
