package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-message/textproto"
	"github.com/emersion/go-milter"

	"github.com/infodancer/attachment-milter/internal/config"
)

// runCheck plays the MTA side of one transaction against a running milter,
// reading the message from stdin, and prints every decision.
func runCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	address := fs.String("address", "inet:9900@localhost", "Milter address (host:port, inet:port@host, unix:/path)")
	hostname := fs.String("hostname", "localhost", "Value to send in CONNECT")
	family := fs.String("family", "4", "Protocol family to send in CONNECT (U, L, 4, 6)")
	port := fs.Uint("port", 2525, "Port to send in CONNECT")
	connAddr := fs.String("conn-addr", "127.0.0.1", "Client address to send in CONNECT")
	helo := fs.String("helo", "localhost", "Value to send in HELO")
	mailFrom := fs.String("from", "sender@example.com", "Envelope sender")
	rcptTo := fs.String("rcpt", "recipient@example.com", "Comma-separated envelope recipients")
	timeout := fs.Duration("timeout", 2*time.Minute, "Read and write timeout for each milter reply")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	if err := check(checkOptions{
		address:  *address,
		hostname: *hostname,
		family:   *family,
		port:     uint16(*port),
		connAddr: *connAddr,
		helo:     *helo,
		from:     *mailFrom,
		rcpts:    strings.Split(*rcptTo, ","),
		timeout:  *timeout,
	}, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "check: %v\n", err)
		os.Exit(1)
	}
}

type checkOptions struct {
	address  string
	hostname string
	family   string
	port     uint16
	connAddr string
	helo     string
	from     string
	rcpts    []string
	timeout  time.Duration
}

// actionName names the reply codes a client session can return.
func actionName(code milter.ActionCode) string {
	switch code {
	case milter.ActAccept:
		return "accept"
	case milter.ActContinue:
		return "continue"
	case milter.ActDiscard:
		return "discard"
	case milter.ActReject:
		return "reject"
	case milter.ActTempFail:
		return "tempfail"
	case milter.ActReplyCode:
		return "reply code"
	default:
		return fmt.Sprintf("code %q", rune(code))
	}
}

func check(opts checkOptions, in io.Reader, out io.Writer) error {
	network, address, err := config.ParseAddress(opts.address)
	if err != nil {
		return err
	}
	if opts.family == "" {
		return errors.New("empty protocol family")
	}

	c := milter.NewClientWithOptions(network, address, milter.ClientOptions{
		ReadTimeout:  opts.timeout,
		WriteTimeout: opts.timeout,
	})
	defer func() { _ = c.Close() }()

	s, err := c.Session()
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	// step prints a reply and reports whether the transaction may go on.
	step := func(prefix string) func(*milter.Action, error) (bool, error) {
		return func(act *milter.Action, err error) (bool, error) {
			if err != nil {
				return false, err
			}
			fmt.Fprintln(out, prefix, actionName(act.Code))
			return act.Code == milter.ActContinue, nil
		}
	}

	ok, err := step("CONNECT:")(s.Conn(opts.hostname, milter.ProtoFamily(opts.family[0]), opts.port, opts.connAddr))
	if !ok {
		return err
	}
	if ok, err = step("HELO:")(s.Helo(opts.helo)); !ok {
		return err
	}
	if ok, err = step("MAIL:")(s.Mail(opts.from, nil)); !ok {
		return err
	}
	for _, rcpt := range opts.rcpts {
		if ok, err = step("RCPT:")(s.Rcpt(strings.TrimSpace(rcpt), nil)); !ok {
			return err
		}
	}

	r := bufio.NewReader(in)
	hdr, err := textproto.ReadHeader(r)
	if err != nil {
		return fmt.Errorf("header parse: %w", err)
	}
	for f := hdr.Fields(); f.Next(); {
		if ok, err = step("HEADER:")(s.HeaderField(f.Key(), f.Value())); !ok {
			return err
		}
	}
	if ok, err = step("EOH:")(s.HeaderEnd()); !ok {
		return err
	}

	buf := make([]byte, milter.MaxBodyChunk)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if ok, err = step("BODY:")(s.BodyChunk(buf[:n])); !ok {
				return err
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return fmt.Errorf("reading message: %w", rerr)
		}
	}

	mods, act, err := s.End()
	if err != nil {
		return err
	}
	if len(mods) > 0 {
		fmt.Fprintln(out, "MODIFICATIONS:", len(mods))
	}
	fmt.Fprintln(out, "EOB:", actionName(act.Code))
	return nil
}
