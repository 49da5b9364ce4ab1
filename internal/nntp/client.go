// Package nntp implements the wire-level NNTP client: dialing,
// authentication, and the BODY/STAT/HEAD commands this module needs to
// fetch article bodies and probe article/segment existence.
package nntp

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	nzberrors "github.com/nzbvault/nzbvault/internal/errors"
)

// Config describes how to dial and authenticate against one provider.
type Config struct {
	Host        string
	Port        int
	TLS         bool
	InsecureTLS bool
	Username    string
	Password    string
	DialTimeout time.Duration
}

// Client is a single NNTP connection. It is not safe for concurrent use;
// the pool guarantees exclusive ownership per lease.
type Client struct {
	cfg  Config
	conn net.Conn
	r    *bufio.Reader
}

// Dial opens a TCP (or TLS) connection, reads the server greeting, and
// authenticates if credentials are configured.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Port == 0 {
		cfg.Port = 119
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 15 * time.Second
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	d := &net.Dialer{Timeout: cfg.DialTimeout}

	var conn net.Conn
	var err error
	if cfg.TLS {
		td := &tls.Dialer{NetDialer: d, Config: &tls.Config{ServerName: cfg.Host, InsecureSkipVerify: cfg.InsecureTLS}}
		conn, err = td.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, &nzberrors.ConnectionFaultError{Provider: cfg.Host, Cause: err}
	}

	c := &Client{cfg: cfg, conn: conn, r: bufio.NewReaderSize(conn, 64*1024)}

	line, err := c.readLine()
	if err != nil {
		_ = conn.Close()
		return nil, &nzberrors.ConnectionFaultError{Provider: cfg.Host, Cause: err}
	}
	if !strings.HasPrefix(line, "200") && !strings.HasPrefix(line, "201") {
		_ = conn.Close()
		return nil, &nzberrors.ConnectionFaultError{Provider: cfg.Host, Cause: fmt.Errorf("unexpected greeting: %s", line)}
	}

	if cfg.Username != "" {
		if err := c.auth(); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	return c, nil
}

func (c *Client) auth() error {
	if err := c.send("AUTHINFO USER " + c.cfg.Username); err != nil {
		return err
	}
	line, err := c.readLine()
	if err != nil {
		return err
	}
	if strings.HasPrefix(line, "281") {
		return nil
	}
	if !strings.HasPrefix(line, "381") {
		return fmt.Errorf("authinfo user rejected: %s", line)
	}

	if err := c.send("AUTHINFO PASS " + c.cfg.Password); err != nil {
		return err
	}
	line, err = c.readLine()
	if err != nil {
		return err
	}
	if !strings.HasPrefix(line, "281") {
		return fmt.Errorf("authinfo pass rejected: %s", line)
	}
	return nil
}

func (c *Client) setDeadline(ctx context.Context) {
	deadline := time.Now().Add(2 * time.Minute)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetDeadline(deadline)
}

func (c *Client) send(cmd string) error {
	_, err := c.conn.Write([]byte(cmd + "\r\n"))
	return err
}

func (c *Client) readLine() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Close terminates the session and releases the socket.
func (c *Client) Close() error {
	_ = c.send("QUIT")
	return c.conn.Close()
}

func normalizeMessageID(id string) string {
	id = strings.TrimSpace(id)
	if !strings.HasPrefix(id, "<") {
		id = "<" + id
	}
	if !strings.HasSuffix(id, ">") {
		id = id + ">"
	}
	return id
}

// StatusClass is the first digit of an NNTP response code.
type StatusClass int

const (
	StatusSuccess StatusClass = 2
	StatusMissing StatusClass = 4
	StatusError   StatusClass = 5
)

// ResponseError carries a parsed NNTP status code and line.
type ResponseError struct {
	Code int
	Line string
}

func (e *ResponseError) Error() string { return fmt.Sprintf("nntp: %s", e.Line) }

// IsMissing reports whether the response denotes a missing article
// (430/423/ a 4xx generally), per spec §4.3 step 4.
func (e *ResponseError) IsMissing() bool {
	return e.Code == 430 || e.Code == 423 || e.Code/100 == 4
}

func parseCode(line string) int {
	if len(line) < 3 {
		return 0
	}
	code, err := strconv.Atoi(line[:3])
	if err != nil {
		return 0
	}
	return code
}

// Stat issues STAT <message-id> and returns nil if the server reports
// the article exists (223), or a *ResponseError otherwise.
func (c *Client) Stat(ctx context.Context, messageID string) error {
	c.setDeadline(ctx)
	if err := c.send("STAT " + normalizeMessageID(messageID)); err != nil {
		return &nzberrors.ConnectionFaultError{Cause: err}
	}
	line, err := c.readLine()
	if err != nil {
		return &nzberrors.ConnectionFaultError{Cause: err}
	}
	code := parseCode(line)
	if code/100 == int(StatusSuccess) {
		return nil
	}
	return &ResponseError{Code: code, Line: line}
}

// BodyLines issues BODY <message-id> and returns up to maxLines raw lines
// from the start of the body, without reading the remainder. Used by the
// segment-size oracle (C4) to read just the yEnc header/part markers
// (normally the first one or two lines) without paying for a full
// segment transfer. The connection is left mid-response: callers must
// Destroy the lease afterwards rather than Release it.
func (c *Client) BodyLines(ctx context.Context, messageID string, maxLines int) ([]string, error) {
	c.setDeadline(ctx)
	if err := c.send("BODY " + normalizeMessageID(messageID)); err != nil {
		return nil, &nzberrors.ConnectionFaultError{Cause: err}
	}
	line, err := c.readLine()
	if err != nil {
		return nil, &nzberrors.ConnectionFaultError{Cause: err}
	}
	code := parseCode(line)
	if code != 222 {
		return nil, &ResponseError{Code: code, Line: line}
	}

	lines := make([]string, 0, maxLines)
	for i := 0; i < maxLines; i++ {
		l, err := c.readLine()
		if err != nil {
			return nil, &nzberrors.ConnectionFaultError{Cause: err}
		}
		if l == "." {
			break
		}
		lines = append(lines, l)
	}
	return lines, nil
}

// Head issues HEAD <message-id> and returns the article's header lines.
// Used by the health-check scheduler's periodic full check (spec §4.10),
// which probes more than STAT's bare existence check without paying for
// a full BODY transfer.
func (c *Client) Head(ctx context.Context, messageID string) ([]string, error) {
	c.setDeadline(ctx)
	if err := c.send("HEAD " + normalizeMessageID(messageID)); err != nil {
		return nil, &nzberrors.ConnectionFaultError{Cause: err}
	}
	line, err := c.readLine()
	if err != nil {
		return nil, &nzberrors.ConnectionFaultError{Cause: err}
	}
	code := parseCode(line)
	if code != 221 {
		return nil, &ResponseError{Code: code, Line: line}
	}

	var lines []string
	for {
		l, err := c.readLine()
		if err != nil {
			return nil, &nzberrors.ConnectionFaultError{Cause: err}
		}
		if l == "." {
			break
		}
		lines = append(lines, l)
	}
	return lines, nil
}

// Body issues BODY <message-id> and returns the raw article body
// (dot-stuffing already undone), terminated on the server's "." line.
// The body is NOT yEnc-decoded; that is internal/yenc's job.
func (c *Client) Body(ctx context.Context, messageID string) ([]byte, error) {
	c.setDeadline(ctx)
	if err := c.send("BODY " + normalizeMessageID(messageID)); err != nil {
		return nil, &nzberrors.ConnectionFaultError{Cause: err}
	}
	line, err := c.readLine()
	if err != nil {
		return nil, &nzberrors.ConnectionFaultError{Cause: err}
	}
	code := parseCode(line)
	if code != 222 {
		return nil, &ResponseError{Code: code, Line: line}
	}

	var out []byte
	for {
		l, err := c.r.ReadBytes('\n')
		if err != nil {
			return nil, &nzberrors.ConnectionFaultError{Cause: err}
		}
		trimmed := strings.TrimRight(string(l), "\r\n")
		if trimmed == "." {
			break
		}
		if strings.HasPrefix(trimmed, "..") {
			trimmed = trimmed[1:]
		}
		out = append(out, trimmed...)
		out = append(out, '\n')
	}
	return out, nil
}
