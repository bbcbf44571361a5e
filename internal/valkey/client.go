package valkey

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// Config holds connection parameters for the monitored instance.
type Config struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
	TLS          bool
}

// Client issues the handful of read-only commands the collector needs. Each
// call dials a fresh connection, so a Client is safe for concurrent use.
type Client struct {
	cfg Config
}

// NewClient creates a Client and pings the target to fail fast when
// credentials or connectivity are incorrect.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}

	normaliseDurations(&cfg)
	client := &Client{cfg: cfg}

	ctx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping valkey %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// Addr returns the target address.
func (c *Client) Addr() string {
	return c.cfg.Addr
}

// Ping checks liveness.
func (c *Client) Ping(ctx context.Context) error {
	reply, err := c.do(ctx, "PING")
	if err != nil {
		return err
	}
	if reply.typ != replySimpleString || string(reply.data) != "PONG" {
		return fmt.Errorf("unexpected PING response: %s", reply.data)
	}
	return nil
}

// Info returns the raw INFO payload for the given sections (all when empty).
func (c *Client) Info(ctx context.Context, sections ...string) (string, error) {
	reply, err := c.do(ctx, "INFO", sections...)
	if err != nil {
		return "", err
	}
	if reply.typ != replyBulkString {
		return "", fmt.Errorf("unexpected valkey reply type %q for INFO", reply.typ)
	}
	return string(reply.data), nil
}

// SlowlogLen returns the number of entries in the slow log.
func (c *Client) SlowlogLen(ctx context.Context) (int64, error) {
	reply, err := c.do(ctx, "SLOWLOG", "LEN")
	if err != nil {
		return 0, err
	}
	if reply.typ != replyInteger {
		return 0, fmt.Errorf("unexpected valkey reply type %q for SLOWLOG LEN", reply.typ)
	}
	return strconv.ParseInt(string(reply.data), 10, 64)
}

func (c *Client) do(ctx context.Context, command string, args ...string) (respReply, error) {
	var out respReply
	err := c.withConn(ctx, func(vc *valkeyConn) error {
		parts := append([]string{command}, args...)
		if err := vc.writeStrings(parts...); err != nil {
			return err
		}
		reply, err := vc.readReply()
		if err != nil {
			return err
		}
		out = reply
		return nil
	})
	return out, err
}

func (c *Client) withConn(ctx context.Context, fn func(*valkeyConn) error) error {
	var lastErr error
	retries := c.cfg.MaxRetries
	if retries <= 0 {
		retries = 1
	}
	for attempt := 0; attempt < retries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		vc, err := c.dial(ctx)
		if err != nil {
			lastErr = err
			if shouldRetry(err) && attempt < retries-1 {
				time.Sleep(backoff(attempt))
				continue
			}
			return err
		}

		if err := c.bootstrap(vc); err != nil {
			vc.close()
			return err
		}

		err = fn(vc)
		vc.close()
		if err == nil {
			return nil
		}
		lastErr = err
		if shouldRetry(err) && attempt < retries-1 {
			time.Sleep(backoff(attempt))
			continue
		}
		return err
	}
	return lastErr
}

func (c *Client) dial(ctx context.Context) (*valkeyConn, error) {
	dialer := net.Dialer{Timeout: deadlineOr(ctx, c.cfg.DialTimeout)}
	var (
		conn net.Conn
		err  error
	)
	if c.cfg.TLS {
		tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, ServerName: hostForTLS(c.cfg.Addr)}
		conn, err = tls.DialWithDialer(&dialer, "tcp", c.cfg.Addr, tlsCfg)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", c.cfg.Addr)
	}
	if err != nil {
		return nil, err
	}
	return &valkeyConn{
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
		cfg:    c.cfg,
	}, nil
}

func (c *Client) bootstrap(vc *valkeyConn) error {
	if c.cfg.Password != "" {
		cmd := []string{"AUTH"}
		if c.cfg.Username != "" {
			cmd = append(cmd, c.cfg.Username)
		}
		cmd = append(cmd, c.cfg.Password)
		if err := vc.expectOK(cmd...); err != nil {
			return fmt.Errorf("auth failed: %w", err)
		}
	}
	if c.cfg.DB > 0 {
		if err := vc.expectOK("SELECT", strconv.Itoa(c.cfg.DB)); err != nil {
			return fmt.Errorf("select failed: %w", err)
		}
	}
	return nil
}

// replyType enumerates the subset of RESP types the client reads.
type replyType string

const (
	replySimpleString replyType = "+"
	replyBulkString   replyType = "$"
	replyInteger      replyType = ":"
	replyNil          replyType = "_"
)

type respReply struct {
	typ  replyType
	data []byte
}

// valkeyConn wraps a network connection with RESP helpers.
type valkeyConn struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	cfg    Config
}

func (vc *valkeyConn) close() {
	_ = vc.conn.Close()
}

func (vc *valkeyConn) expectOK(parts ...string) error {
	if err := vc.writeStrings(parts...); err != nil {
		return err
	}
	reply, err := vc.readReply()
	if err != nil {
		return err
	}
	if reply.typ != replySimpleString || !strings.EqualFold(string(reply.data), "OK") {
		return fmt.Errorf("unexpected reply %q", reply.data)
	}
	return nil
}

func (vc *valkeyConn) writeStrings(parts ...string) error {
	if err := vc.conn.SetWriteDeadline(time.Now().Add(vc.cfg.WriteTimeout)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(vc.writer, "*%d\r\n", len(parts)); err != nil {
		return err
	}
	for _, part := range parts {
		if _, err := fmt.Fprintf(vc.writer, "$%d\r\n%s\r\n", len(part), part); err != nil {
			return err
		}
	}
	return vc.writer.Flush()
}

func (vc *valkeyConn) readReply() (respReply, error) {
	if err := vc.conn.SetReadDeadline(time.Now().Add(vc.cfg.ReadTimeout)); err != nil {
		return respReply{}, err
	}
	prefix, err := vc.reader.ReadByte()
	if err != nil {
		return respReply{}, err
	}
	switch prefix {
	case '+':
		line, err := vc.readLine()
		return respReply{typ: replySimpleString, data: line}, err
	case '-':
		line, err := vc.readLine()
		if err != nil {
			return respReply{}, err
		}
		return respReply{}, &ServerError{Message: string(line)}
	case ':':
		line, err := vc.readLine()
		return respReply{typ: replyInteger, data: line}, err
	case '$':
		line, err := vc.readLine()
		if err != nil {
			return respReply{}, err
		}
		size, err := strconv.Atoi(string(line))
		if err != nil {
			return respReply{}, err
		}
		if size == -1 {
			return respReply{typ: replyNil}, nil
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(vc.reader, buf); err != nil {
			return respReply{}, err
		}
		if buf[size] != '\r' || buf[size+1] != '\n' {
			return respReply{}, fmt.Errorf("invalid line termination")
		}
		return respReply{typ: replyBulkString, data: buf[:size]}, nil
	default:
		return respReply{}, fmt.Errorf("unexpected RESP prefix %q", prefix)
	}
}

func (vc *valkeyConn) readLine() ([]byte, error) {
	line, err := vc.reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return []byte(line), nil
}

// ServerError is an error reply returned by the server.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "valkey: " + e.Message
}

func normaliseDurations(cfg *Config) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 500 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
}

func deadlineOr(ctx context.Context, d time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return time.Millisecond
		}
		if d == 0 || remaining < d {
			return remaining
		}
	}
	if d <= 0 {
		return time.Millisecond
	}
	return d
}

func backoff(attempt int) time.Duration {
	base := 25 * time.Millisecond
	return time.Duration(1<<attempt) * base
}

func shouldRetry(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func hostForTLS(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
