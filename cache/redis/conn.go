package redis

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strconv"
	"time"
)

type conn struct {
	nc     net.Conn
	r      *bufio.Reader
	buf    []byte
	opts   Options
	broken bool
}

func dialConn(ctx context.Context, opts Options, dial dialFunc) (*conn, error) {
	nc, err := dial(ctx, opts)
	if err != nil {
		return nil, err
	}
	c := &conn{nc: nc, r: bufio.NewReader(nc), opts: opts}
	if err := c.handshake(ctx); err != nil {
		_ = nc.Close()
		return nil, err
	}
	return c, nil
}

func (c *conn) handshake(ctx context.Context) error {
	var steps [][]string
	if c.opts.Password != "" {
		steps = append(steps, []string{"AUTH", c.opts.Password})
	}
	if c.opts.DB > 0 {
		steps = append(steps, []string{"SELECT", strconv.Itoa(c.opts.DB)})
	}
	for _, parts := range steps {
		reply, err := c.roundTrip(ctx, parts...)
		if err != nil {
			return err
		}
		if !isOK(reply) {
			return errors.New("redis: " + parts[0] + " rejected")
		}
	}
	return nil
}

func (c *conn) roundTrip(ctx context.Context, parts ...string) (any, error) {
	if err := c.write(ctx, parts...); err != nil {
		return nil, err
	}
	return c.read(ctx)
}

func (c *conn) write(ctx context.Context, parts ...string) error {
	if err := c.nc.SetWriteDeadline(deadline(ctx, c.opts.WriteTimeout)); err != nil {
		return c.fail(err)
	}
	c.buf = appendCommand(c.buf[:0], parts...)
	if _, err := c.nc.Write(c.buf); err != nil {
		return c.fail(err)
	}
	return nil
}

func (c *conn) read(ctx context.Context) (any, error) {
	if err := c.nc.SetReadDeadline(deadline(ctx, c.opts.ReadTimeout)); err != nil {
		return nil, c.fail(err)
	}
	reply, err := readReply(c.r)
	if err != nil {
		var se ServerError
		if errors.As(err, &se) {
			return nil, err
		}
		return nil, c.fail(err)
	}
	return reply, nil
}

// fail marks the connection unusable; any I/O or framing error leaves the
// stream position unknown.
func (c *conn) fail(err error) error {
	c.broken = true
	return err
}

func (c *conn) close() error { return c.nc.Close() }

// deadline is the earlier of now+d and the ctx deadline. The zero time means
// no deadline.
func deadline(ctx context.Context, d time.Duration) time.Time {
	var t time.Time
	if d > 0 {
		t = time.Now().Add(d)
	}
	if ctx == nil {
		return t
	}
	if dl, ok := ctx.Deadline(); ok && (t.IsZero() || dl.Before(t)) {
		return dl
	}
	return t
}

func defaultDial(ctx context.Context, opts Options) (net.Conn, error) {
	d := net.Dialer{Timeout: opts.DialTimeout}
	return d.DialContext(ctx, "tcp", opts.Addr)
}
