package redis

import (
	"context"
	"errors"
	"slices"
	"sync"
)

var ErrPipelineClosed = errors.New("redis: pipeline closed")

// Pipeline holds one connection and batches commands so all replies are read
// after a single write phase. Exec or Close releases the connection.
type Pipeline struct {
	store *Store
	conn  *conn
	cmds  [][]string

	mu     sync.Mutex
	closed bool
}

func (s *Store) Pipeline(ctx context.Context) (*Pipeline, error) {
	c, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &Pipeline{store: s, conn: c}, nil
}

// Queue appends one command. It is a no-op once the pipeline is closed.
func (p *Pipeline) Queue(parts ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.cmds = append(p.cmds, slices.Clone(parts))
	}
}

// Exec writes every queued command, then reads the replies in order. Server
// error replies are returned in place as ServerError values.
func (p *Pipeline) Exec(ctx context.Context) ([]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPipelineClosed
	}
	defer p.closeLocked()
	if len(p.cmds) == 0 {
		return nil, nil
	}

	for _, cmd := range p.cmds {
		if err := ctxErr(ctx); err != nil {
			p.conn.broken = true
			return nil, err
		}
		if err := p.conn.write(ctx, cmd...); err != nil {
			return nil, err
		}
	}
	replies := make([]any, len(p.cmds))
	for i := range replies {
		reply, err := p.conn.read(ctx)
		var se ServerError
		switch {
		case errors.As(err, &se):
			replies[i] = se
		case err != nil:
			return nil, err
		default:
			replies[i] = reply
		}
	}
	return replies, nil
}

func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
}

func (p *Pipeline) closeLocked() {
	if p.closed {
		return
	}
	p.closed = true
	p.store.release(p.conn)
}
