package model

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("session pool closed")

// Pool lends independent sessions to one caller at a time.
// A pool of size one serialises every Run.
type Pool struct {
	sessions []Session
	idle     chan Session
	done     chan struct{}
	once     sync.Once
	closeErr error
}

// NewPool opens size sessions from rt. Sessions opened before a failure are closed.
func NewPool(rt Runtime, sig *Signature, size int) (*Pool, error) {
	if size < 1 {
		size = 1
	}

	p := &Pool{
		sessions: make([]Session, 0, size),
		idle:     make(chan Session, size),
		done:     make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		s, err := rt.Open(sig)
		if err != nil {
			p.Close()
			if errors.Is(err, ErrModelLoad) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: session %d: %v", ErrModelLoad, i, err)
		}
		p.sessions = append(p.sessions, s)
		p.idle <- s
	}
	return p, nil
}

// Size reports how many sessions the pool owns.
func (p *Pool) Size() int {
	return len(p.sessions)
}

// Acquire borrows a session, waiting until one is free or ctx ends.
func (p *Pool) Acquire(ctx context.Context) (Session, error) {
	select {
	case <-p.done:
		return nil, ErrPoolClosed
	default:
	}

	select {
	case s := <-p.idle:
		return s, nil
	case <-p.done:
		return nil, ErrPoolClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release hands a borrowed session back.
func (p *Pool) Release(s Session) {
	if s == nil {
		return
	}
	p.idle <- s
}

// Close closes every session. Callers must have released their sessions.
// Calling Close more than once is a no-op.
func (p *Pool) Close() error {
	p.once.Do(func() {
		close(p.done)
		var errs []error
		for _, s := range p.sessions {
			if err := s.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		p.closeErr = errors.Join(errs...)
	})
	return p.closeErr
}
