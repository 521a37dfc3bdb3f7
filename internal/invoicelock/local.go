package invoicelock

import (
	"context"
	"sync"

	"github.com/bwmarrin/snowflake"
)

type slot struct {
	ch   chan struct{}
	refs int
}

// LocalLocker is a process-local keyed mutex. Slots are dropped once no
// caller holds or waits on them.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[snowflake.ID]*slot
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[snowflake.ID]*slot)}
}

func (l *LocalLocker) Lock(ctx context.Context, invoiceID snowflake.ID) (func(), error) {
	s := l.acquire(invoiceID)
	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(invoiceID, s)
		return nil, ErrLockTimeout
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.release(invoiceID, s)
		})
	}, nil
}

func (l *LocalLocker) acquire(invoiceID snowflake.ID) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[invoiceID]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[invoiceID] = s
	}
	s.refs++
	return s
}

func (l *LocalLocker) release(invoiceID snowflake.ID, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, invoiceID)
	}
}

func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
