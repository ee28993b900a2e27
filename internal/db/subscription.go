package db

import (
	"context"
	"sync"
)

// subscription delivers snapshots to one callback, in order, on its own
// goroutine. Producers never block: snapshots queue until the callback is free.
type subscription struct {
	mu       sync.Mutex
	queue    [][]Document
	err      error
	onChange func([]Document)
	onClose  func()

	wake      chan struct{}
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newSubscription(ctx context.Context, onChange func([]Document), onClose func()) *subscription {
	s := &subscription{
		onChange: onChange,
		onClose:  onClose,
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.run()
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.quit:
		}
	}()
	return s
}

// push queues a snapshot for delivery.
func (s *subscription) push(docs []Document) {
	s.mu.Lock()
	select {
	case <-s.quit:
		s.mu.Unlock()
		return
	default:
	}
	s.queue = append(s.queue, docs)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// fail ends the subscription because its source broke.
func (s *subscription) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.Close()
}

func (s *subscription) run() {
	defer close(s.done)
	for {
		select {
		case <-s.quit:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			next := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case <-s.quit:
				return
			default:
			}
			s.onChange(next)
		}
	}
}

func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		close(s.quit)
		s.queue = nil
		s.mu.Unlock()
		if s.onClose != nil {
			s.onClose()
		}
	})
	return nil
}

func (s *subscription) Done() <-chan struct{} { return s.done }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
