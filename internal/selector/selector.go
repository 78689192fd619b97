// Package selector implements the fixed-size selector thread pool of
// spec §4.3: each Selector owns one epoll instance and a task queue;
// every channel is bound to exactly one Selector for its lifetime, and
// all registration, cancellation, and readiness dispatch funnels
// through that Selector's own goroutine. Grounded on the single-owner,
// task-queue-drained event loop style of the teacher's
// disruptor.EventProcessor run loop, adapted from a ring-buffer consumer
// loop to an epoll readiness loop.
package selector

import (
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// selectTimeout bounds each epoll_wait call so the loop periodically
// drains its task queue even with no ready fds (spec §4.3: "select()
// with a small timeout; drain task queue").
const selectTimeout = 50 * time.Millisecond

// Selector owns one epoll fd and one goroutine. All of its exported
// methods enqueue work onto that goroutine rather than mutating state
// directly, because concurrent mutation of an active epoll set from
// outside its owning thread is unsafe (spec §4.3).
type Selector struct {
	epfd  int
	tasks chan func()
	done  chan struct{}

	mu   sync.Mutex
	keys map[int]*Key
}

// New creates a Selector and starts its run loop in a new goroutine.
func New() (*Selector, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, fmt.Errorf("selector: epoll_create1: %w", err)
	}
	s := &Selector{
		epfd:  epfd,
		tasks: make(chan func(), 256),
		done:  make(chan struct{}),
		keys:  make(map[int]*Key),
	}
	go s.loop()
	return s, nil
}

// Enqueue schedules fn to run inside the selector's own goroutine. Safe
// to call from any goroutine.
func (s *Selector) Enqueue(fn func()) {
	select {
	case s.tasks <- fn:
	case <-s.done:
	}
}

// Wakeup enqueues a no-op task. It does not interrupt an in-progress
// epoll_wait: queued tasks run once the current wait returns, which
// selectTimeout bounds.
func (s *Selector) Wakeup() {
	s.Enqueue(func() {})
}

// Shutdown signals the loop to exit, cancelling every registered key and
// failing nothing further. Tasks still queued when the loop exits are
// dropped without running, and Shutdown returns without waiting for the
// loop to exit.
func (s *Selector) Shutdown() {
	close(s.done)
}

func (s *Selector) loop() {
	events := make([]unix.EpollEvent, 64)
	for {
		select {
		case <-s.done:
			s.closeAll()
			unix.Close(s.epfd)
			return
		default:
		}

		n, err := unix.EpollWait(s.epfd, events, int(selectTimeout/time.Millisecond))
		if err != nil && err != unix.EINTR {
			log.Printf("selector: epoll_wait: %v", err)
		}

		for i := 0; i < n; i++ {
			s.dispatch(events[i])
		}

		s.drainTasks()
	}
}

func (s *Selector) drainTasks() {
	for {
		select {
		case fn := <-s.tasks:
			fn()
		case <-s.done:
			return
		default:
			return
		}
	}
}

func (s *Selector) dispatch(ev unix.EpollEvent) {
	s.mu.Lock()
	key, ok := s.keys[int(ev.Fd)]
	s.mu.Unlock()
	if !ok || key.cancelled {
		return
	}

	readable := ev.Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0
	writable := ev.Events&unix.EPOLLOUT != 0

	if readable && key.interest&InterestAccept != 0 && key.acceptor != nil {
		key.acceptor.Accept(key)
		return
	}
	if writable && key.interest&InterestConnect != 0 && key.processor != nil {
		key.interest &^= InterestConnect
		key.processor.Connect(key)
		return
	}
	if readable && key.interest&InterestRead != 0 && key.processor != nil {
		key.processor.Read(key)
	}
	if writable && key.interest&InterestWrite != 0 && key.processor != nil {
		key.processor.Write(key)
	}
}

func (s *Selector) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for fd, k := range s.keys {
		k.cancelled = true
		unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	}
	s.keys = make(map[int]*Key)
}

// epollEventsFor translates a Key's logical interest bits into the
// epoll event mask to register.
func epollEventsFor(i Interest) uint32 {
	var mask uint32
	if i&(InterestAccept|InterestRead) != 0 {
		mask |= unix.EPOLLIN
	}
	if i&(InterestConnect|InterestWrite) != 0 {
		mask |= unix.EPOLLOUT
	}
	return mask
}

// registerKey adds fd to the epoll set with the given interest and
// tracks the Key. Must run inside the loop goroutine.
func (s *Selector) registerKey(k *Key) error {
	ev := unix.EpollEvent{Events: epollEventsFor(k.interest), Fd: int32(k.fd)}
	if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, k.fd, &ev); err != nil {
		return fmt.Errorf("selector: epoll_ctl add: %w", err)
	}
	s.mu.Lock()
	s.keys[k.fd] = k
	s.mu.Unlock()
	k.owner = s
	return nil
}

// ModifyInterest changes a registered key's interest set. Must be
// called via Enqueue from outside the selector's own goroutine.
func (s *Selector) ModifyInterest(k *Key, interest Interest) error {
	k.interest = interest
	ev := unix.EpollEvent{Events: epollEventsFor(interest), Fd: int32(k.fd)}
	return unix.EpollCtl(s.epfd, unix.EPOLL_CTL_MOD, k.fd, &ev)
}

// AddInterest ORs additional bits into a key's interest set (used by
// wakeup_writer to re-assert WRITE interest, spec §4.4).
func (s *Selector) AddInterest(k *Key, bits Interest) {
	s.Enqueue(func() {
		if k.cancelled {
			return
		}
		s.ModifyInterest(k, k.interest|bits)
	})
}

// ClearInterest clears bits from a key's interest set.
func (s *Selector) ClearInterest(k *Key, bits Interest) {
	s.Enqueue(func() {
		if k.cancelled {
			return
		}
		s.ModifyInterest(k, k.interest&^bits)
	})
}

// Bind registers a listening socket for ACCEPT readiness (spec §4.3).
// onDone is invoked with an error (nil on success) once registration
// completes inside the loop.
func (s *Selector) Bind(fd int, acceptor Acceptor, onDone func(*Key, error)) {
	s.Enqueue(func() {
		k := &Key{fd: fd, interest: InterestAccept, acceptor: acceptor}
		err := s.registerKey(k)
		if err != nil {
			onDone(nil, err)
			return
		}
		onDone(k, nil)
	})
}

// Connect registers a connecting socket for CONNECT readiness. Once
// writable, the loop clears InterestConnect and invokes
// processor.Connect, which is expected to call RegisterReadWrite to
// move to steady-state OPEN readiness.
func (s *Selector) Connect(fd int, processor Processor, onDone func(*Key, error)) {
	s.Enqueue(func() {
		k := &Key{fd: fd, interest: InterestConnect, processor: processor}
		err := s.registerKey(k)
		if err != nil {
			onDone(nil, err)
			return
		}
		onDone(k, nil)
	})
}

// Register is used after accept: register immediately for READ/WRITE
// (spec §4.3).
func (s *Selector) Register(fd int, processor Processor, onDone func(*Key, error)) {
	s.Enqueue(func() {
		k := &Key{fd: fd, interest: InterestRead | InterestWrite, processor: processor}
		err := s.registerKey(k)
		if err != nil {
			onDone(nil, err)
			return
		}
		onDone(k, nil)
	})
}

// RegisterReadWrite upgrades a CONNECT-only key to steady-state READ and
// WRITE interest once the TCP client connect handshake completes (spec
// §4.3: "on completion, register again for READ and WRITE").
func (s *Selector) RegisterReadWrite(k *Key) {
	s.Enqueue(func() {
		if k.cancelled {
			return
		}
		s.ModifyInterest(k, InterestRead|InterestWrite)
	})
}

// Cancel deregisters key, runs cleanup, then invokes done. Must be
// funneled through Enqueue because cancelling against an active
// selector from another goroutine is unsafe (spec §4.3).
func (s *Selector) Cancel(k *Key, cleanup func(), done func()) {
	s.Enqueue(func() {
		if !k.cancelled {
			k.cancelled = true
			unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, k.fd, nil)
			s.mu.Lock()
			delete(s.keys, k.fd)
			s.mu.Unlock()
		}
		if cleanup != nil {
			cleanup()
		}
		if done != nil {
			done()
		}
	})
}
