// Copyright (c) Swattek Systems, Inc.
// SPDX-License-Identifier: BSD-3-Clause

// Package poller implements the connection.Poller capability on top of
// Linux epoll in level-triggered mode (EPOLLET is never set).
package poller

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/swatteksystems/proxycore/internal/connection"
)

type fdState struct {
	wantRecv, wantSend bool
	recvReady, sendReady bool
	rdShutdown, wrShutdown bool
	registered bool
}

// Epoll drives a single epoll instance for an arbitrary number of fds.
// Readiness bits (recvReady/sendReady) are latched: once a wait loop
// observes EPOLLIN/EPOLLOUT it stays set until the driver reports an
// EAGAIN (CantRecv, read side only) or stops watching that direction
// (StopRecv/StopSend). ClearEvents does not reset them.
type Epoll struct {
	epfd int

	mu    sync.Mutex
	state map[int]*fdState

	dispatch func(fd int)
}

// New creates an epoll instance. dispatch is called, outside any lock,
// once per fd that has new readiness to offer the connection driver.
func New(dispatch func(fd int)) (*Epoll, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("poller: epoll_create1: %w", err)
	}
	return &Epoll{
		epfd:     epfd,
		state:    make(map[int]*fdState),
		dispatch: dispatch,
	}, nil
}

// Close releases the underlying epoll fd. Callers must have already
// removed every connection from the poller.
func (e *Epoll) Close() error {
	return unix.Close(e.epfd)
}

func (e *Epoll) stateFor(fd int) *fdState {
	s, ok := e.state[fd]
	if !ok {
		s = &fdState{}
		e.state[fd] = s
	}
	return s
}

func (e *Epoll) sync(fd int, s *fdState) error {
	events := uint32(unix.EPOLLRDHUP)
	if s.wantRecv {
		events |= unix.EPOLLIN
	}
	if s.wantSend {
		events |= unix.EPOLLOUT
	}
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}

	if !s.registered {
		if err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
			return fmt.Errorf("poller: epoll_ctl add fd=%d: %w", fd, err)
		}
		s.registered = true
		return nil
	}
	if err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("poller: epoll_ctl mod fd=%d: %w", fd, err)
	}
	return nil
}

// Remove unregisters fd and drops its tracked state. Call this before
// returning a Connection record to its pool.
func (e *Epoll) Remove(fd int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.state[fd]
	if !ok {
		return
	}
	if s.registered {
		unix.EpollCtl(e.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	}
	delete(e.state, fd)
}

func (e *Epoll) WantRecv(fd int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stateFor(fd)
	s.wantRecv = true
	e.sync(fd, s)
}

func (e *Epoll) StopRecv(fd int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stateFor(fd)
	s.wantRecv = false
	s.recvReady = false
	e.sync(fd, s)
}

func (e *Epoll) WantSend(fd int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stateFor(fd)
	s.wantSend = true
	e.sync(fd, s)
}

func (e *Epoll) StopSend(fd int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stateFor(fd)
	s.wantSend = false
	s.sendReady = false
	e.sync(fd, s)
}

// CantRecv clears the edge-latched recv-ready bit after the driver
// observed EAGAIN, so the next wait loop is what re-arms it.
func (e *Epoll) CantRecv(fd int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.state[fd]; ok {
		s.recvReady = false
	}
}

func (e *Epoll) RecvReady(fd int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.state[fd]
	return ok && s.recvReady
}

func (e *Epoll) SendReady(fd int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.state[fd]
	return ok && s.sendReady
}

// RDShutdown and WRShutdown implement connection.ShutdownReporter:
// EPOLLRDHUP folds into SOCK_RD_SH. Epoll has no direct write-shutdown
// event and nothing sets wrShutdown, so WRShutdown always reports
// false; xprt.Raw records EPIPE only in its own WRShutdown, which the
// driver does not consult.
func (e *Epoll) RDShutdown(fd int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.state[fd]
	return ok && s.rdShutdown
}

func (e *Epoll) WRShutdown(fd int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.state[fd]
	return ok && s.wrShutdown
}

// ClearEvents implements connection.EventClearer as a no-op: the
// readiness latches are reset only by CantRecv, StopRecv and StopSend,
// and a level-triggered epoll reports a still-ready fd again on the
// next wait.
func (e *Epoll) ClearEvents(fd int) {}

var _ connection.Poller = (*Epoll)(nil)
var _ connection.ShutdownReporter = (*Epoll)(nil)
var _ connection.EventClearer = (*Epoll)(nil)

// Run blocks processing epoll events until stop is closed. Each ready
// fd has its readiness latched and the driver's dispatch callback
// invoked once per wake, matching spec.md §4.1's "exactly one pass per
// invocation" contract.
func (e *Epoll) Run(stop <-chan struct{}) error {
	const maxEvents = 256
	events := make([]unix.EpollEvent, maxEvents)

	for {
		select {
		case <-stop:
			return nil
		default:
		}

		n, err := unix.EpollWait(e.epfd, events, 100)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("poller: epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			ev := events[i].Events

			e.mu.Lock()
			s, ok := e.state[fd]
			if ok {
				if ev&unix.EPOLLIN != 0 {
					s.recvReady = true
				}
				if ev&unix.EPOLLOUT != 0 {
					s.sendReady = true
				}
				if ev&unix.EPOLLRDHUP != 0 {
					s.rdShutdown = true
				}
				if ev&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
					s.recvReady = true
					s.sendReady = true
				}
			}
			e.mu.Unlock()

			if ok {
				e.dispatch(fd)
			}
		}
	}
}
