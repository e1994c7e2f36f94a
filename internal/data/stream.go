// Copyright (c) Swattek Systems, Inc.
// SPDX-License-Identifier: BSD-3-Clause

// Package data provides an example DataLayer: a bidirectional stream
// splice that glues two driven connections together, using a
// zero-copy mover when both legs are raw sockets and falling back to
// a buffered copy otherwise (e.g. one leg is TLS-terminated).
package data

import (
	"errors"
	"fmt"

	"github.com/swatteksystems/proxycore/internal/connection"
	"github.com/swatteksystems/proxycore/internal/xprt"
)

// Stream is a DataLayer instance owned by one side of a proxied pair;
// Pair must link it to the Stream (and Connection) driving the other
// side before either side's connection is dispatched.
type Stream struct {
	peerConn *connection.Connection
	peer     *Stream

	self *connection.Connection

	mover *xprt.SpliceMover

	closed bool
}

// NewStream returns an unpaired stream leg. Pair must be called on
// both legs before traffic flows.
func NewStream() *Stream { return &Stream{} }

// Pair links two stream legs so each can reach the other's connection
// for poll-flag updates (spec.md §4.2's cross-connection backpressure).
func Pair(a, b *Stream, ca, cb *connection.Connection) {
	a.peer, a.peerConn, a.self = b, cb, ca
	b.peer, b.peerConn, b.self = a, ca, cb
}

func (s *Stream) Init(c *connection.Connection) error {
	s.self = c
	return nil
}

// Recv pulls bytes off this connection's transport and forwards them
// to the peer, preferring a kernel splice when both legs are raw
// sockets and falling back to a buffered copy through the transports'
// userspace buffers otherwise (e.g. when this leg terminates TLS).
func (s *Stream) Recv(c *connection.Connection) error {
	if s.peer == nil || s.closed {
		return nil
	}

	selfRaw, selfIsRaw := c.Transport().(*xprt.Raw)
	peerRaw, peerIsRaw := s.peerConn.Transport().(*xprt.Raw)

	if selfIsRaw && peerIsRaw {
		if s.mover == nil {
			s.mover = xprt.NewSpliceMover()
		}
		moved, eof, err := s.mover.Move(selfRaw.FD(), peerRaw.FD())
		if err != nil {
			return fmt.Errorf("data: splice recv: %w", err)
		}
		if eof {
			return s.closePeer()
		}
		if moved > 0 {
			s.wantPeerWrite()
		}
		return nil
	}

	n, err := c.Transport().Recv(c)
	if err != nil {
		return fmt.Errorf("data: recv: %w", err)
	}
	if n == 0 {
		return nil
	}
	buffered, ok := c.Transport().(interface{ Received() []byte })
	if !ok {
		return nil
	}
	chunk := append([]byte(nil), buffered.Received()...)
	if consumer, ok := c.Transport().(interface{ Consume(int) }); ok {
		consumer.Consume(len(chunk))
	}
	if enqueuer, ok := s.peerConn.Transport().(interface{ Enqueue([]byte) }); ok {
		enqueuer.Enqueue(chunk)
		s.wantPeerWrite()
	}
	return nil
}

// Send flushes whatever is queued for this connection's transport.
func (s *Stream) Send(c *connection.Connection) error {
	_, err := c.Transport().Send(c)
	if err != nil {
		return fmt.Errorf("data: send: %w", err)
	}
	return nil
}

// Wake is invoked on every CONN_STATE edge (spec.md §4.6). This stream
// takes no action on wake and always returns nil.
func (s *Stream) Wake(c *connection.Connection) error {
	return nil
}

func (s *Stream) wantPeerWrite() {
	if s.peerConn == nil {
		return
	}
	s.peerConn.EnableDataWrite()
}

func (s *Stream) closePeer() error {
	s.closed = true
	if s.peer != nil {
		s.peer.closed = true
	}
	return errors.New("data: peer reached EOF")
}

var _ connection.DataLayer = (*Stream)(nil)
