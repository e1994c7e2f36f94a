// Copyright (c) Swattek Systems, Inc.
// SPDX-License-Identifier: BSD-3-Clause

// Package xprt implements the Transport capability consumed by
// internal/connection: raw TCP, TLS, and a splice-based zero-copy
// mover, all driven by a non-blocking fd owned by the caller.
package xprt

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/swatteksystems/proxycore/internal/connection"
)

// Raw is a non-blocking raw-socket Transport. It owns a single
// read buffer and a pending-write buffer; the data layer pulls
// received bytes via Received and feeds outbound bytes via Enqueue.
type Raw struct {
	fd int

	recvBuf []byte
	recvLen int

	sendBuf []byte
	sendOff int

	wrShutdown bool
}

// NewRaw wraps fd, which must already be non-blocking.
func NewRaw(fd int) *Raw {
	return &Raw{fd: fd, recvBuf: make([]byte, 64*1024)}
}

func (r *Raw) FD() int { return r.fd }

// Received returns the bytes read by the most recent Recv call that
// haven't been consumed by the caller yet.
func (r *Raw) Received() []byte { return r.recvBuf[:r.recvLen] }

// Consume drops the first n bytes of the buffer returned by Received,
// sliding any remainder to the front.
func (r *Raw) Consume(n int) {
	copy(r.recvBuf, r.recvBuf[n:r.recvLen])
	r.recvLen -= n
}

// Enqueue appends data to the pending write buffer for the next Send.
func (r *Raw) Enqueue(data []byte) {
	r.sendBuf = append(r.sendBuf, data...)
}

// Pending reports how many bytes are still queued to be written.
func (r *Raw) Pending() int { return len(r.sendBuf) - r.sendOff }

// Recv reads as much as fits in the free space of the receive buffer.
// A zero-length, nil-error result is returned for EOF (the peer sent a
// FIN), for EAGAIN, and when the buffer is already full; the three
// cases are not told apart.
func (r *Raw) Recv(c *connection.Connection) (int, error) {
	if r.recvLen == len(r.recvBuf) {
		return 0, nil // buffer full; caller must Consume before reading more
	}
	n, err := unix.Read(r.fd, r.recvBuf[r.recvLen:])
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			return 0, nil
		}
		return 0, fmt.Errorf("xprt: read fd=%d: %w", r.fd, err)
	}
	r.recvLen += n
	return n, nil
}

// Send drains as much of the pending write buffer as the kernel will
// accept without blocking.
func (r *Raw) Send(c *connection.Connection) (int, error) {
	total := 0
	for r.sendOff < len(r.sendBuf) {
		n, err := unix.Write(r.fd, r.sendBuf[r.sendOff:])
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				break
			}
			if errors.Is(err, unix.EPIPE) {
				r.wrShutdown = true
			}
			return total, fmt.Errorf("xprt: write fd=%d: %w", r.fd, err)
		}
		r.sendOff += n
		total += n
	}
	if r.sendOff == len(r.sendBuf) {
		r.sendBuf = r.sendBuf[:0]
		r.sendOff = 0
	}
	return total, nil
}

// WRShutdown reports whether the kernel has told us the peer's read
// side is gone (EPIPE observed on a prior write).
func (r *Raw) WRShutdown() bool { return r.wrShutdown }

var _ connection.Transport = (*Raw)(nil)
