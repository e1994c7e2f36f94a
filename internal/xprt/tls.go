// Copyright (c) Swattek Systems, Inc.
// SPDX-License-Identifier: BSD-3-Clause

package xprt

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"

	"github.com/swatteksystems/proxycore/internal/connection"
)

// TLS wraps a net.Conn (typically built from a raw fd via
// net.FileConn) behind the Transport and TLSHandshaker capabilities,
// running crypto/tls's Handshake from the SSL_WAIT_HS step (spec.md
// §4.1 step 4).
//
// There is no third-party TLS stack anywhere in the retrieved example
// corpus, so this component is the one deliberate stdlib exception to
// the "use a pack library" rule (see DESIGN.md).
type TLS struct {
	conn *tls.Conn
	fd   int

	recvBuf []byte
	recvLen int

	sendBuf []byte
	sendOff int
}

// NewTLS constructs a server-side TLS transport around an
// already-accepted connection. fd is retained only so FD() can keep
// driving the same poller registration as before the wrap.
func NewTLS(raw net.Conn, fd int, cfg *tls.Config) *TLS {
	return &TLS{conn: tls.Server(raw, cfg), fd: fd, recvBuf: make([]byte, 64*1024)}
}

func (t *TLS) FD() int { return t.fd }

// HandshakeTLS makes one call to crypto/tls's Handshake. That call
// blocks on the underlying net.Conn; only a net.Error timeout from it
// is reported as incomplete, and TLS never sets a deadline on the conn
// itself, so without one set by the caller the call blocks the driver
// goroutine until the handshake finishes or fails.
func (t *TLS) HandshakeTLS(c *connection.Connection) connection.HandshakeResult {
	err := t.conn.Handshake()
	if err == nil {
		return connection.HandshakeComplete
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return connection.HandshakeIncomplete
	}
	return connection.HandshakeComplete // terminal failure; caller checks ConnectionState
}

func (t *TLS) Received() []byte { return t.recvBuf[:t.recvLen] }

func (t *TLS) Consume(n int) {
	copy(t.recvBuf, t.recvBuf[n:t.recvLen])
	t.recvLen -= n
}

func (t *TLS) Enqueue(data []byte) { t.sendBuf = append(t.sendBuf, data...) }

func (t *TLS) Recv(c *connection.Connection) (int, error) {
	if t.recvLen == len(t.recvBuf) {
		return 0, nil
	}
	n, err := t.conn.Read(t.recvBuf[t.recvLen:])
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return 0, nil
		}
		return 0, fmt.Errorf("xprt: tls read: %w", err)
	}
	t.recvLen += n
	return n, nil
}

func (t *TLS) Send(c *connection.Connection) (int, error) {
	total := 0
	for t.sendOff < len(t.sendBuf) {
		n, err := t.conn.Write(t.sendBuf[t.sendOff:])
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				break
			}
			return total, fmt.Errorf("xprt: tls write: %w", err)
		}
		t.sendOff += n
		total += n
	}
	if t.sendOff == len(t.sendBuf) {
		t.sendBuf = t.sendBuf[:0]
		t.sendOff = 0
	}
	return total, nil
}

var _ connection.Transport = (*TLS)(nil)
var _ connection.TLSHandshaker = (*TLS)(nil)
