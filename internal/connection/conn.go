// Copyright (c) Swattek Systems, Inc.
// SPDX-License-Identifier: BSD-3-Clause

package connection

import (
	"errors"
	"net/netip"
)

// Family identifies the address family of an endpoint (spec.md §3.1).
type Family int

const (
	FamilyUnknown Family = iota
	FamilyInet
	FamilyInet6
)

// Addr is a source or destination socket address as populated by the
// PROXY v1 codec (spec.md §4.3) or by the acceptor.
type Addr struct {
	Family Family
	IP     netip.Addr
	Port   uint16
}

// Poller is the capability interface consumed from the external
// poller (spec.md §6): per-fd readiness commands plus the readiness
// predicates the driver polls before attempting I/O.
type Poller interface {
	WantRecv(fd int)
	StopRecv(fd int)
	WantSend(fd int)
	StopSend(fd int)
	CantRecv(fd int)
	RecvReady(fd int) bool
	SendReady(fd int) bool
}

// Transport is the capability interface consumed from the transport
// layer (spec.md §6): raw, TLS, or any other xprt implementation.
// A transport may null itself out of a Connection on fatal error;
// every driver step re-checks XprtReady before using it again
// (invariant 5).
type Transport interface {
	Recv(c *Connection) (int, error)
	Send(c *Connection) (int, error)
	FD() int
}

// TLSHandshaker is an optional capability a Transport may implement to
// participate in the SSL_WAIT_HS handshake step. Transports that don't
// implement it (e.g. raw TCP) never see that bit set by the acceptor.
type TLSHandshaker interface {
	HandshakeTLS(c *Connection) HandshakeResult
}

// ErrDestroyed is returned by a DataLayer's Init or Wake method to
// signal that it tore the connection down itself (the negative-return
// convention of spec.md §6's data->init/wake contract). The driver
// must return immediately without touching the connection further.
// Recv and Send do not carry this meaning: a non-nil error from either
// is an ordinary outcome (EOF, a reset) and still runs through leave
// so polling is reconciled and the wake edge still fires.
var ErrDestroyed = errors.New("data layer destroyed connection")

// DataLayer is the capability interface consumed from the data/stream
// layer (spec.md §6).
type DataLayer interface {
	Init(c *Connection) error
	Recv(c *Connection) error
	Send(c *Connection) error
	Wake(c *Connection) error
}

// Connection owns a driven fd plus its transport/data capability
// handles and address pair (spec.md §3.1).
type Connection struct {
	fd     int
	flags  flags
	xprt   Transport
	data   DataLayer
	poller Poller

	from, to Addr

	errCode ErrCode

	// Owner is an opaque back-pointer set by the acceptor; the core
	// never dereferences it.
	Owner any

	pool *Pool

	// proxyOutBuf/proxyOutOff track partial progress of the SEND_PROXY
	// handshake's outbound header write (spec.md §4.4's emitter output
	// fed through a non-blocking write loop).
	proxyOutBuf []byte
	proxyOutOff int
}

// FD returns the descriptor this connection drives, or -1 once
// detached.
func (c *Connection) FD() int { return c.fd }

// ErrCode returns the terminal PROXY-protocol error code, if any.
func (c *Connection) ErrCode() ErrCode { return c.errCode }

// From returns the parsed/assigned source address.
func (c *Connection) From() Addr { return c.from }

// To returns the parsed/assigned destination address.
func (c *Connection) To() Addr { return c.to }

// Transport returns the connection's current transport handle, or nil
// if it has been torn down. Data layers use this to reach the
// underlying Recv/Send buffers of a concrete transport (e.g. to type-
// assert down to *xprt.Raw for zero-copy splicing).
func (c *Connection) Transport() Transport { return c.xprt }

// EnableDataWrite sets DATA_WR_ENA so the next poll reconciliation
// arms write readiness on this connection's fd (spec.md §4.2). A data
// layer calls this after queuing bytes for an idle peer connection.
func (c *Connection) EnableDataWrite() { c.flags.set(flagDataWREna) }
