// Copyright (c) Swattek Systems, Inc.
// SPDX-License-Identifier: BSD-3-Clause

// Package connection implements the per-connection I/O driver: the
// handshake pipeline, poll reconciliation, and PROXY protocol v1 codec
// that sit between a readiness-notifying poller and a pluggable
// transport/data layer.
package connection

// flags is the single bit word that holds all per-connection state. It
// is mutated only from the driver goroutine currently owning the
// connection's fd (one owner per fd at a time), so it is a plain
// uint32, not an atomic value.
type flags uint32

const (
	// Address set: addresses have been populated.
	flagAddrFromSet flags = 1 << iota
	flagAddrToSet

	// Handshake pending. Any bit set means the connection is in the
	// handshake phase; flagHandshake is the bitwise-or of all of them.
	flagAcceptProxy
	flagSendProxy
	flagSSLWaitHS

	// Socket shutdown: half-closed, cannot be reopened.
	flagSockRDSH
	flagSockWRSH

	// Data-layer desire.
	flagDataRDEna
	flagDataWREna

	// Sock-layer desire, used during the handshake phase instead of
	// the data-layer bits above.
	flagSockRDEna
	flagSockWREna

	// Currently polled: what the poller has been told to watch.
	flagCurrRDEna
	flagCurrWREna

	// Waiting-on-peer conditions.
	flagWaitRoom
	flagWaitData
	flagWaitL4Conn
	flagWaitL6Conn

	// Lifecycle.
	flagConnected
	flagInitData
	flagWakeData
	flagError
	flagPollSock
)

// flagHandshake is the mask of every handshake-pending bit (§3.2).
const flagHandshake = flagAcceptProxy | flagSendProxy | flagSSLWaitHS

// flagConnState is the derived connection-state mask consumed by the
// edge-wake detection in the I/O driver (§4.6).
const flagConnState = flagWaitL4Conn | flagWaitL6Conn | flagConnected

func (f flags) has(bit flags) bool  { return f&bit != 0 }
func (f *flags) set(bit flags)      { *f |= bit }
func (f *flags) clear(bit flags)    { *f &^= bit }
func (f flags) any(mask flags) bool { return f&mask != 0 }

// CtrlReady reports whether the connection has a live fd and no fatal
// transport-layer tear-down (GLOSSARY: "control-ready").
func (c *Connection) CtrlReady() bool {
	return c.fd >= 0 && c.xprt != nil
}

// XprtReady reports whether the transport is still attached. The
// driver must re-check this between every step (invariant 5): a
// callback may tear xprt down.
func (c *Connection) XprtReady() bool {
	return c.xprt != nil
}

// RecvReady reports whether the poller has observed read readiness on
// this connection's fd. It does not look at the flag word; the driver
// checks DATA_RD_ENA and the WAIT_ROOM/ERROR/HANDSHAKE bits itself
// (§4.1 step 7).
func (c *Connection) RecvReady() bool {
	if c.poller == nil || c.fd < 0 {
		return false
	}
	return c.poller.RecvReady(c.fd)
}

// SendReady reports the write-side equivalent of RecvReady (§4.1 step 8).
func (c *Connection) SendReady() bool {
	if c.poller == nil || c.fd < 0 {
		return false
	}
	return c.poller.SendReady(c.fd)
}
