// Copyright (c) Swattek Systems, Inc.
// SPDX-License-Identifier: BSD-3-Clause

package connection

// ShutdownReporter is an optional Poller capability that surfaces
// half-close conditions observed on the wire (e.g. EPOLLRDHUP) so the
// driver can fold them into SOCK_RD_SH/SOCK_WR_SH (spec.md §4.1 step 2).
type ShutdownReporter interface {
	RDShutdown(fd int) bool
	WRShutdown(fd int) bool
}

// EventClearer is an optional Poller capability for dropping one-shot
// readiness events after a driver entry has consumed them (spec.md
// §4.1 step 11, "clear non-sticky poller events on the fd").
type EventClearer interface {
	ClearEvents(fd int)
}

// Dispatch is the single readiness callback (spec.md §4.1): it
// resolves fd to its connection and runs exactly one pass of the I/O
// driver pipeline, reconciling poll state before returning.
func Dispatch(table *FDTable, fd int) {
	c := table.Lookup(fd)
	if c == nil {
		return // step 1: no connection attached
	}
	dispatch(c)
}

func dispatch(c *Connection) {
	refreshPollFlags(c) // step 2

	flagsIn := c.flags &^ flagError // step 3: snapshot for §4.6 edge detection

	runHandshakes(c) // step 4

	for {
		if c.flags.any(flagHandshake) {
			// A handshake step is still incomplete and waiting for
			// readiness: skip the data phase and go straight to leave.
			leave(c, flagsIn)
			return
		}

		quiesceSock(c) // step 5

		if c.flags.has(flagInitData) { // step 6: lazy data init
			c.flags.clear(flagInitData)
			if err := c.data.Init(c); err != nil {
				return // data layer destroyed the connection
			}
		}

		if c.XprtReady() && c.RecvReady() &&
			c.flags&(flagDataRDEna|flagWaitRoom|flagError|flagHandshake) == flagDataRDEna { // step 7
			flagsIn = flagWaitL4Conn | flagConnected
			// recv/send errors are ordinary outcomes (EOF, a reset), not
			// the init/wake "destroyed" signal; fall through to leave so
			// polling still gets reconciled and the wake edge still fires.
			c.data.Recv(c)
		}

		if c.XprtReady() && c.SendReady() &&
			c.flags&(flagDataWREna|flagWaitData|flagError|flagHandshake) == flagDataWREna { // step 8
			flagsIn = flagWaitL4Conn | flagConnected
			c.data.Send(c)
		}

		if c.flags.any(flagHandshake) { // step 9: re-enter handshake if re-armed
			runHandshakes(c)
			continue
		}
		break
	}

	if c.flags.has(flagWaitL4Conn) { // step 10
		probeConnect(c)
	}

	leave(c, flagsIn) // step 11
}

// wakeEdgeMask is CONN_STATE plus ERROR: flagsIn always has ERROR
// cleared (the snapshot in dispatch), so a connection that enters this
// pass clean and leaves with ERROR newly set produces a one-bit
// difference here even though no CONN_STATE bit moved (spec.md §4.1
// step 3, §5 Cancellation, §7.2: the wake callback must still fire
// once on error so the data layer can tear down).
const wakeEdgeMask = flagConnState | flagError

func leave(c *Connection, flagsIn flags) {
	if c.flags.has(flagWakeData) && (c.flags^flagsIn)&wakeEdgeMask != 0 {
		if err := c.data.Wake(c); err != nil {
			return // connection released by the data layer
		}
	}
	if !c.flags.any(flagWaitL4Conn | flagWaitL6Conn | flagConnected) {
		c.flags.set(flagConnected)
	}
	if ec, ok := c.poller.(EventClearer); ok {
		ec.ClearEvents(c.fd)
	}
	condUpdatePolling(c)
}

func refreshPollFlags(c *Connection) {
	sr, ok := c.poller.(ShutdownReporter)
	if !ok {
		return
	}
	if sr.RDShutdown(c.fd) {
		c.flags.set(flagSockRDSH)
	}
	if sr.WRShutdown(c.fd) {
		c.flags.set(flagSockWRSH)
	}
}

func quiesceSock(c *Connection) {
	if c.flags.has(flagPollSock) {
		return
	}
	if c.flags.has(flagCurrRDEna) {
		c.poller.StopRecv(c.fd)
		c.flags.clear(flagCurrRDEna)
	}
	if c.flags.has(flagCurrWREna) {
		c.poller.StopSend(c.fd)
		c.flags.clear(flagCurrWREna)
	}
}
