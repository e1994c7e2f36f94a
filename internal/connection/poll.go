// Copyright (c) Swattek Systems, Inc.
// SPDX-License-Identifier: BSD-3-Clause

package connection

// reconcile brings one direction's CURR_* bit into agreement with the
// desired bit by issuing the matching poller command (spec.md §4.2).
// want/stop are the poller methods for this direction.
func reconcile(c *Connection, desired, current flags, want, stop func(fd int)) {
	switch {
	case c.flags.has(desired) && !c.flags.has(current):
		want(c.fd)
		c.flags.set(current)
	case !c.flags.has(desired) && c.flags.has(current):
		stop(c.fd)
		c.flags.clear(current)
	}
}

// reconcileData runs the data-layer poll reconciler: DATA_RD_ENA/
// DATA_WR_ENA against CURR_RD_ENA/CURR_WR_ENA (spec.md §4.2).
func reconcileData(c *Connection) {
	reconcile(c, flagDataRDEna, flagCurrRDEna, c.poller.WantRecv, c.poller.StopRecv)
	reconcile(c, flagDataWREna, flagCurrWREna, c.poller.WantSend, c.poller.StopSend)
}

// reconcileSock runs the sock-layer poll reconciler: SOCK_RD_ENA/
// SOCK_WR_ENA against CURR_RD_ENA/CURR_WR_ENA (spec.md §4.2).
func reconcileSock(c *Connection) {
	reconcile(c, flagSockRDEna, flagCurrRDEna, c.poller.WantRecv, c.poller.StopRecv)
	reconcile(c, flagSockWREna, flagCurrWREna, c.poller.WantSend, c.poller.StopSend)
}

// condUpdatePolling dispatches to whichever reconciler is authoritative
// right now: sock polling while a handshake needs it (POLL_SOCK), data
// polling otherwise. Neither runs unless the connection is control-ready.
func condUpdatePolling(c *Connection) {
	if !c.CtrlReady() {
		return
	}
	if c.flags.has(flagPollSock) {
		reconcileSock(c)
	} else {
		reconcileData(c)
	}
}
