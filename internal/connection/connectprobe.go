// Copyright (c) Swattek Systems, Inc.
// SPDX-License-Identifier: BSD-3-Clause

package connection

import (
	"errors"

	"golang.org/x/sys/unix"
)

// probeConnect resolves a pending L4 connect by checking the socket's
// pending error via SO_ERROR, the platform equivalent of the
// zero-length probe send described in spec.md §4.5: success clears
// WAIT_L4_CONN, an in-progress status leaves it set, and a hard
// failure raises ERROR. SO_ERROR also reads 0 while the connect is
// still pending, so a socket with no peer yet (ENOTCONN from
// getpeername) counts as in progress.
func probeConnect(c *Connection) {
	if c.flags.has(flagError) {
		return
	}
	if !c.XprtReady() {
		c.flags.set(flagError)
		return
	}

	errno, err := unix.GetsockoptInt(c.xprt.FD(), unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		c.flags.set(flagError)
		return
	}

	switch errno {
	case 0:
		if _, err := unix.Getpeername(c.xprt.FD()); errors.Is(err, unix.ENOTCONN) {
			return // still resolving
		}
		c.flags.clear(flagWaitL4Conn)
	case int(unix.EINPROGRESS), int(unix.EALREADY):
		// Still resolving; leave WAIT_L4_CONN set for the next readiness event.
	default:
		c.flags.set(flagError)
	}
}
