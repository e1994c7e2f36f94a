// Copyright (c) Swattek Systems, Inc.
// SPDX-License-Identifier: BSD-3-Clause

package connection

import "sync"

// Pool is a fixed-shape free-list allocator for Connection records
// (spec.md §3.3, §5: "Connection records come from a shared free-list
// pool with fixed-size slots. Allocation is thread-agnostic").
type Pool struct {
	raw sync.Pool

	table *FDTable
}

// NewPool returns a pool that attaches/detaches records through table.
func NewPool(table *FDTable) *Pool {
	p := &Pool{table: table}
	p.raw.New = func() any { return new(Connection) }
	return p
}

// Get returns a zeroed Connection wired to fd, poller, xprt, and data,
// with the acceptor-supplied initial flag bits already set (spec.md
// §3.3: "created by the acceptor with a zeroed flag word plus the
// handshake bits dictated by the listener").
func (p *Pool) Get(fd int, poller Poller, xprt Transport, data DataLayer, initial InitFlags) *Connection {
	c := p.raw.Get().(*Connection)
	*c = Connection{
		fd:     fd,
		poller: poller,
		xprt:   xprt,
		data:   data,
		pool:   p,
	}
	if initial.AcceptProxy {
		c.flags.set(flagAcceptProxy)
	}
	if initial.SendProxy {
		c.flags.set(flagSendProxy)
	}
	if initial.SSLWaitHS {
		c.flags.set(flagSSLWaitHS)
	}
	if initial.WaitL4Conn {
		c.flags.set(flagWaitL4Conn)
	}
	if initial.PollSock {
		c.flags.set(flagPollSock)
	}
	if initial.WakeData {
		c.flags.set(flagWakeData)
	}
	if initial.InitData {
		c.flags.set(flagInitData)
	}
	if initial.SockRDEna {
		c.flags.set(flagSockRDEna)
	}
	if initial.SockWREna {
		c.flags.set(flagSockWREna)
	}
	p.table.Attach(fd, c)
	return c
}

// InitFlags are the handshake/lifecycle bits the acceptor or dialer
// chooses when handing a fresh connection to the pool (spec.md §3.3).
type InitFlags struct {
	AcceptProxy bool
	SendProxy   bool
	SSLWaitHS   bool
	WaitL4Conn  bool
	PollSock    bool
	WakeData    bool
	InitData    bool
	SockRDEna   bool
	SockWREna   bool
}

// Release detaches c from the fd table and returns the record to the
// pool. Must only be called after the fd has been unregistered from
// the poller (spec.md §3.3, §5).
func (p *Pool) Release(c *Connection) {
	p.table.Detach(c.fd)
	c.fd = -1
	c.xprt = nil
	c.data = nil
	c.poller = nil
	p.raw.Put(c)
}
