// Copyright (c) Swattek Systems, Inc.
// SPDX-License-Identifier: BSD-3-Clause

package connection

import (
	"testing"
)

func newDriverConn(fd int, poller Poller, xprt Transport, data DataLayer) *Connection {
	return &Connection{fd: fd, poller: poller, xprt: xprt, data: data}
}

func TestDispatchUnknownFDIsNoop(t *testing.T) {
	table := NewFDTable()
	// Must not panic.
	Dispatch(table, 42)
}

func TestDispatchRunsInitDataOnce(t *testing.T) {
	p := newFakePoller()
	p.recvReady[3] = false
	data := &fakeDataLayer{}
	c := newDriverConn(3, p, &fakeTransport{fd: 3}, data)
	c.flags.set(flagInitData)

	table := NewFDTable()
	table.Attach(3, c)

	Dispatch(table, 3)

	if data.initCalls != 1 {
		t.Fatalf("Init called %d times, want 1", data.initCalls)
	}
	if c.flags.has(flagInitData) {
		t.Fatal("INIT_DATA bit should be cleared after running")
	}
}

func TestDispatchInitErrorStopsDriver(t *testing.T) {
	p := newFakePoller()
	data := &fakeDataLayer{initErr: ErrDestroyed}
	c := newDriverConn(3, p, &fakeTransport{fd: 3}, data)
	c.flags.set(flagInitData)
	c.flags.set(flagDataRDEna)
	p.recvReady[3] = true

	table := NewFDTable()
	table.Attach(3, c)
	Dispatch(table, 3)

	if data.recvCalls != 0 {
		t.Fatal("Recv must not run after Init destroyed the connection")
	}
}

func TestDispatchCallsRecvWhenReadyAndEnabled(t *testing.T) {
	p := newFakePoller()
	p.recvReady[3] = true
	data := &fakeDataLayer{}
	c := newDriverConn(3, p, &fakeTransport{fd: 3}, data)
	c.flags.set(flagDataRDEna)

	table := NewFDTable()
	table.Attach(3, c)
	Dispatch(table, 3)

	if data.recvCalls != 1 {
		t.Fatalf("Recv called %d times, want 1", data.recvCalls)
	}
}

func TestDispatchSkipsRecvDuringHandshake(t *testing.T) {
	a, _ := socketpair(t)
	p := newFakePoller()
	p.recvReady[a] = true
	data := &fakeDataLayer{}
	c := newDriverConn(a, p, &fakeTransport{fd: a}, data)
	c.flags.set(flagDataRDEna)
	// Nothing was written to the socketpair, so ACCEPT_PROXY's peek gets
	// EAGAIN and the handshake stays pending, blocking data recv (step 7 mask).
	c.flags.set(flagAcceptProxy)

	table := NewFDTable()
	table.Attach(a, c)
	Dispatch(table, a)

	if data.recvCalls != 0 {
		t.Fatal("Recv must not run while a handshake bit is pending")
	}
}

func TestDispatchSkipsRecvWaitingForRoom(t *testing.T) {
	p := newFakePoller()
	p.recvReady[3] = true
	data := &fakeDataLayer{}
	c := newDriverConn(3, p, &fakeTransport{fd: 3}, data)
	c.flags.set(flagDataRDEna)
	c.flags.set(flagWaitRoom)

	table := NewFDTable()
	table.Attach(3, c)
	Dispatch(table, 3)

	if data.recvCalls != 0 {
		t.Fatal("Recv must not run while WAIT_ROOM is set")
	}
}

func TestDispatchProbesConnectWhenWaiting(t *testing.T) {
	a, _ := socketpair(t)
	p := newFakePoller()
	xprt := &probeTransport{fd: a}
	data := &fakeDataLayer{}
	c := newDriverConn(a, p, xprt, data)
	c.flags.set(flagWaitL4Conn)

	table := NewFDTable()
	table.Attach(a, c)
	Dispatch(table, a)

	if c.flags.has(flagWaitL4Conn) {
		t.Fatal("probeConnect should have cleared WAIT_L4_CONN on a ready socket")
	}
	if !c.flags.has(flagConnected) {
		t.Fatal("leave() should set CONNECTED once no conn-state bit remains")
	}
}

// TestDispatchEdgeWakeOnConnect exercises spec.md §8 scenario 6: a
// connection waiting on L4 connect with WAKE_DATA and DATA_WR_ENA set
// becomes send-ready, data.Send resolves the connect (clearing
// WAIT_L4_CONN), and the edge-detected CONN_STATE transition must fire
// Wake exactly once.
func TestDispatchEdgeWakeOnConnect(t *testing.T) {
	a, _ := socketpair(t)
	p := newFakePoller()
	p.sendReady[a] = true
	xprt := &probeTransport{fd: a}
	data := &fakeDataLayer{}
	c := newDriverConn(a, p, xprt, data)
	c.flags.set(flagWaitL4Conn)
	c.flags.set(flagWakeData)
	c.flags.set(flagDataWREna)

	data.onSend = func(c *Connection) {
		c.flags.clear(flagWaitL4Conn)
	}

	table := NewFDTable()
	table.Attach(a, c)
	Dispatch(table, a)

	if data.sendCalls != 1 {
		t.Fatalf("Send called %d times, want 1", data.sendCalls)
	}
	if data.wakeCalls != 1 {
		t.Fatalf("Wake called %d times, want exactly 1", data.wakeCalls)
	}
	if !c.flags.has(flagConnected) {
		t.Fatal("CONNECTED should be set once the connect resolves")
	}
}

func TestDispatchWakeNotCalledWithoutConnStateEdge(t *testing.T) {
	p := newFakePoller()
	data := &fakeDataLayer{}
	c := newDriverConn(3, p, &fakeTransport{fd: 3}, data)
	c.flags.set(flagWakeData)
	c.flags.set(flagConnected) // already connected before this pass; no edge

	table := NewFDTable()
	table.Attach(3, c)
	Dispatch(table, 3)

	if data.wakeCalls != 0 {
		t.Fatal("Wake must not fire when CONN_STATE did not change this pass")
	}
}

func TestDispatchWakeErrorStopsLeave(t *testing.T) {
	a, _ := socketpair(t)
	p := newFakePoller()
	data := &fakeDataLayer{wakeErr: ErrDestroyed}
	c := newDriverConn(a, p, &probeTransport{fd: a}, data)
	c.flags.set(flagWaitL4Conn)
	c.flags.set(flagWakeData)

	table := NewFDTable()
	table.Attach(a, c)
	Dispatch(table, a)

	if data.wakeCalls != 1 {
		t.Fatalf("Wake called %d times, want 1", data.wakeCalls)
	}
	// Driver must return before touching polling state further; no
	// panic and no poller calls is the observable contract here.
	if len(p.wantRecv) != 0 || len(p.wantSend) != 0 {
		t.Fatal("leave() must not reconcile polling after Wake destroys the connection")
	}
}

// probeTransport hands probeConnect the fd of a connected socketpair:
// getsockopt(SO_ERROR) on it reads 0 and the socket has a peer, so the
// probe sees a resolved connect.
type probeTransport struct {
	fd int
}

func (t *probeTransport) FD() int                         { return t.fd }
func (t *probeTransport) Recv(c *Connection) (int, error) { return 0, nil }
func (t *probeTransport) Send(c *Connection) (int, error) { return 0, nil }
