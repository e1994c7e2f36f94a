// Copyright (c) Swattek Systems, Inc.
// SPDX-License-Identifier: BSD-3-Clause

package connection

import (
	"testing"

	"golang.org/x/sys/unix"
)

// fakePoller is a minimal in-memory Poller for exercising the
// reconciler and driver without a real kernel event source.
type fakePoller struct {
	recvReady map[int]bool
	sendReady map[int]bool

	wantRecv, stopRecv, wantSend, stopSend, cantRecv []int
}

func newFakePoller() *fakePoller {
	return &fakePoller{recvReady: map[int]bool{}, sendReady: map[int]bool{}}
}

func (p *fakePoller) WantRecv(fd int) { p.wantRecv = append(p.wantRecv, fd) }
func (p *fakePoller) StopRecv(fd int) { p.stopRecv = append(p.stopRecv, fd) }
func (p *fakePoller) WantSend(fd int) { p.wantSend = append(p.wantSend, fd) }
func (p *fakePoller) StopSend(fd int) { p.stopSend = append(p.stopSend, fd) }
func (p *fakePoller) CantRecv(fd int) { p.cantRecv = append(p.cantRecv, fd) }
func (p *fakePoller) RecvReady(fd int) bool { return p.recvReady[fd] }
func (p *fakePoller) SendReady(fd int) bool { return p.sendReady[fd] }

// fakeTransport wraps a raw fd as a Transport without any data-path
// logic of its own; tests drive Recv/Send through a fakeDataLayer.
type fakeTransport struct {
	fd int
}

func (t *fakeTransport) FD() int                         { return t.fd }
func (t *fakeTransport) Recv(c *Connection) (int, error) { return 0, nil }
func (t *fakeTransport) Send(c *Connection) (int, error) { return 0, nil }

// fakeDataLayer records how many times each capability was invoked and
// can be configured to return a destroying error from any of them.
type fakeDataLayer struct {
	initCalls, recvCalls, sendCalls, wakeCalls int
	initErr, recvErr, sendErr, wakeErr         error
	onRecv, onSend, onWake                     func(c *Connection)
}

func (d *fakeDataLayer) Init(c *Connection) error {
	d.initCalls++
	return d.initErr
}

func (d *fakeDataLayer) Recv(c *Connection) error {
	d.recvCalls++
	if d.onRecv != nil {
		d.onRecv(c)
	}
	return d.recvErr
}

func (d *fakeDataLayer) Send(c *Connection) error {
	d.sendCalls++
	if d.onSend != nil {
		d.onSend(c)
	}
	return d.sendErr
}

func (d *fakeDataLayer) Wake(c *Connection) error {
	d.wakeCalls++
	if d.onWake != nil {
		d.onWake(c)
	}
	return d.wakeErr
}

// socketpair returns two connected, bidirectional stream fds a caller
// can write into one end of and peek/read from the other, exercising
// the PROXY v1 codec's real MSG_PEEK + destructive-reread syscalls.
func socketpair(t *testing.T) (a, b int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}
