// Copyright (c) Swattek Systems, Inc.
// SPDX-License-Identifier: BSD-3-Clause

package connection

import "testing"

func TestFlagsBasic(t *testing.T) {
	var f flags
	if f.has(flagError) {
		t.Fatal("zero value should have no flags set")
	}
	f.set(flagError)
	if !f.has(flagError) {
		t.Fatal("set did not persist")
	}
	f.clear(flagError)
	if f.has(flagError) {
		t.Fatal("clear did not take effect")
	}
}

func TestFlagHandshakeMask(t *testing.T) {
	for _, bit := range []flags{flagAcceptProxy, flagSendProxy, flagSSLWaitHS} {
		if !flagHandshake.has(bit) {
			t.Fatalf("flagHandshake missing bit %d", bit)
		}
	}
	if flagHandshake.has(flagError) {
		t.Fatal("flagHandshake should not include ERROR")
	}
}

func TestFlagConnStateMask(t *testing.T) {
	for _, bit := range []flags{flagWaitL4Conn, flagWaitL6Conn, flagConnected} {
		if !flagConnState.has(bit) {
			t.Fatalf("flagConnState missing bit %d", bit)
		}
	}
}

func TestCtrlReady(t *testing.T) {
	c := &Connection{fd: -1}
	if c.CtrlReady() {
		t.Fatal("connection without an fd should not be control-ready")
	}
	c.fd = 3
	if c.CtrlReady() {
		t.Fatal("connection without a transport should not be control-ready")
	}
	c.xprt = &fakeTransport{fd: 3}
	if !c.CtrlReady() {
		t.Fatal("connection with fd and transport should be control-ready")
	}
}

func TestRecvSendReady(t *testing.T) {
	p := newFakePoller()
	c := &Connection{fd: 5, poller: p}
	if c.RecvReady() || c.SendReady() {
		t.Fatal("fresh fake poller should report not ready")
	}
	p.recvReady[5] = true
	p.sendReady[5] = true
	if !c.RecvReady() || !c.SendReady() {
		t.Fatal("poller readiness should be reflected")
	}
}
