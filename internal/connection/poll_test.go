// Copyright (c) Swattek Systems, Inc.
// SPDX-License-Identifier: BSD-3-Clause

package connection

import "testing"

func TestReconcileWantsWhenDesiredNotCurrent(t *testing.T) {
	p := newFakePoller()
	c := &Connection{fd: 3, poller: p}
	c.flags.set(flagDataRDEna)

	reconcileData(c)

	if len(p.wantRecv) != 1 || p.wantRecv[0] != 3 {
		t.Fatalf("wantRecv = %v, want [3]", p.wantRecv)
	}
	if !c.flags.has(flagCurrRDEna) {
		t.Fatal("CURR_RD_ENA should be set after WantRecv")
	}
}

func TestReconcileStopsWhenCurrentNotDesired(t *testing.T) {
	p := newFakePoller()
	c := &Connection{fd: 3, poller: p}
	c.flags.set(flagCurrWREna)

	reconcileData(c)

	if len(p.stopSend) != 1 || p.stopSend[0] != 3 {
		t.Fatalf("stopSend = %v, want [3]", p.stopSend)
	}
	if c.flags.has(flagCurrWREna) {
		t.Fatal("CURR_WR_ENA should be cleared after StopSend")
	}
}

func TestReconcileNoOpWhenAlreadyAgreed(t *testing.T) {
	p := newFakePoller()
	c := &Connection{fd: 3, poller: p}
	c.flags.set(flagDataRDEna)
	c.flags.set(flagCurrRDEna)

	reconcileData(c)

	if len(p.wantRecv) != 0 || len(p.stopRecv) != 0 {
		t.Fatal("reconcile should not touch the poller when already in agreement")
	}
}

func TestCondUpdatePollingSkipsWhenNotCtrlReady(t *testing.T) {
	p := newFakePoller()
	c := &Connection{fd: -1, poller: p}
	c.flags.set(flagDataRDEna)

	condUpdatePolling(c)

	if len(p.wantRecv) != 0 {
		t.Fatal("condUpdatePolling should no-op when the connection is not control-ready")
	}
}

func TestCondUpdatePollingChoosesSockWhilePollSock(t *testing.T) {
	p := newFakePoller()
	c := &Connection{fd: 3, xprt: &fakeTransport{fd: 3}, poller: p}
	c.flags.set(flagPollSock)
	c.flags.set(flagSockRDEna)
	c.flags.set(flagDataWREna) // must be ignored while POLL_SOCK is set

	condUpdatePolling(c)

	if len(p.wantRecv) != 1 {
		t.Fatalf("expected exactly one WantRecv from the sock reconciler, got %v", p.wantRecv)
	}
	if len(p.wantSend) != 0 {
		t.Fatal("DATA_WR_ENA must not drive polling while POLL_SOCK is set")
	}
}

func TestCondUpdatePollingChoosesDataOtherwise(t *testing.T) {
	p := newFakePoller()
	c := &Connection{fd: 3, xprt: &fakeTransport{fd: 3}, poller: p}
	c.flags.set(flagDataWREna)

	condUpdatePolling(c)

	if len(p.wantSend) != 1 {
		t.Fatalf("expected exactly one WantSend from the data reconciler, got %v", p.wantSend)
	}
}
