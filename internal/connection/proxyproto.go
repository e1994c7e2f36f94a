// Copyright (c) Swattek Systems, Inc.
// SPDX-License-Identifier: BSD-3-Clause

package connection

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// minHeaderLen is the peek length below which a buffer starting with
// "PROXY " is reported as truncated (spec.md §4.3). It is a lower bound,
// not the length of the shortest complete line: the shortest valid TCP4
// line ("PROXY TCP4 1.1.1.1 1.1.1.1 1 1\r\n") is 32 bytes, and anything
// between the two is left to the field parser.
const minHeaderLen = 18

// peekBufSize is generous enough to hold the longest possible PROXY v1
// line (a TCP6 header with two full-length addresses) while still
// fitting comfortably in a single read.
const peekBufSize = 256

// acceptProxyHandshake implements the inbound PROXY v1 parser of
// spec.md §4.3. It returns HandshakeIncomplete only when the kernel
// has no data yet (EAGAIN); every other outcome is terminal (complete),
// whether it succeeded or failed, per the codec's own outcome table.
func acceptProxyHandshake(c *Connection) HandshakeResult {
	if c.flags.has(flagError) {
		return HandshakeComplete
	}
	if c.flags.has(flagSockRDSH) {
		return failProxy(c, ErrBadHeader)
	}
	if !c.XprtReady() {
		return failProxy(c, ErrBadHeader)
	}

	fd := c.xprt.FD()
	buf := make([]byte, peekBufSize)
	n, _, err := unix.Recvfrom(fd, buf, unix.MSG_PEEK)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			c.poller.CantRecv(fd)
			return HandshakeIncomplete
		}
		return failProxy(c, ErrBadHeader)
	}

	switch {
	case n == 0:
		return failProxy(c, ErrEmpty)
	case n < 6:
		return failProxy(c, ErrTruncated)
	case !bytesHasPrefix(buf[:n], "PROXY "):
		return failProxy(c, ErrNotHeader)
	case n < minHeaderLen:
		return failProxy(c, ErrTruncated)
	}

	line, crlfLen := findCRLF(buf[:n])
	if crlfLen == 0 {
		return failProxy(c, ErrBadHeader)
	}

	from, to, code := parseProxyLine(line)
	if code != ErrNone {
		return failProxy(c, code)
	}

	headerLen := len(line) + crlfLen
	consumed, err := unix.Read(fd, buf[:headerLen])
	return completeAcceptProxy(c, from, to, headerLen, consumed, err)
}

// completeAcceptProxy applies the outcome of the destructive re-read:
// a byte-count mismatch (or error) means the header arrived split
// across segments, which is terminal per spec.md §4.3's segment-atomic
// rule. Split out from acceptProxyHandshake so the decision can be
// exercised without a real socket.
func completeAcceptProxy(c *Connection, from, to Addr, headerLen, consumed int, readErr error) HandshakeResult {
	if readErr != nil || consumed != headerLen {
		c.flags.set(flagSockRDSH)
		c.flags.set(flagSockWRSH)
		return failProxy(c, ErrAbort)
	}

	c.from, c.to = from, to
	c.flags.set(flagAddrFromSet)
	c.flags.set(flagAddrToSet)
	c.flags.clear(flagAcceptProxy)
	return HandshakeComplete
}

// failProxy records a terminal PROXY-protocol failure: sets err_code,
// raises ERROR, and clears the handshake bit, matching the "returns 1
// and clears the bit" outcome of every non-waiting case in spec.md §4.3.
func failProxy(c *Connection, code ErrCode) HandshakeResult {
	c.errCode = code
	c.flags.set(flagError)
	c.flags.clear(flagAcceptProxy)
	return HandshakeComplete
}

func bytesHasPrefix(b []byte, prefix string) bool {
	return len(b) >= len(prefix) && string(b[:len(prefix)]) == prefix
}

// findCRLF returns the line preceding the first CRLF in b (excluding
// the CRLF itself) and the length of the terminator found (2 for
// "\r\n", 0 if none was found within b).
func findCRLF(b []byte) ([]byte, int) {
	for i := 0; i+1 < len(b); i++ {
		if b[i] == '\r' && b[i+1] == '\n' {
			return b[:i], 2
		}
	}
	return nil, 0
}

// parseProxyLine validates and decodes the fields of a PROXY v1 line
// (without its trailing CRLF) per spec.md §4.3's strict ABNF. The
// protocol tag dispatch uses direct equality, not the source's
// precedence-bug behavior (spec.md §4.3 "Known anomaly" / §9 Open
// Question): this is a deliberate, documented deviation.
func parseProxyLine(line []byte) (from, to Addr, code ErrCode) {
	tokens := strings.Split(string(line), " ")
	if len(tokens) != 6 || tokens[0] != "PROXY" {
		return Addr{}, Addr{}, ErrBadHeader
	}

	var family Family
	switch tokens[1] {
	case "TCP4":
		family = FamilyInet
	case "TCP6":
		family = FamilyInet6
	default:
		return Addr{}, Addr{}, ErrBadProto
	}

	srcIP, err := netip.ParseAddr(tokens[2])
	if err != nil {
		return Addr{}, Addr{}, ErrBadHeader
	}
	dstIP, err := netip.ParseAddr(tokens[3])
	if err != nil {
		return Addr{}, Addr{}, ErrBadHeader
	}
	if (family == FamilyInet && (!srcIP.Is4() || !dstIP.Is4())) ||
		(family == FamilyInet6 && (!srcIP.Is6() || !dstIP.Is6())) {
		return Addr{}, Addr{}, ErrBadHeader
	}

	srcPort, err := strconv.ParseUint(tokens[4], 10, 16)
	if err != nil {
		return Addr{}, Addr{}, ErrBadHeader
	}
	dstPort, err := strconv.ParseUint(tokens[5], 10, 16)
	if err != nil {
		return Addr{}, Addr{}, ErrBadHeader
	}

	from = Addr{Family: family, IP: srcIP, Port: uint16(srcPort)}
	to = Addr{Family: family, IP: dstIP, Port: uint16(dstPort)}
	return from, to, ErrNone
}

// EmitProxyHeader implements the spec.md §4.4 outbound PROXY v1
// emitter: TCP4/TCP6 when both addresses share a known family, else
// "PROXY UNKNOWN\r\n". Returns the number of bytes written, or 0 if
// buf is too small.
func EmitProxyHeader(from, to Addr, buf []byte) int {
	var line string
	switch {
	case from.Family == FamilyInet && to.Family == FamilyInet:
		line = fmt.Sprintf("PROXY TCP4 %s %s %d %d\r\n", from.IP, to.IP, from.Port, to.Port)
	case from.Family == FamilyInet6 && to.Family == FamilyInet6:
		line = fmt.Sprintf("PROXY TCP6 %s %s %d %d\r\n", from.IP, to.IP, from.Port, to.Port)
	default:
		line = "PROXY UNKNOWN\r\n"
	}
	if len(line) > len(buf) {
		return 0
	}
	return copy(buf, line)
}

// sendProxyHandshake drives the SEND_PROXY step: build the outbound
// header once via EmitProxyHeader, then write it to the transport's fd
// across as many non-blocking writes as needed.
func sendProxyHandshake(c *Connection) HandshakeResult {
	if c.flags.has(flagError) {
		return HandshakeComplete
	}
	if !c.XprtReady() {
		c.flags.set(flagError)
		c.flags.clear(flagSendProxy)
		return HandshakeComplete
	}

	if c.proxyOutBuf == nil {
		buf := make([]byte, peekBufSize)
		n := EmitProxyHeader(c.from, c.to, buf)
		if n == 0 {
			c.flags.set(flagError)
			c.flags.clear(flagSendProxy)
			return HandshakeComplete
		}
		c.proxyOutBuf = buf[:n]
		c.proxyOutOff = 0
	}

	fd := c.xprt.FD()
	for c.proxyOutOff < len(c.proxyOutBuf) {
		n, err := unix.Write(fd, c.proxyOutBuf[c.proxyOutOff:])
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				return HandshakeIncomplete
			}
			c.flags.set(flagError)
			c.flags.clear(flagSendProxy)
			return HandshakeComplete
		}
		c.proxyOutOff += n
	}

	c.proxyOutBuf = nil
	c.flags.clear(flagSendProxy)
	return HandshakeComplete
}
