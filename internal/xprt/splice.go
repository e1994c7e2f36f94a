// Copyright (c) Swattek Systems, Inc.
// SPDX-License-Identifier: BSD-3-Clause

package xprt

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// pipe is a kernel pipe used as the intermediate buffer splice(2)
// requires for socket-to-socket zero-copy transfer.
type pipe struct {
	r, w int
}

func newPipe() (*pipe, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return nil, fmt.Errorf("xprt: pipe2: %w", err)
	}
	return &pipe{r: fds[0], w: fds[1]}, nil
}

func (p *pipe) Close() {
	unix.Close(p.r)
	unix.Close(p.w)
}

// SpliceMover moves bytes directly from one socket fd to another
// through a kernel pipe, without ever copying payload into user space.
// On EAGAIN it returns whatever partial progress was made with a nil
// error, so the caller can re-arm polling rather than spin.
type SpliceMover struct {
	pipe *pipe
}

// NewSpliceMover allocates the pipe buffer lazily so a mover that is
// never used (e.g. a TLS-terminated connection) costs nothing.
func NewSpliceMover() *SpliceMover { return &SpliceMover{} }

const spliceChunk = 256 * 1024

// Move transfers up to spliceChunk bytes from src to dst. It returns
// the number of bytes moved and whether the source has reached EOF.
// A zero-byte, nil-error result with moved=0 typically means EAGAIN on
// one leg; the caller should wait for the next readiness event.
func (m *SpliceMover) Move(src, dst int) (moved int, eof bool, err error) {
	if m.pipe == nil {
		m.pipe, err = newPipe()
		if err != nil {
			return 0, false, err
		}
	}

	// Bytes an earlier call left in the pipe go out before anything new
	// is pulled from src.
	if pending, err := unix.IoctlGetInt(m.pipe.r, unix.FIONREAD); err == nil && pending > 0 {
		w, err := unix.Splice(m.pipe.r, nil, dst, nil, pending, unix.SPLICE_F_NONBLOCK|unix.SPLICE_F_MOVE)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				return 0, false, nil
			}
			return 0, false, fmt.Errorf("xprt: splice out fd=%d: %w", dst, err)
		}
		return int(w), false, nil
	}

	n, err := unix.Splice(src, nil, m.pipe.w, nil, spliceChunk, unix.SPLICE_F_NONBLOCK|unix.SPLICE_F_MOVE)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("xprt: splice in fd=%d: %w", src, err)
	}
	if n == 0 {
		return 0, true, nil
	}

	var written int64
	for written < n {
		w, err := unix.Splice(m.pipe.r, nil, dst, nil, int(n-written), unix.SPLICE_F_NONBLOCK|unix.SPLICE_F_MOVE)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				// The pipe still holds n-written bytes; the next call
				// drains it before pulling more from src.
				break
			}
			return int(written), false, fmt.Errorf("xprt: splice out fd=%d: %w", dst, err)
		}
		written += w
	}
	return int(written), false, nil
}

// Close releases the intermediate pipe, if one was ever allocated.
func (m *SpliceMover) Close() {
	if m.pipe != nil {
		m.pipe.Close()
	}
}
