// Blood Group Bridge
// Copyright (c) 2026 The Blood Group Bridge Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Blood Group Bridge.
//
// Blood Group Bridge is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Blood Group Bridge is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Blood Group Bridge.  If not, see <http://www.gnu.org/licenses/>.

package transport

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bgbridge/bloodgroup-bridge/pkg/helpers/syncutil"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// maxLineLength bounds a single protocol line. Longer input is discarded
// up to the next newline.
const maxLineLength = 8192

var ErrClosed = errors.New("serial port closed")

// Handle is one open serial connection. It is owned by a single caller;
// only Close may be called concurrently.
type Handle struct {
	port       Port
	clock      clockwork.Clock
	path       string
	lines      []string
	partial    []byte
	readBuf    []byte
	mu         syncutil.Mutex // protects closed
	overflowed bool
	closed     bool
}

func newHandle(port Port, path string, clock clockwork.Clock) *Handle {
	return &Handle{
		port:    port,
		path:    path,
		clock:   clock,
		readBuf: make([]byte, 1024),
	}
}

// Path is the device path this handle was opened on.
func (h *Handle) Path() string {
	return h.path
}

func (h *Handle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// ReadLine waits up to timeout for a complete line. A timeout returns
// ok=false and a nil error. Partial lines are kept for the next call.
func (h *Handle) ReadLine(timeout time.Duration) (string, bool, error) {
	if line, ok := h.popLine(); ok {
		return line, true, nil
	}
	if h.isClosed() {
		return "", false, ErrClosed
	}

	deadline := h.clock.Now().Add(timeout)
	for {
		remaining := deadline.Sub(h.clock.Now())
		if remaining <= 0 {
			return "", false, nil
		}

		if err := h.port.SetReadTimeout(remaining); err != nil {
			return "", false, fmt.Errorf("failed to set read timeout on serial port: %w", err)
		}

		n, err := h.port.Read(h.readBuf)
		if n > 0 {
			h.ingest(h.readBuf[:n])
		}
		if line, ok := h.popLine(); ok {
			return line, true, nil
		}
		if err != nil {
			return "", false, fmt.Errorf("failed to read from serial port %s: %w", h.path, err)
		}
		if n == 0 {
			// read timed out
			return "", false, nil
		}
	}
}

func (h *Handle) ingest(data []byte) {
	for _, b := range data {
		if b == '\n' {
			if h.overflowed {
				h.overflowed = false
				h.partial = h.partial[:0]
				continue
			}
			line := strings.ToValidUTF8(string(h.partial), "")
			h.lines = append(h.lines, strings.TrimRight(line, "\r"))
			h.partial = h.partial[:0]
			continue
		}

		if h.overflowed {
			continue
		}

		if len(h.partial) >= maxLineLength {
			log.Warn().Str("path", h.path).Msg("line too long, discarding data until next newline")
			h.partial = h.partial[:0]
			h.overflowed = true
			continue
		}

		h.partial = append(h.partial, b)
	}
}

func (h *Handle) popLine() (string, bool) {
	if len(h.lines) == 0 {
		return "", false
	}
	line := h.lines[0]
	h.lines = h.lines[1:]
	return line, true
}

// WriteLine writes text followed by a newline.
func (h *Handle) WriteLine(text string) error {
	if h.isClosed() {
		return ErrClosed
	}

	data := []byte(text + "\n")
	for len(data) > 0 {
		n, err := h.port.Write(data)
		if err != nil {
			return fmt.Errorf("failed to write to serial port %s: %w", h.path, err)
		}
		if n == 0 {
			return fmt.Errorf("failed to write to serial port %s: zero bytes written", h.path)
		}
		data = data[n:]
	}
	return nil
}

// Close releases the port. Safe to call more than once.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if err := h.port.Close(); err != nil {
		return fmt.Errorf("failed to close serial port: %w", err)
	}
	return nil
}
