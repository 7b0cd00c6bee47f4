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
	"time"

	"github.com/bgbridge/bloodgroup-bridge/pkg/helpers/syncutil"
)

// mockPort is a scripted serial port. Each Read returns the next chunk;
// once chunks run out it returns ReadError, or a timeout (0, nil).
type mockPort struct {
	ReadError  error
	WriteError error
	CloseError error
	chunks     [][]byte
	written    []byte
	timeouts   []time.Duration
	mu         syncutil.Mutex
	closeCalls int
	shortWrite bool
	closed     bool
}

func newMockPort(chunks ...string) *mockPort {
	m := &mockPort{}
	for _, c := range chunks {
		m.chunks = append(m.chunks, []byte(c))
	}
	return m
}

func (m *mockPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, errors.New("port closed")
	}
	if len(m.chunks) == 0 {
		if m.ReadError != nil {
			return 0, m.ReadError
		}
		return 0, nil
	}

	n := copy(p, m.chunks[0])
	if n < len(m.chunks[0]) {
		m.chunks[0] = m.chunks[0][n:]
	} else {
		m.chunks = m.chunks[1:]
	}
	return n, nil
}

func (m *mockPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.WriteError != nil {
		return 0, m.WriteError
	}
	n := len(p)
	if m.shortWrite && n > 1 {
		n = 1
	}
	m.written = append(m.written, p[:n]...)
	return n, nil
}

func (m *mockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.closeCalls++
	return m.CloseError
}

func (m *mockPort) SetReadTimeout(t time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeouts = append(m.timeouts, t)
	return nil
}

func (m *mockPort) Written() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.written)
}
