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

// Package transport owns the serial connection to the fingerprint device:
// discovery, preferred and fallback opening, and line oriented I/O.
package transport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

// ErrNoDeviceFound means no device could be opened. Not fatal: the bridge
// falls back to demo mode.
var ErrNoDeviceFound = errors.New("no serial device found")

// Port is the subset of a serial port used by the bridge.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// PortFactory opens a serial port.
type PortFactory func(path string, mode *serial.Mode) (Port, error)

// DefaultPortFactory opens real serial ports.
func DefaultPortFactory(path string, mode *serial.Mode) (Port, error) {
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}
	return port, nil
}

type Settings struct {
	Path     string
	BaudRate int
}

type Manager struct {
	factory   PortFactory
	enumerate Enumerator
	clock     clockwork.Clock
	goos      string
	settings  Settings
}

type Option func(*Manager)

func WithPortFactory(f PortFactory) Option {
	return func(m *Manager) {
		m.factory = f
	}
}

func WithEnumerator(e Enumerator) Option {
	return func(m *Manager) {
		m.enumerate = e
	}
}

func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// withGOOS overrides the platform for path checks in tests.
func withGOOS(goos string) Option {
	return func(m *Manager) {
		m.goos = goos
	}
}

func NewManager(settings Settings, opts ...Option) *Manager {
	m := &Manager{
		settings:  settings,
		factory:   DefaultPortFactory,
		enumerate: ListDevices,
		clock:     clockwork.NewRealClock(),
		goos:      runtime.GOOS,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open connects to the preferred device, or to the first enumerated device
// if that fails. The preferred path is tried even when enumeration finds
// nothing, since onboard UARTs are not listed. Returns ErrNoDeviceFound when
// every attempt fails or there is nothing to try.
func (m *Manager) Open() (*Handle, error) {
	devices, err := m.enumerate()
	if err != nil {
		log.Warn().Err(err).Msg("serial device enumeration failed")
		devices = nil
	}

	log.Info().Msgf("found %d serial port(s)", len(devices))
	for i, d := range devices {
		log.Info().Msgf("  %d. %s - %s", i+1, d.Path, d.Description())
	}

	var lastErr error
	preferred := m.settings.Path

	if preferred != "" {
		log.Info().Msgf("trying to connect to %s", preferred)
		h, err := m.openPath(preferred)
		if err == nil {
			return h, nil
		}
		log.Warn().Err(err).Msgf("failed to connect to %s", preferred)
		lastErr = err
	}

	if len(devices) == 0 {
		if lastErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoDeviceFound, lastErr)
		}
		return nil, ErrNoDeviceFound
	}

	first := devices[0].Path
	if first != preferred {
		log.Info().Msgf("attempting to connect to %s", first)
		h, err := m.openPath(first)
		if err == nil {
			return h, nil
		}
		log.Warn().Err(err).Msgf("failed to connect to %s", first)
		lastErr = err
	}

	return nil, fmt.Errorf("%w: %w", ErrNoDeviceFound, lastErr)
}

func (m *Manager) openPath(path string) (*Handle, error) {
	if m.goos != "windows" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("failed to stat device path %s: %w", path, err)
		}
	}

	port, err := m.factory(path, &serial.Mode{
		BaudRate: m.settings.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}

	log.Info().Int("baud", m.settings.BaudRate).Msgf("connected to %s", path)
	return newHandle(port, path, m.clock), nil
}
