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
	"fmt"
	"runtime"
	"sort"
	"strings"

	"go.bug.st/serial/enumerator"
)

// Device is a serial port found during enumeration.
type Device struct {
	Path         string
	Product      string
	VID          string
	PID          string
	SerialNumber string
	USB          bool
}

// Description is a short human readable summary of the device.
func (d Device) Description() string {
	switch {
	case d.USB && d.Product != "":
		return fmt.Sprintf("%s (%s:%s)", d.Product, d.VID, d.PID)
	case d.USB:
		return fmt.Sprintf("USB serial (%s:%s)", d.VID, d.PID)
	default:
		return "serial port"
	}
}

// Enumerator lists candidate serial devices.
type Enumerator func() ([]Device, error)

// keepDevice filters out ports that can't be a USB attached sensor board.
func keepDevice(goos, path string) bool {
	switch goos {
	case "linux":
		name := path[strings.LastIndex(path, "/")+1:]
		return strings.HasPrefix(name, "ttyUSB") || strings.HasPrefix(name, "ttyACM")
	case "darwin":
		return strings.HasPrefix(path, "/dev/tty.usbserial") ||
			strings.HasPrefix(path, "/dev/tty.usbmodem") ||
			strings.HasPrefix(path, "/dev/cu.usbserial") ||
			strings.HasPrefix(path, "/dev/cu.usbmodem")
	case "windows":
		return strings.HasPrefix(path, "COM")
	default:
		return true
	}
}

func filterDevices(goos string, ports []*enumerator.PortDetails) []Device {
	devices := make([]Device, 0, len(ports))
	for _, p := range ports {
		if p == nil || !keepDevice(goos, p.Name) {
			continue
		}
		devices = append(devices, Device{
			Path:         p.Name,
			Product:      p.Product,
			VID:          strings.ToLower(p.VID),
			PID:          strings.ToLower(p.PID),
			SerialNumber: p.SerialNumber,
			USB:          p.IsUSB,
		})
	}
	sort.SliceStable(devices, func(i, j int) bool {
		return devices[i].Path < devices[j].Path
	})
	return devices
}

// ListDevices enumerates serial devices on this host.
func ListDevices() ([]Device, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to get serial ports list on %s: %w", runtime.GOOS, err)
	}
	return filterDevices(runtime.GOOS, ports), nil
}
