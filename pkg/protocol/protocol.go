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

// Package protocol implements the line protocol spoken by the fingerprint
// device and the state machine that groups device lines into frames.
package protocol

import (
	"strings"
)

// Device to bridge markers.
const (
	MarkerPredictNow = "PREDICT_NOW"
	MarkerFrameStart = "FINGERPRINT_START"
	MarkerFrameData  = "FINGERPRINT_DATA:"
	MarkerFrameEnd   = "FINGERPRINT_END"
)

// MarkerResult prefixes the bridge to device result line.
const MarkerResult = "BLOOD_GROUP:"

// FormatResult builds the line reported back to the device, without the
// trailing newline.
func FormatResult(label string) string {
	return MarkerResult + label
}

// ParseResult extracts the label from a result line.
func ParseResult(line string) (string, bool) {
	line = normalize(line)
	if !strings.HasPrefix(line, MarkerResult) {
		return "", false
	}
	label := line[len(MarkerResult):]
	if label == "" {
		return "", false
	}
	return label, true
}

func normalize(line string) string {
	line = strings.TrimSpace(line)
	return strings.Trim(line, "\r")
}
