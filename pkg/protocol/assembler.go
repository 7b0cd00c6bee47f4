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

package protocol

import (
	"fmt"
	"strings"
)

type EventKind int

const (
	EventNoise EventKind = iota
	EventTriggerNow
	EventFrameStart
	EventFrameData
	EventFrameEnd
)

func (k EventKind) String() string {
	switch k {
	case EventNoise:
		return "noise"
	case EventTriggerNow:
		return "trigger_now"
	case EventFrameStart:
		return "frame_start"
	case EventFrameData:
		return "frame_data"
	case EventFrameEnd:
		return "frame_end"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Triggers reports whether the event requests a classification.
func (k EventKind) Triggers() bool {
	return k == EventTriggerNow || k == EventFrameEnd
}

// Event is produced for every line fed to an Assembler.
type Event struct {
	// Line is the normalised input line.
	Line string
	// Payload is the text after the data marker, FrameData only.
	Payload string
	Kind    EventKind
	// Chunks is the number of data lines in the frame, FrameEnd only.
	Chunks int
}

type State int

const (
	StateIdle State = iota
	StateReceiving
)

func (s State) String() string {
	if s == StateReceiving {
		return "receiving"
	}
	return "idle"
}

// Assembler reduces device lines to protocol events. It never blocks and
// only the end marker closes an open frame: unexpected lines inside a
// frame are reported as noise without changing state.
type Assembler struct {
	state  State
	chunks int
	bytes  int
}

func NewAssembler() *Assembler {
	return &Assembler{}
}

func (a *Assembler) State() State {
	return a.state
}

// Chunks returns the number of data lines received in the open frame.
func (a *Assembler) Chunks() int {
	return a.chunks
}

// PayloadBytes returns the payload size received in the open frame.
func (a *Assembler) PayloadBytes() int {
	return a.bytes
}

// Reset abandons any open frame.
func (a *Assembler) Reset() {
	a.state = StateIdle
	a.chunks = 0
	a.bytes = 0
}

// Feed consumes one line and returns the resulting event.
func (a *Assembler) Feed(line string) Event {
	line = normalize(line)

	switch a.state {
	case StateIdle:
		switch line {
		case MarkerPredictNow:
			return Event{Kind: EventTriggerNow, Line: line}
		case MarkerFrameStart:
			a.state = StateReceiving
			a.chunks = 0
			a.bytes = 0
			return Event{Kind: EventFrameStart, Line: line}
		default:
			return Event{Kind: EventNoise, Line: line}
		}
	case StateReceiving:
		if line == MarkerFrameEnd {
			ev := Event{Kind: EventFrameEnd, Line: line, Chunks: a.chunks}
			a.Reset()
			return ev
		}
		if payload, ok := strings.CutPrefix(line, MarkerFrameData); ok {
			a.chunks++
			a.bytes += len(payload)
			return Event{Kind: EventFrameData, Line: line, Payload: payload}
		}
		return Event{Kind: EventNoise, Line: line}
	default:
		a.Reset()
		return Event{Kind: EventNoise, Line: line}
	}
}

// FeedAll feeds every line in order and returns the events.
func (a *Assembler) FeedAll(lines []string) []Event {
	events := make([]Event, 0, len(lines))
	for _, l := range lines {
		events = append(events, a.Feed(l))
	}
	return events
}
