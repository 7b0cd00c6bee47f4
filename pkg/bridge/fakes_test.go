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

package bridge

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/bgbridge/bloodgroup-bridge/pkg/classifier"
	"github.com/bgbridge/bloodgroup-bridge/pkg/corpus"
	"github.com/bgbridge/bloodgroup-bridge/pkg/helpers/syncutil"
	"github.com/bgbridge/bloodgroup-bridge/pkg/labels"
)

// fakeConn replays scripted lines. When the script runs out it returns
// endErr if set, otherwise it calls onDrained and reports a timeout.
type fakeConn struct {
	endErr    error
	onDrained func()
	path      string
	lines     []string
	written   []string
	writeErr  error
	mu        syncutil.Mutex
	closed    int
}

func (c *fakeConn) ReadLine(_ time.Duration) (string, bool, error) {
	c.mu.Lock()
	if len(c.lines) > 0 {
		line := c.lines[0]
		c.lines = c.lines[1:]
		c.mu.Unlock()
		return line, true, nil
	}
	endErr, onDrained := c.endErr, c.onDrained
	c.mu.Unlock()

	if endErr != nil {
		return "", false, endErr
	}
	if onDrained != nil {
		onDrained()
	}
	return "", false, nil
}

func (c *fakeConn) WriteLine(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, text)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *fakeConn) Path() string {
	return c.path
}

func (c *fakeConn) Written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.written)
}

func (c *fakeConn) Closed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// opener hands out the scripted connections in order, then fails.
type opener struct {
	conns []*fakeConn
	mu    syncutil.Mutex
	calls int
}

func (o *opener) Open() (Conn, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if len(o.conns) == 0 {
		return nil, errNoDevice
	}
	c := o.conns[0]
	o.conns = o.conns[1:]
	return c, nil
}

func (o *opener) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

var errNoDevice = errors.New("device unplugged")

// fakeSamples serves a fixed sample, reporting labels in empty as empty
// partitions.
type fakeSamples struct {
	table *labels.Table
	empty []labels.Label
	mu    syncutil.Mutex
	calls int
}

func (s *fakeSamples) NextExcept(skip []labels.Label) (corpus.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	for _, l := range s.table.Labels() {
		if slices.Contains(skip, l) {
			continue
		}
		if slices.Contains(s.empty, l) {
			return corpus.Sample{}, &corpus.EmptyCorpusError{Label: l}
		}
		return corpus.Sample{
			Path:  "/corpus/" + l.String() + "/cluster_1.bmp",
			Label: l,
			Image: classifier.Image{Size: classifier.Size{Width: 1, Height: 1, Channels: 1}, Pixels: []float32{0.5}},
		}, nil
	}
	return corpus.Sample{}, &corpus.EmptyCorpusError{}
}

func (s *fakeSamples) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeClassifier struct {
	err   error
	pred  classifier.Prediction
	mu    syncutil.Mutex
	calls int
}

func (c *fakeClassifier) Classify(_ context.Context, _ classifier.Image) (classifier.Prediction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return classifier.Prediction{}, c.err
	}
	return c.pred, nil
}

func (c *fakeClassifier) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// recordSink collects results and signals each one on got.
type recordSink struct {
	err     error
	got     chan Result
	results []Result
	mu      syncutil.Mutex
}

func newRecordSink() *recordSink {
	return &recordSink{got: make(chan Result, 16)}
}

func (s *recordSink) Report(_ context.Context, res Result) error {
	s.mu.Lock()
	s.results = append(s.results, res)
	s.mu.Unlock()
	s.got <- res
	return s.err
}

func (s *recordSink) Results() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.results)
}
