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
	"fmt"
	"io"
	"time"

	"github.com/bgbridge/bloodgroup-bridge/pkg/classifier"
	"github.com/bgbridge/bloodgroup-bridge/pkg/helpers/syncutil"
	"github.com/bgbridge/bloodgroup-bridge/pkg/labels"
	"github.com/bgbridge/bloodgroup-bridge/pkg/protocol"
	"github.com/google/uuid"
)

// Trigger is what started a round trip.
type Trigger string

const (
	TriggerPredictNow Trigger = "predict_now"
	TriggerFrame      Trigger = "frame"
	TriggerOperator   Trigger = "operator"
	// TriggerImage is a one-off classification of a file named on the
	// command line.
	TriggerImage Trigger = "image"
)

func triggerFor(kind protocol.EventKind) Trigger {
	if kind == protocol.EventFrameEnd {
		return TriggerFrame
	}
	return TriggerPredictNow
}

// Result is one completed classification round trip.
type Result struct {
	Trigger    Trigger               `json:"trigger"`
	TrueLabel  labels.Label          `json:"trueLabel,omitempty"`
	SamplePath string                `json:"samplePath,omitempty"`
	Prediction classifier.Prediction `json:"prediction"`
	Duration   time.Duration         `json:"durationNs"`
	ID         uuid.UUID             `json:"id"`
	// LowConfidence is set when the confidence is below the configured
	// threshold. Such results are still reported.
	LowConfidence bool `json:"lowConfidence"`
}

// Sink receives every successful round trip.
type Sink interface {
	Report(ctx context.Context, res Result) error
}

// ConsoleSink prints results for the operator, including the full
// per-label distribution.
type ConsoleSink struct {
	out   io.Writer
	table *labels.Table
	mu    syncutil.Mutex
}

func NewConsoleSink(out io.Writer, table *labels.Table) *ConsoleSink {
	return &ConsoleSink{out: out, table: table}
}

func (s *ConsoleSink) Report(_ context.Context, res Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pred := res.Prediction
	if _, err := fmt.Fprintf(s.out, "\npredicted blood group: %s\nconfidence: %.2f%%\n",
		pred.Label, pred.Confidence*100); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	if res.LowConfidence {
		_, _ = fmt.Fprintln(s.out, "warning: low confidence prediction")
	}

	_, _ = fmt.Fprintln(s.out, "\nall predictions:")
	for i, l := range s.table.Labels() {
		if i >= len(pred.Distribution) {
			break
		}
		_, _ = fmt.Fprintf(s.out, "   %-6s : %5.2f%%\n", l, pred.Distribution[i]*100)
	}

	if res.TrueLabel != "" {
		_, _ = fmt.Fprintf(s.out, "\nsample: %s (actual blood group: %s)\n", res.SamplePath, res.TrueLabel)
	}
	return nil
}
