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

package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/bgbridge/bloodgroup-bridge/pkg/bridge"
	"github.com/bgbridge/bloodgroup-bridge/pkg/classifier"
	"github.com/bgbridge/bloodgroup-bridge/pkg/imaging"
	"github.com/bgbridge/bloodgroup-bridge/pkg/labels"
	"github.com/bgbridge/bloodgroup-bridge/pkg/transport"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// ListPorts prints every enumerated serial device.
func ListPorts(out io.Writer, enumerate transport.Enumerator) error {
	devices, err := enumerate()
	if err != nil {
		return fmt.Errorf("failed to list serial ports: %w", err)
	}

	if len(devices) == 0 {
		_, _ = fmt.Fprintln(out, "no serial ports found")
		return nil
	}

	_, _ = fmt.Fprintf(out, "found %d serial port(s):\n", len(devices))
	for i, d := range devices {
		_, _ = fmt.Fprintf(out, "   %d. %s - %s\n", i+1, d.Path, d.Description())
		if d.SerialNumber != "" {
			_, _ = fmt.Fprintf(out, "      serial number: %s\n", d.SerialNumber)
		}
	}
	return nil
}

type PredictOptions struct {
	Classifier classifier.Classifier
	Fs         afero.Fs
	Table      *labels.Table
	Path       string
	Size       classifier.Size
	Threshold  float64
}

// Predict classifies one image file and prints the result.
//
//nolint:gocritic // options passed by value
func Predict(ctx context.Context, out io.Writer, opts PredictOptions) error {
	img, err := imaging.Load(opts.Fs, opts.Path, opts.Size)
	if err != nil {
		return fmt.Errorf("failed to load image: %w", err)
	}

	pred, err := opts.Classifier.Classify(ctx, img)
	if err != nil {
		return fmt.Errorf("failed to classify %s: %w", opts.Path, err)
	}

	res := bridge.Result{
		ID:            uuid.New(),
		Trigger:       bridge.TriggerImage,
		Prediction:    pred,
		LowConfidence: pred.Confidence < opts.Threshold,
		SamplePath:    opts.Path,
	}
	if err := bridge.NewConsoleSink(out, opts.Table).Report(ctx, res); err != nil {
		return fmt.Errorf("failed to print prediction: %w", err)
	}
	return nil
}
