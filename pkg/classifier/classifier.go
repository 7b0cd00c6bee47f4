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

// Package classifier defines the boundary to the external image classifier.
// Implementations receive an image already resized and normalised to the
// configured Size and return a distribution in label table order.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/bgbridge/bloodgroup-bridge/pkg/labels"
)

var (
	// ErrModelUnavailable means the model behind the classifier could not
	// be loaded. Fatal at startup.
	ErrModelUnavailable = errors.New("classifier model unavailable")
	ErrImageSize        = errors.New("image does not match classifier input size")
	ErrDistribution     = errors.New("invalid prediction distribution")
)

// Size is the classifier input shape.
type Size struct {
	Width    int `json:"width"`
	Height   int `json:"height"`
	Channels int `json:"channels"`
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%dx%d", s.Width, s.Height, s.Channels)
}

// Len is the number of values in an image of this size.
func (s Size) Len() int {
	return s.Width * s.Height * s.Channels
}

// Image is a normalised pixel tensor in row-major HWC order, values in [0,1].
type Image struct {
	Pixels []float32
	Size   Size
}

// At returns the value at row y, column x, channel c.
func (img Image) At(x, y, c int) float32 {
	return img.Pixels[(y*img.Size.Width+x)*img.Size.Channels+c]
}

// Validate checks that img has exactly the expected shape.
func (img Image) Validate(want Size) error {
	if img.Size != want {
		return fmt.Errorf("%w: got %s, want %s", ErrImageSize, img.Size, want)
	}
	if len(img.Pixels) != want.Len() {
		return fmt.Errorf("%w: %d pixel values, want %d", ErrImageSize, len(img.Pixels), want.Len())
	}
	return nil
}

// Prediction is the result of a single classification call.
type Prediction struct {
	Label        labels.Label `json:"label"`
	Distribution []float64    `json:"distribution"`
	Index        int          `json:"index"`
	Confidence   float64      `json:"confidence"`
}

// Classifier turns an image into a label prediction.
type Classifier interface {
	Classify(ctx context.Context, img Image) (Prediction, error)
}

// FromDistribution picks the most likely label from dist. The distribution
// is assumed to be in table order.
func FromDistribution(table *labels.Table, dist []float64) (Prediction, error) {
	if len(dist) != table.Len() {
		return Prediction{}, fmt.Errorf(
			"%w: %d entries for %d labels", ErrDistribution, len(dist), table.Len(),
		)
	}

	best := 0
	for i, p := range dist {
		if math.IsNaN(p) {
			return Prediction{}, fmt.Errorf("%w: NaN at index %d", ErrDistribution, i)
		}
		if p > dist[best] {
			best = i
		}
	}

	label, err := table.Label(best)
	if err != nil {
		return Prediction{}, fmt.Errorf("failed to resolve predicted label: %w", err)
	}

	out := make([]float64, len(dist))
	copy(out, dist)

	return Prediction{
		Index:        best,
		Label:        label,
		Confidence:   dist[best],
		Distribution: out,
	}, nil
}
