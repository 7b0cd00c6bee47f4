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
	"fmt"

	"github.com/bgbridge/bloodgroup-bridge/pkg/corpus"
	"github.com/bgbridge/bloodgroup-bridge/pkg/labels"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

func (b *Bridge) roundTrip(ctx context.Context, trigger Trigger) (Result, error) {
	start := b.clock.Now()

	sample, err := b.acquire()
	if err != nil {
		return Result{}, err
	}
	log.Info().
		Str("path", sample.Path).
		Str("label", sample.Label.String()).
		Msg("using corpus sample")

	pred, err := b.classifier.Classify(ctx, sample.Image)
	if err != nil {
		return Result{}, fmt.Errorf("failed to classify %s: %w", sample.Path, err)
	}

	res := Result{
		ID:            uuid.New(),
		Trigger:       trigger,
		Prediction:    pred,
		LowConfidence: pred.Confidence < b.cfg.ConfidenceThreshold,
		TrueLabel:     sample.Label,
		SamplePath:    sample.Path,
		Duration:      b.clock.Since(start),
	}

	ev := log.Info()
	if res.LowConfidence {
		ev = log.Warn().Float64("threshold", b.cfg.ConfidenceThreshold)
	}
	ev.Str("trigger", string(trigger)).
		Float64("confidence", pred.Confidence).
		Dur("duration", res.Duration).
		Msgf("predicted blood group: %s", pred.Label)

	return res, nil
}

// acquire draws a sample, skipping each label with an empty partition at
// most once per call.
func (b *Bridge) acquire() (corpus.Sample, error) {
	var skip []labels.Label
	for {
		sample, err := b.samples.NextExcept(skip)
		if err == nil {
			return sample, nil
		}

		var empty *corpus.EmptyCorpusError
		if errors.As(err, &empty) && empty.Label != "" {
			log.Warn().Msgf("no images for %s, trying another label", empty.Label)
			skip = append(skip, empty.Label)
			continue
		}
		return corpus.Sample{}, fmt.Errorf("failed to acquire sample: %w", err)
	}
}
