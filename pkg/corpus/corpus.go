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

// Package corpus draws labelled sample images from a directory tree with
// one subdirectory per label. It stands in for device captured images.
package corpus

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"slices"
	"sort"
	"time"

	"github.com/bgbridge/bloodgroup-bridge/pkg/classifier"
	"github.com/bgbridge/bloodgroup-bridge/pkg/imaging"
	"github.com/bgbridge/bloodgroup-bridge/pkg/labels"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

var ErrEmptyCorpus = errors.New("corpus partition is empty")

// EmptyCorpusError names the label whose partition had no images.
type EmptyCorpusError struct {
	Label labels.Label
}

func (e *EmptyCorpusError) Error() string {
	if e.Label == "" {
		return "no corpus labels left to draw from"
	}
	return fmt.Sprintf("no images for label %q", string(e.Label))
}

func (*EmptyCorpusError) Is(target error) bool {
	return target == ErrEmptyCorpus
}

// Sample is one image drawn from the corpus and the label of the
// partition it came from.
type Sample struct {
	Path  string
	Label labels.Label
	Image classifier.Image
}

type Source struct {
	fs    afero.Fs
	table *labels.Table
	rng   *rand.Rand
	root  string
	types []string
	size  classifier.Size
}

type Option func(*Source)

// WithRand sets the random source, for reproducible draws.
func WithRand(r *rand.Rand) Option {
	return func(s *Source) {
		s.rng = r
	}
}

// WithImageTypes overrides the accepted file extensions.
func WithImageTypes(types []string) Option {
	return func(s *Source) {
		if len(types) > 0 {
			s.types = types
		}
	}
}

func NewSource(
	fs afero.Fs,
	root string,
	table *labels.Table,
	size classifier.Size,
	opts ...Option,
) *Source {
	seed := uint64(time.Now().UnixNano()) //nolint:gosec // not security sensitive
	s := &Source{
		fs:    fs,
		root:  root,
		table: table,
		size:  size,
		types: imaging.DefaultTypes,
		rng:   rand.New(rand.NewPCG(seed, seed>>1|1)), //nolint:gosec // sampling, not crypto
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Next draws a label uniformly, then an image uniformly from that label's
// partition.
func (s *Source) Next() (Sample, error) {
	return s.NextExcept(nil)
}

// NextExcept is Next restricted to labels not in skip.
func (s *Source) NextExcept(skip []labels.Label) (Sample, error) {
	candidates := make([]labels.Label, 0, s.table.Len())
	for _, l := range s.table.Labels() {
		if !slices.Contains(skip, l) {
			candidates = append(candidates, l)
		}
	}
	if len(candidates) == 0 {
		return Sample{}, &EmptyCorpusError{}
	}

	label := candidates[s.rng.IntN(len(candidates))]

	files, err := s.Files(label)
	if err != nil {
		return Sample{}, err
	}
	if len(files) == 0 {
		return Sample{}, &EmptyCorpusError{Label: label}
	}

	path := files[s.rng.IntN(len(files))]
	log.Debug().Str("label", label.String()).Str("path", path).Msg("drew corpus sample")

	img, err := imaging.Load(s.fs, path, s.size)
	if err != nil {
		return Sample{}, fmt.Errorf("failed to load sample for %q: %w", label.String(), err)
	}

	return Sample{
		Path:  path,
		Label: label,
		Image: img,
	}, nil
}

// Files lists the image files for label in a stable order. A missing
// partition directory is treated as empty.
func (s *Source) Files(label labels.Label) ([]string, error) {
	dir := filepath.Join(s.root, string(label))

	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		exists, existsErr := afero.DirExists(s.fs, dir)
		if existsErr == nil && !exists {
			log.Warn().Str("dir", dir).Msg("corpus partition missing")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read corpus partition %s: %w", dir, err)
	}

	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !imaging.IsImage(e.Name(), s.types) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// Counts returns the number of images per label, for startup reporting.
func (s *Source) Counts() (map[labels.Label]int, error) {
	counts := make(map[labels.Label]int, s.table.Len())
	for _, l := range s.table.Labels() {
		files, err := s.Files(l)
		if err != nil {
			return nil, err
		}
		counts[l] = len(files)
	}
	return counts, nil
}
