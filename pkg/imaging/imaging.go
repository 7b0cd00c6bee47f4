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

// Package imaging turns image files into classifier input tensors.
package imaging

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"io"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bgbridge/bloodgroup-bridge/pkg/classifier"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	_ "golang.org/x/image/bmp" // register decoder
	"golang.org/x/image/draw"
)

var ErrChannels = errors.New("unsupported channel count")

// DefaultTypes are the file extensions treated as images.
var DefaultTypes = []string{".jpg", ".jpeg", ".png", ".bmp"}

// IsImage reports whether path has one of the given extensions, ignoring case.
func IsImage(path string, types []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return false
	}
	return slices.ContainsFunc(types, func(t string) bool {
		return strings.EqualFold(t, ext)
	})
}

// Decode reads an encoded image and converts it to a tensor of the given size.
func Decode(r io.Reader, size classifier.Size) (classifier.Image, error) {
	src, format, err := image.Decode(r)
	if err != nil {
		return classifier.Image{}, fmt.Errorf("failed to decode image: %w", err)
	}
	log.Trace().Str("format", format).Stringer("bounds", src.Bounds()).Msg("decoded image")
	return FromImage(src, size)
}

// Load opens path on fs and decodes it.
func Load(fs afero.Fs, path string, size classifier.Size) (classifier.Image, error) {
	f, err := fs.Open(path)
	if err != nil {
		return classifier.Image{}, fmt.Errorf("failed to open image %s: %w", path, err)
	}
	defer func(f afero.File) {
		if closeErr := f.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Str("path", path).Msg("failed to close image file")
		}
	}(f)

	img, err := Decode(f, size)
	if err != nil {
		return classifier.Image{}, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// FromImage resizes src with bilinear interpolation and normalises each
// channel to [0,1]. Three channels produce RGB, one channel produces luma.
// Alpha is dropped: colour values are taken un-premultiplied.
func FromImage(src image.Image, size classifier.Size) (classifier.Image, error) {
	if size.Width <= 0 || size.Height <= 0 {
		return classifier.Image{}, fmt.Errorf("invalid target size %s", size)
	}
	if size.Channels != 1 && size.Channels != 3 {
		return classifier.Image{}, fmt.Errorf("%w: %d", ErrChannels, size.Channels)
	}

	dst := image.NewNRGBA(image.Rect(0, 0, size.Width, size.Height))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	out := classifier.Image{
		Size:   size,
		Pixels: make([]float32, 0, size.Len()),
	}

	for y := range size.Height {
		for x := range size.Width {
			c := dst.NRGBAAt(x, y)
			if size.Channels == 1 {
				opaque := color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff}
				g := color.GrayModel.Convert(opaque).(color.Gray) //nolint:forcetypeassert // GrayModel always returns Gray
				out.Pixels = append(out.Pixels, float32(g.Y)/255)
				continue
			}
			out.Pixels = append(out.Pixels,
				float32(c.R)/255,
				float32(c.G)/255,
				float32(c.B)/255,
			)
		}
	}

	return out, nil
}
