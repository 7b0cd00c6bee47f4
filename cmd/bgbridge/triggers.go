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

package main

import (
	"bufio"
	"context"
	"io"

	"github.com/rs/zerolog/log"
)

// readTriggers sends one trigger per line read from r, for demo mode. out
// is closed when r reaches EOF.
func readTriggers(ctx context.Context, r io.Reader, out chan<- struct{}) {
	defer close(out)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case out <- struct{}{}:
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil {
		log.Warn().Err(err).Msg("failed to read operator input")
	}
}
