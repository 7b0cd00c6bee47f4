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

// Package labels holds the ordered set of classification outcomes. The order
// of a Table must match the order the classifier uses to index its output
// distribution.
package labels

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyTable     = errors.New("label table is empty")
	ErrDuplicateLabel = errors.New("duplicate label")
	ErrBlankLabel     = errors.New("blank label")
	ErrOutOfRange     = errors.New("label index out of range")
	ErrUnknownLabel   = errors.New("unknown label")
)

// Label is a single classification outcome, e.g. "AB+".
type Label string

func (l Label) String() string {
	return string(l)
}

// BloodGroups is the label order the fingerprint model was trained with.
var BloodGroups = []string{"A+", "A-", "AB+", "AB-", "B+", "B-", "O+", "O-"}

// Table is an immutable, ordered label set with an index bijection.
type Table struct {
	index  map[Label]int
	labels []Label
}

// NewTable builds a table from names in classifier output order.
func NewTable(names []string) (*Table, error) {
	if len(names) == 0 {
		return nil, ErrEmptyTable
	}

	t := &Table{
		labels: make([]Label, 0, len(names)),
		index:  make(map[Label]int, len(names)),
	}

	for i, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("%w at index %d", ErrBlankLabel, i)
		}
		l := Label(name)
		if prev, ok := t.index[l]; ok {
			return nil, fmt.Errorf("%w %q at indexes %d and %d", ErrDuplicateLabel, name, prev, i)
		}
		t.index[l] = i
		t.labels = append(t.labels, l)
	}

	return t, nil
}

// MustNewTable is NewTable for static label sets.
func MustNewTable(names []string) *Table {
	t, err := NewTable(names)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Table) Len() int {
	return len(t.labels)
}

// Labels returns a copy of the labels in table order.
func (t *Table) Labels() []Label {
	out := make([]Label, len(t.labels))
	copy(out, t.labels)
	return out
}

// Label returns the label at index i.
func (t *Table) Label(i int) (Label, error) {
	if i < 0 || i >= len(t.labels) {
		return "", fmt.Errorf("%w: %d not in [0,%d)", ErrOutOfRange, i, len(t.labels))
	}
	return t.labels[i], nil
}

// Index returns the position of l in the table.
func (t *Table) Index(l Label) (int, error) {
	i, ok := t.index[l]
	if !ok {
		return -1, fmt.Errorf("%w: %q", ErrUnknownLabel, string(l))
	}
	return i, nil
}

func (t *Table) Contains(l Label) bool {
	_, ok := t.index[l]
	return ok
}
