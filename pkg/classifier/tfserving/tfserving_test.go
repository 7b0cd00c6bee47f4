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

package tfserving

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bgbridge/bloodgroup-bridge/pkg/classifier"
	"github.com/bgbridge/bloodgroup-bridge/pkg/labels"
	"github.com/bgbridge/bloodgroup-bridge/pkg/shared/httpclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSize = classifier.Size{Width: 2, Height: 2, Channels: 3}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Settings{
		URL:     srv.URL + "/",
		Model:   "blood_group",
		Size:    testSize,
		Timeout: 5 * time.Second,
	}, labels.MustNewTable(labels.BloodGroups))
	require.NoError(t, err)
	return c
}

func testImage() classifier.Image {
	img := classifier.Image{Size: testSize, Pixels: make([]float32, testSize.Len())}
	for i := range img.Pixels {
		img.Pixels[i] = float32(i) / float32(len(img.Pixels))
	}
	return img
}

func TestNewValidatesSettings(t *testing.T) {
	t.Parallel()

	table := labels.MustNewTable(labels.BloodGroups)

	_, err := New(Settings{URL: "not a url", Model: "m"}, table)
	require.Error(t, err)

	_, err = New(Settings{URL: "http://localhost:8501"}, table)
	require.Error(t, err)

	c, err := New(Settings{URL: "http://localhost:8501", Model: "m"}, table)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8501/v1/models/m:predict", c.predictURL())
}

func TestPing(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/models/blood_group", r.URL.Path)
		_, _ = w.Write([]byte(`{"model_version_status":[
			{"version":"1","state":"END"},
			{"version":"2","state":"AVAILABLE"}
		]}`))
	})

	require.NoError(t, c.Ping(context.Background()))
}

func TestPingWithCustomHTTPClient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"model_version_status":[{"version":"1","state":"AVAILABLE"}]}`))
	}))
	t.Cleanup(srv.Close)

	c, err := New(
		Settings{URL: srv.URL, Model: "blood_group", Size: testSize},
		labels.MustNewTable(labels.BloodGroups),
		WithHTTPClient(httpclient.NewClient("s3cret")),
	)
	require.NoError(t, err)
	require.NoError(t, c.Ping(context.Background()))
}

func TestPingNoAvailableVersion(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"model_version_status":[{"version":"1","state":"LOADING"}]}`))
	})

	err := c.Ping(context.Background())
	require.ErrorIs(t, err, classifier.ErrModelUnavailable)
}

func TestPingServerError(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "Servable not found", http.StatusNotFound)
	})

	err := c.Ping(context.Background())
	require.ErrorIs(t, err, classifier.ErrModelUnavailable)
	assert.Contains(t, err.Error(), "404")
}

func TestClassify(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/models/blood_group:predict", r.URL.Path)

		var req predictRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Len(t, req.Instances, 1)
		assert.Len(t, req.Instances[0], testSize.Height)
		assert.Len(t, req.Instances[0][0], testSize.Width)
		assert.Len(t, req.Instances[0][0][0], testSize.Channels)

		_, _ = w.Write([]byte(`{"predictions":[[0.05,0.05,0.05,0.6,0.05,0.05,0.1,0.05]]}`))
	})

	pred, err := c.Classify(context.Background(), testImage())
	require.NoError(t, err)
	assert.Equal(t, labels.Label("AB-"), pred.Label)
	assert.Equal(t, 3, pred.Index)
	assert.InDelta(t, 0.6, pred.Confidence, 1e-9)
	assert.Len(t, pred.Distribution, 8)
}

func TestClassifyRejectsWrongSize(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		t.Error("request must not be sent")
		w.WriteHeader(http.StatusInternalServerError)
	})

	img := classifier.Image{
		Size:   classifier.Size{Width: 4, Height: 4, Channels: 3},
		Pixels: make([]float32, 48),
	}
	_, err := c.Classify(context.Background(), img)
	require.ErrorIs(t, err, classifier.ErrImageSize)
}

func TestClassifyErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		wantErr error
		name    string
		body    string
		status  int
	}{
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			body:   `{"error":"boom"}`,
		},
		{
			name:    "empty predictions",
			status:  http.StatusOK,
			body:    `{"predictions":[]}`,
			wantErr: ErrEmptyPrediction,
		},
		{
			name:    "wrong distribution length",
			status:  http.StatusOK,
			body:    `{"predictions":[[0.5,0.5]]}`,
			wantErr: classifier.ErrDistribution,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.Classify(context.Background(), testImage())
			require.Error(t, err)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestToNested(t *testing.T) {
	t.Parallel()

	img := testImage()
	nested := toNested(img)

	for y := range testSize.Height {
		for x := range testSize.Width {
			for ch := range testSize.Channels {
				assert.InDelta(t, img.At(x, y, ch), nested[y][x][ch], 1e-9)
			}
		}
	}
}
