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

// Package tfserving classifies images against a model hosted by TensorFlow
// Serving over its REST API.
package tfserving

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bgbridge/bloodgroup-bridge/pkg/classifier"
	"github.com/bgbridge/bloodgroup-bridge/pkg/labels"
	"github.com/bgbridge/bloodgroup-bridge/pkg/shared/httpclient"
	"github.com/rs/zerolog/log"
)

const stateAvailable = "AVAILABLE"

var ErrEmptyPrediction = errors.New("model returned no predictions")

type Settings struct {
	URL     string
	Model   string
	Token   string
	Size    classifier.Size
	Timeout time.Duration
}

type modelStatusResponse struct {
	ModelVersionStatus []struct {
		Version string `json:"version"`
		State   string `json:"state"`
	} `json:"model_version_status"`
}

type predictRequest struct {
	Instances [][][][]float32 `json:"instances"`
}

type predictResponse struct {
	Predictions [][]float64 `json:"predictions"`
}

// Client implements classifier.Classifier.
type Client struct {
	http     *httpclient.Client
	table    *labels.Table
	base     string
	model    string
	settings Settings
}

type Option func(*Client)

// WithHTTPClient replaces the HTTP client, mainly for tests.
func WithHTTPClient(c *httpclient.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

func New(settings Settings, table *labels.Table, opts ...Option) (*Client, error) {
	u, err := url.Parse(settings.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid classifier url %q", settings.URL)
	}
	if settings.Model == "" {
		return nil, errors.New("classifier model name is required")
	}

	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = httpclient.DefaultTimeoutSeconds * time.Second
	}

	c := &Client{
		settings: settings,
		table:    table,
		base:     strings.TrimRight(settings.URL, "/"),
		model:    url.PathEscape(settings.Model),
		http:     httpclient.NewClientWithTimeout(settings.Token, timeout),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) statusURL() string {
	return c.base + "/v1/models/" + c.model
}

func (c *Client) predictURL() string {
	return c.statusURL() + ":predict"
}

// Ping checks that at least one version of the model is loaded.
func (c *Client) Ping(ctx context.Context) error {
	var status modelStatusResponse
	err := c.http.DoJSON(ctx, http.MethodGet, c.statusURL(), nil, &status)
	if err != nil {
		return fmt.Errorf("%w: %w", classifier.ErrModelUnavailable, err)
	}

	for _, v := range status.ModelVersionStatus {
		if v.State == stateAvailable {
			log.Info().
				Str("model", c.settings.Model).
				Str("version", v.Version).
				Msg("classifier model available")
			return nil
		}
	}

	return fmt.Errorf(
		"%w: no available version of model %q", classifier.ErrModelUnavailable, c.settings.Model,
	)
}

// Classify sends img as a single instance and maps the returned
// distribution onto the label table.
func (c *Client) Classify(ctx context.Context, img classifier.Image) (classifier.Prediction, error) {
	if err := img.Validate(c.settings.Size); err != nil {
		return classifier.Prediction{}, err
	}

	req := predictRequest{Instances: [][][][]float32{toNested(img)}}
	var resp predictResponse
	if err := c.http.DoJSON(ctx, http.MethodPost, c.predictURL(), req, &resp); err != nil {
		return classifier.Prediction{}, fmt.Errorf("predict request failed: %w", err)
	}

	if len(resp.Predictions) == 0 {
		return classifier.Prediction{}, ErrEmptyPrediction
	}

	pred, err := classifier.FromDistribution(c.table, resp.Predictions[0])
	if err != nil {
		return classifier.Prediction{}, err
	}
	return pred, nil
}

// toNested reshapes the flat HWC buffer into the [H][W][C] layout the
// REST API expects for a Keras image input.
func toNested(img classifier.Image) [][][]float32 {
	s := img.Size
	rows := make([][][]float32, s.Height)
	for y := range s.Height {
		row := make([][]float32, s.Width)
		for x := range s.Width {
			off := (y*s.Width + x) * s.Channels
			row[x] = img.Pixels[off : off+s.Channels]
		}
		rows[y] = row
	}
	return rows
}
