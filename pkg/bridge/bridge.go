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

// Package bridge runs the read-evaluate loop between the fingerprint device
// and the classifier, falling back to operator triggered demo mode when no
// device is attached.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bgbridge/bloodgroup-bridge/pkg/classifier"
	"github.com/bgbridge/bloodgroup-bridge/pkg/corpus"
	"github.com/bgbridge/bloodgroup-bridge/pkg/helpers/syncutil"
	"github.com/bgbridge/bloodgroup-bridge/pkg/labels"
	"github.com/bgbridge/bloodgroup-bridge/pkg/protocol"
	"github.com/bgbridge/bloodgroup-bridge/pkg/transport"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Limits for logging device telemetry lines, per second and burst.
const (
	telemetryRate  = 20
	telemetryBurst = 50
)

type Mode int

const (
	ModeUnknown Mode = iota
	ModeLive
	ModeDemo
)

func (m Mode) String() string {
	switch m {
	case ModeLive:
		return "live"
	case ModeDemo:
		return "demo"
	default:
		return "unknown"
	}
}

// Conn is an open line oriented device connection.
type Conn interface {
	ReadLine(timeout time.Duration) (string, bool, error)
	WriteLine(text string) error
	Close() error
	Path() string
}

// OpenFunc opens the device connection. transport.ErrNoDeviceFound or any
// other error selects demo mode at startup.
type OpenFunc func() (Conn, error)

// SampleSource supplies the images that are classified.
type SampleSource interface {
	NextExcept(skip []labels.Label) (corpus.Sample, error)
}

type Config struct {
	ReadTimeout         time.Duration
	ReconnectDelay      time.Duration
	ConfidenceThreshold float64
	// ForceDemo skips device discovery.
	ForceDemo bool
}

type Deps struct {
	Open       OpenFunc
	Samples    SampleSource
	Classifier classifier.Classifier
	// Triggers carries operator requests in demo mode. A closed channel
	// ends the demo loop.
	Triggers <-chan struct{}
	Clock    clockwork.Clock
	Sinks    []Sink
}

type Bridge struct {
	open       OpenFunc
	samples    SampleSource
	classifier classifier.Classifier
	triggers   <-chan struct{}
	clock      clockwork.Clock
	sinks      []Sink
	telemetry  *rate.Limiter
	cfg        Config
	dropped    int
	mu         syncutil.Mutex // protects mode
	mode       Mode
}

func New(cfg Config, deps Deps) (*Bridge, error) {
	if deps.Samples == nil {
		return nil, errors.New("sample source is required")
	}
	if deps.Classifier == nil {
		return nil, errors.New("classifier is required")
	}
	if deps.Open == nil && !cfg.ForceDemo {
		return nil, errors.New("open function is required outside demo mode")
	}
	if cfg.ReadTimeout <= 0 {
		return nil, fmt.Errorf("invalid read timeout: %s", cfg.ReadTimeout)
	}
	if cfg.ReconnectDelay <= 0 {
		return nil, fmt.Errorf("invalid reconnect delay: %s", cfg.ReconnectDelay)
	}

	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Bridge{
		cfg:        cfg,
		open:       deps.Open,
		samples:    deps.Samples,
		classifier: deps.Classifier,
		triggers:   deps.Triggers,
		clock:      clock,
		sinks:      deps.Sinks,
		telemetry:  rate.NewLimiter(telemetryRate, telemetryBurst),
	}, nil
}

// Mode returns the operating mode, ModeUnknown until Run has chosen one.
func (b *Bridge) Mode() Mode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mode
}

func (b *Bridge) setMode(m Mode) {
	b.mu.Lock()
	b.mode = m
	b.mu.Unlock()
}

// Run picks the operating mode once and loops until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	if b.cfg.ForceDemo {
		log.Info().Msg("demo mode forced, skipping device discovery")
		b.setMode(ModeDemo)
		return b.runDemo(ctx)
	}

	conn, err := b.open()
	if err != nil {
		if errors.Is(err, transport.ErrNoDeviceFound) {
			log.Warn().Err(err).Msg("no device connected, running in demo mode")
		} else {
			log.Error().Err(err).Msg("failed to open device, running in demo mode")
		}
		b.setMode(ModeDemo)
		return b.runDemo(ctx)
	}

	b.setMode(ModeLive)
	return b.runLive(ctx, conn)
}

func (b *Bridge) runLive(ctx context.Context, conn Conn) error {
	log.Info().Msgf("live mode: waiting for fingerprint data on %s", conn.Path())

	asm := protocol.NewAssembler()
	defer func() {
		if conn != nil {
			if err := conn.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close device")
			}
		}
	}()

	for {
		if ctx.Err() != nil {
			log.Info().Msg("bridge stopped")
			return nil
		}

		line, ok, err := conn.ReadLine(b.cfg.ReadTimeout)
		if err != nil {
			log.Warn().Err(err).Msgf("lost connection to %s", conn.Path())
			if cerr := conn.Close(); cerr != nil {
				log.Debug().Err(cerr).Msg("error closing lost device")
			}
			if asm.State() == protocol.StateReceiving {
				log.Warn().Int("chunks", asm.Chunks()).Msg("frame abandoned by disconnect")
			}
			asm.Reset()

			conn = b.reconnect(ctx)
			if conn == nil {
				log.Info().Msg("bridge stopped")
				return nil
			}
			continue
		}
		if !ok {
			continue
		}

		b.handleEvent(ctx, conn, asm.Feed(line))
	}
}

func (b *Bridge) handleEvent(ctx context.Context, conn Conn, ev protocol.Event) {
	switch ev.Kind {
	case protocol.EventFrameStart:
		log.Debug().Msg("receiving fingerprint data")
	case protocol.EventFrameData:
		log.Debug().Int("bytes", len(ev.Payload)).Msg("fingerprint data chunk")
	case protocol.EventTriggerNow, protocol.EventFrameEnd:
		if ev.Kind == protocol.EventFrameEnd {
			log.Info().Int("chunks", ev.Chunks).Msg("fingerprint data received")
		}

		res, err := b.roundTrip(ctx, triggerFor(ev.Kind))
		if err != nil {
			log.Error().Err(err).Msg("classification round trip failed")
			return
		}

		if err := conn.WriteLine(protocol.FormatResult(res.Prediction.Label.String())); err != nil {
			log.Error().Err(err).Msg("failed to send result to device, result lost")
		} else {
			log.Info().Msgf("result sent to device: %s", res.Prediction.Label)
		}
		b.report(ctx, res)
	default:
		b.logTelemetry(conn.Path(), ev.Line)
	}
}

func (b *Bridge) logTelemetry(path, line string) {
	if line == "" {
		return
	}
	if !b.telemetry.Allow() {
		b.dropped++
		return
	}

	ev := log.Info().Str("device", path)
	if b.dropped > 0 {
		ev = ev.Int("dropped", b.dropped)
		b.dropped = 0
	}
	ev.Msgf("device: %s", line)
}

// reconnect retries Open every reconnect delay. Returns nil when ctx is
// cancelled first.
func (b *Bridge) reconnect(ctx context.Context) Conn {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.clock.After(b.cfg.ReconnectDelay):
		}

		conn, err := b.open()
		if err != nil {
			log.Debug().Err(err).Msg("reconnect attempt failed")
			continue
		}
		log.Info().Msgf("reconnected to %s", conn.Path())
		return conn
	}
}

func (b *Bridge) runDemo(ctx context.Context) error {
	log.Info().Msg("demo mode: press enter to run a prediction on a random corpus sample")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("bridge stopped")
			return nil
		case _, ok := <-b.triggers:
			if !ok {
				log.Info().Msg("operator input closed, stopping demo mode")
				return nil
			}

			res, err := b.roundTrip(ctx, TriggerOperator)
			if err != nil {
				log.Error().Err(err).Msg("classification round trip failed")
				continue
			}
			b.report(ctx, res)
		}
	}
}

func (b *Bridge) report(ctx context.Context, res Result) {
	for _, s := range b.sinks {
		if err := s.Report(ctx, res); err != nil {
			log.Error().Err(err).Msgf("failed to report result %s", res.ID)
		}
	}
}
