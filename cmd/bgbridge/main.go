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
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/bgbridge/bloodgroup-bridge/internal/telemetry"
	"github.com/bgbridge/bloodgroup-bridge/pkg/bridge"
	"github.com/bgbridge/bloodgroup-bridge/pkg/classifier/tfserving"
	"github.com/bgbridge/bloodgroup-bridge/pkg/cli"
	"github.com/bgbridge/bloodgroup-bridge/pkg/config"
	"github.com/bgbridge/bloodgroup-bridge/pkg/corpus"
	"github.com/bgbridge/bloodgroup-bridge/pkg/publishers"
	"github.com/bgbridge/bloodgroup-bridge/pkg/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		telemetry.Flush()
		os.Exit(1)
	}
}

func run() error {
	flags := cli.SetupFlags(flag.CommandLine)
	exit, err := flags.Pre(flag.CommandLine, os.Args[1:], os.Stdout)
	if exit || err != nil {
		return err
	}

	if *flags.ListPorts {
		return cli.ListPorts(os.Stdout, transport.ListDevices)
	}

	cfg, logFile, err := cli.Setup(
		flags,
		config.BaseDefaults,
		[]io.Writer{zerolog.ConsoleWriter{Out: os.Stderr}},
	)
	if err != nil {
		return err
	}
	defer func() {
		_ = logFile.Close()
	}()
	defer telemetry.Close()

	defer func() {
		if err := recover(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Panic: %s\n", err)
			log.Fatal().Msgf("panic: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	table := cfg.LabelTable()
	clf, err := tfserving.New(tfserving.Settings{
		URL:     cfg.ClassifierURL(),
		Model:   cfg.ClassifierModel(),
		Token:   cfg.ClassifierAuthToken(),
		Size:    cfg.ImageSize(),
		Timeout: cfg.ClassifierTimeout(),
	}, table)
	if err != nil {
		return fmt.Errorf("failed to create classifier client: %w", err)
	}

	// no degraded mode without a model
	if err := clf.Ping(ctx); err != nil {
		log.Error().Err(err).Msg("classifier model is not available")
		return fmt.Errorf("failed to load model: %w", err)
	}
	log.Info().Msgf("model %s ready to predict %d classes: %v", cfg.ClassifierModel(), table.Len(), table.Labels())

	osFs := afero.NewOsFs()

	if *flags.Predict != "" {
		return cli.Predict(ctx, os.Stdout, cli.PredictOptions{
			Classifier: clf,
			Fs:         osFs,
			Table:      table,
			Path:       *flags.Predict,
			Size:       cfg.ImageSize(),
			Threshold:  cfg.ConfidenceThreshold(),
		})
	}

	samples := corpus.NewSource(
		osFs,
		cfg.CorpusRoot(),
		table,
		cfg.ImageSize(),
		corpus.WithImageTypes(cfg.ImageTypes()),
	)
	logCorpus(samples)

	sinks := []bridge.Sink{bridge.NewConsoleSink(os.Stdout, table)}
	if cfg.MQTTEnabled() {
		pub := publishers.NewMQTTPublisher(publishers.MQTTSettings{
			Broker:   cfg.MQTTBroker(),
			Topic:    cfg.MQTTTopic(),
			QoS:      cfg.MQTTQoS(),
			Retained: cfg.MQTTRetained(),
		})
		if err := pub.Start(ctx); err != nil {
			log.Error().Err(err).Msg("mqtt publishing disabled")
		} else {
			defer pub.Stop()
			sinks = append(sinks, pub)
		}
	}

	devicePath := cfg.SerialPath()
	if *flags.Device != "" {
		devicePath = *flags.Device
	}
	mgr := transport.NewManager(transport.Settings{
		Path:     devicePath,
		BaudRate: cfg.BaudRate(),
	})

	triggers := make(chan struct{})
	go readTriggers(ctx, os.Stdin, triggers)

	b, err := bridge.New(bridge.Config{
		ReadTimeout:         cfg.ReadTimeout(),
		ReconnectDelay:      cfg.ReconnectDelay(),
		ConfidenceThreshold: cfg.ConfidenceThreshold(),
		ForceDemo:           *flags.Demo,
	}, bridge.Deps{
		Open: func() (bridge.Conn, error) {
			h, err := mgr.Open()
			if err != nil {
				return nil, err
			}
			return h, nil
		},
		Samples:    samples,
		Classifier: clf,
		Triggers:   triggers,
		Sinks:      sinks,
	})
	if err != nil {
		return fmt.Errorf("failed to create bridge: %w", err)
	}

	if err := b.Run(ctx); err != nil {
		return fmt.Errorf("bridge stopped: %w", err)
	}
	return nil
}

func logCorpus(samples *corpus.Source) {
	counts, err := samples.Counts()
	if err != nil {
		log.Warn().Err(err).Msg("failed to scan demo corpus")
		return
	}
	for label, n := range counts {
		if n == 0 {
			log.Warn().Msgf("demo corpus has no images for %s", label)
			continue
		}
		log.Debug().Msgf("demo corpus: %d images for %s", n, label)
	}
}
