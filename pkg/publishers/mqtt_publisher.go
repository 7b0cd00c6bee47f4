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

// Package publishers forwards bridge results to external systems.
package publishers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bgbridge/bloodgroup-bridge/pkg/bridge"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	publishTimeout = 5 * time.Second
	// connectWait bounds how long Start blocks on the first connection.
	// paho keeps retrying in the background after that.
	connectWait = 10 * time.Second
)

var ErrNotConnected = errors.New("mqtt publisher is not connected")

type MQTTSettings struct {
	Broker   string
	Topic    string
	QoS      byte
	Retained bool
}

// MQTTPublisher publishes each round trip result as JSON to an MQTT topic.
type MQTTPublisher struct {
	client    mqtt.Client
	newClient func(*mqtt.ClientOptions) mqtt.Client
	clock     clockwork.Clock
	settings  MQTTSettings
}

func NewMQTTPublisher(settings MQTTSettings) *MQTTPublisher {
	return &MQTTPublisher{
		settings:  settings,
		newClient: mqtt.NewClient,
		clock:     clockwork.NewRealClock(),
	}
}

// brokerURL adds the tcp scheme when the broker is given as host:port.
func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

func (p *MQTTPublisher) options() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(p.settings.Broker))
	opts.SetClientID("bgbridge-" + uuid.New().String()[:8])
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)

	opts.OnConnect = func(_ mqtt.Client) {
		log.Info().Msgf("mqtt publisher: connected to %s", p.settings.Broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("mqtt publisher: connection lost")
	}
	return opts
}

// Start connects to the broker. If the broker has not answered within
// connectWait, Start returns nil and the client keeps retrying in the
// background; results reported meanwhile fail with ErrNotConnected. A
// cancelled ctx aborts the wait.
func (p *MQTTPublisher) Start(ctx context.Context) error {
	p.client = p.newClient(p.options())

	token := p.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to connect to MQTT broker: %w", err)
		}
	case <-p.clock.After(connectWait):
		log.Warn().Msgf("mqtt publisher: broker %s not reachable yet, retrying in background", p.settings.Broker)
	case <-ctx.Done():
		p.client.Disconnect(0)
		return fmt.Errorf("mqtt publisher start cancelled: %w", ctx.Err())
	}

	log.Info().Msgf("mqtt publisher: publishing results to %s (topic: %s)", p.settings.Broker, p.settings.Topic)
	return nil
}

// Report publishes res. It satisfies bridge.Sink.
func (p *MQTTPublisher) Report(_ context.Context, res bridge.Result) error {
	if p.client == nil || !p.client.IsConnectionOpen() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	token := p.client.Publish(p.settings.Topic, p.settings.QoS, p.settings.Retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		if token.Error() != nil {
			return fmt.Errorf("failed to publish result: %w", token.Error())
		}
		return fmt.Errorf("failed to publish result: timed out after %s", publishTimeout)
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to publish result: %w", token.Error())
	}

	log.Debug().Msgf("mqtt publisher: published result %s", res.ID)
	return nil
}

// Stop disconnects from the broker.
func (p *MQTTPublisher) Stop() {
	if p.client != nil && p.client.IsConnected() {
		log.Debug().Msg("mqtt publisher: disconnecting")
		p.client.Disconnect(250)
	}
}
