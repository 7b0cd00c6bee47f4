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

package publishers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/bgbridge/bloodgroup-bridge/pkg/bridge"
	"github.com/bgbridge/bloodgroup-bridge/pkg/classifier"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPublisher(settings MQTTSettings, client *mockMQTTClient) (*MQTTPublisher, *[]*mqtt.ClientOptions) {
	var seen []*mqtt.ClientOptions
	p := NewMQTTPublisher(settings)
	p.newClient = func(opts *mqtt.ClientOptions) mqtt.Client {
		seen = append(seen, opts)
		return client
	}
	return p, &seen
}

func sampleResult() bridge.Result {
	return bridge.Result{
		ID:      uuid.MustParse("7d444840-9dc0-11d1-b245-5ffdce74fad2"),
		Trigger: bridge.TriggerFrame,
		Prediction: classifier.Prediction{
			Label:        "B+",
			Index:        4,
			Confidence:   0.82,
			Distribution: []float64{0.02, 0.02, 0.02, 0.02, 0.82, 0.04, 0.03, 0.03},
		},
		TrueLabel:  "B+",
		SamplePath: "/corpus/B+/cluster_3.bmp",
		Duration:   120 * time.Millisecond,
	}
}

func TestBrokerURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		broker string
		want   string
	}{
		{"localhost:1883", "tcp://localhost:1883"},
		{"tcp://broker:1883", "tcp://broker:1883"},
		{"ssl://broker.example.com:8883", "ssl://broker.example.com:8883"},
	}

	for _, tt := range tests {
		t.Run(tt.broker, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, brokerURL(tt.broker))
		})
	}
}

func TestStartConnects(t *testing.T) {
	t.Parallel()

	client := newMockMQTTClient()
	p, seen := newTestPublisher(MQTTSettings{Broker: "localhost:1883", Topic: "bgbridge/results"}, client)

	require.NoError(t, p.Start(context.Background()))
	assert.True(t, client.IsConnected())
	require.Len(t, *seen, 1)

	opts := (*seen)[0]
	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "tcp://localhost:1883", opts.Servers[0].String())
	assert.Contains(t, opts.ClientID, "bgbridge-")
}

func TestStartConnectError(t *testing.T) {
	t.Parallel()

	client := newMockMQTTClient()
	client.connectError = assert.AnError
	p, _ := newTestPublisher(MQTTSettings{Broker: "localhost:1883", Topic: "t"}, client)

	err := p.Start(context.Background())
	require.ErrorIs(t, err, assert.AnError)
}

func TestStartUnreachableBrokerReturns(t *testing.T) {
	t.Parallel()

	client := newMockMQTTClient()
	client.stallConnect = true
	p, _ := newTestPublisher(MQTTSettings{Broker: "127.0.0.1:1", Topic: "t"}, client)
	clock := clockwork.NewFakeClock()
	p.clock = clock

	done := make(chan error, 1)
	go func() { done <- p.Start(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(connectWait)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start blocked on an unreachable broker")
	}

	require.ErrorIs(t, p.Report(context.Background(), sampleResult()), ErrNotConnected)
	assert.Empty(t, client.messages())
}

func TestStartCancelled(t *testing.T) {
	t.Parallel()

	client := newMockMQTTClient()
	client.stallConnect = true
	p, _ := newTestPublisher(MQTTSettings{Broker: "127.0.0.1:1", Topic: "t"}, client)
	p.clock = clockwork.NewFakeClock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Start(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, client.disconnectCall)
}

func TestStartRealClientUnreachableBroker(t *testing.T) {
	t.Parallel()

	p := NewMQTTPublisher(MQTTSettings{Broker: "127.0.0.1:1", Topic: "t"})
	clock := clockwork.NewFakeClock()
	p.clock = clock

	done := make(chan error, 1)
	go func() { done <- p.Start(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(connectWait)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start blocked on an unreachable broker")
	}
	require.ErrorIs(t, p.Report(context.Background(), sampleResult()), ErrNotConnected)
	p.Stop()
}

func TestReportPublishesJSON(t *testing.T) {
	t.Parallel()

	client := newMockMQTTClient()
	p, _ := newTestPublisher(MQTTSettings{
		Broker:   "localhost:1883",
		Topic:    "lab/bench1/bloodgroup",
		QoS:      1,
		Retained: true,
	}, client)
	require.NoError(t, p.Start(context.Background()))

	require.NoError(t, p.Report(context.Background(), sampleResult()))

	msgs := client.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "lab/bench1/bloodgroup", msgs[0].topic)
	assert.Equal(t, byte(1), msgs[0].qos)
	assert.True(t, msgs[0].retained)

	var decoded bridge.Result
	require.NoError(t, json.Unmarshal(msgs[0].payload, &decoded))
	assert.Equal(t, sampleResult(), decoded)
}

func TestReportErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		setup   func(*mockMQTTClient)
		name    string
		wantErr string
	}{
		{
			name:    "publish error",
			setup:   func(c *mockMQTTClient) { c.publishError = assert.AnError },
			wantErr: assert.AnError.Error(),
		},
		{
			name:    "publish timeout",
			setup:   func(c *mockMQTTClient) { c.stall = true },
			wantErr: "timed out",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client := newMockMQTTClient()
			tt.setup(client)
			p, _ := newTestPublisher(MQTTSettings{Broker: "localhost:1883", Topic: "t"}, client)
			require.NoError(t, p.Start(context.Background()))

			err := p.Report(context.Background(), sampleResult())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestReportBeforeStart(t *testing.T) {
	t.Parallel()

	p := NewMQTTPublisher(MQTTSettings{Broker: "localhost:1883", Topic: "t"})
	require.ErrorIs(t, p.Report(context.Background(), sampleResult()), ErrNotConnected)
}

func TestStopDisconnects(t *testing.T) {
	t.Parallel()

	client := newMockMQTTClient()
	p, _ := newTestPublisher(MQTTSettings{Broker: "localhost:1883", Topic: "t"}, client)
	require.NoError(t, p.Start(context.Background()))

	p.Stop()
	assert.Equal(t, 1, client.disconnectCall)
	assert.False(t, client.IsConnected())

	// already disconnected
	p.Stop()
	assert.Equal(t, 1, client.disconnectCall)
}

func TestStopWithoutStart(t *testing.T) {
	t.Parallel()

	p := NewMQTTPublisher(MQTTSettings{Broker: "localhost:1883", Topic: "t"})
	assert.NotPanics(t, p.Stop)
}
