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

// Package config loads the bridge settings file. An Instance is built once
// at startup and never changes afterwards.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/bgbridge/bloodgroup-bridge/pkg/classifier"
	"github.com/bgbridge/bloodgroup-bridge/pkg/labels"
	"github.com/google/uuid"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
)

const (
	SchemaVersion = 1
	CfgEnv        = "BGBRIDGE_CFG"
	CfgFile       = "bridge.toml"
)

var ErrSchemaMismatch = errors.New("schema version mismatch")

type Values struct {
	ErrorReportingDSN string     `toml:"error_reporting_dsn,omitempty"`
	Service           Service    `toml:"service"`
	Serial            Serial     `toml:"serial"`
	Classifier        Classifier `toml:"classifier"`
	Corpus            Corpus     `toml:"corpus"`
	MQTT              MQTT       `toml:"mqtt"`
	Labels            Labels     `toml:"labels"`
	ConfigSchema      int        `toml:"config_schema"`
	DebugLogging      bool       `toml:"debug_logging"`
	ErrorReporting    bool       `toml:"error_reporting"`
}

type Service struct {
	InstanceID string `toml:"instance_id"`
}

type Serial struct {
	// Path is the preferred device. Empty means the first enumerated one.
	Path           string `toml:"path"`
	ReadTimeout    string `toml:"read_timeout" validate:"duration"`
	ReconnectDelay string `toml:"reconnect_delay" validate:"duration"`
	BaudRate       int    `toml:"baud_rate" validate:"gt=0"`
}

type Classifier struct {
	URL                 string  `toml:"url" validate:"required,url"`
	Model               string  `toml:"model" validate:"required"`
	Timeout             string  `toml:"timeout" validate:"duration"`
	AuthToken           string  `toml:"auth_token,omitempty"`
	ConfidenceThreshold float64 `toml:"confidence_threshold" validate:"gte=0,lte=1"`
	ImageWidth          int     `toml:"image_width" validate:"gt=0"`
	ImageHeight         int     `toml:"image_height" validate:"gt=0"`
	ImageChannels       int     `toml:"image_channels" validate:"oneof=1 3"`
}

type Labels struct {
	// Names must be in the order the model was trained with.
	Names []string `toml:"names,multiline" validate:"min=1,unique,dive,required"`
}

type Corpus struct {
	Root       string   `toml:"root" validate:"required"`
	ImageTypes []string `toml:"image_types" validate:"min=1,dive,startswith=."`
}

type MQTT struct {
	// Broker is host:port or a URL. Empty disables publishing.
	Broker   string `toml:"broker"`
	Topic    string `toml:"topic" validate:"required_with=Broker"`
	QoS      int    `toml:"qos" validate:"gte=0,lte=2"`
	Retained bool   `toml:"retained"`
}

var BaseDefaults = Values{
	ConfigSchema: SchemaVersion,
	Serial: Serial{
		BaudRate:       115200,
		ReadTimeout:    "5s",
		ReconnectDelay: "2s",
	},
	Classifier: Classifier{
		URL:                 "http://localhost:8501",
		Model:               "blood_group",
		Timeout:             "30s",
		ConfidenceThreshold: 0.6,
		ImageWidth:          128,
		ImageHeight:         128,
		ImageChannels:       3,
	},
	Labels: Labels{
		Names: labels.BloodGroups,
	},
	Corpus: Corpus{
		Root:       "dataset",
		ImageTypes: []string{".jpg", ".jpeg", ".png", ".bmp"},
	},
	MQTT: MQTT{
		Topic: "bgbridge/results",
	},
}

// clone copies vals so decoding into the copy can't alias the slices of
// the original.
//
//nolint:gocritic // values copied on purpose
func clone(vals Values) Values {
	vals.Labels.Names = slices.Clone(vals.Labels.Names)
	vals.Corpus.ImageTypes = slices.Clone(vals.Corpus.ImageTypes)
	return vals
}

// Instance is a loaded, validated config. All getters are safe for
// concurrent use because nothing mutates an Instance after NewConfig.
type Instance struct {
	table          *labels.Table
	cfgPath        string
	vals           Values
	readTimeout    time.Duration
	reconnectDelay time.Duration
	clfTimeout     time.Duration
}

type Option func(*options)

type options struct {
	path string
}

// WithPath loads a specific file instead of the default location.
func WithPath(path string) Option {
	return func(o *options) {
		o.path = path
	}
}

// Path resolves the config file location: an explicit path, then the
// BGBRIDGE_CFG environment variable, then bridge.toml in configDir.
func Path(configDir, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv(CfgEnv); env != "" {
		log.Debug().Msgf("env config path: %s", env)
		return env
	}
	return filepath.Join(configDir, CfgFile)
}

// NewConfig loads the config file, writing one with defaults if it doesn't
// exist yet.
//
//nolint:gocritic // config struct copied for immutability
func NewConfig(configDir string, defaults Values, opts ...Option) (*Instance, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	cfgPath := Path(configDir, o.path)

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		log.Info().Msgf("saving new default config to %s", cfgPath)

		if err := os.MkdirAll(filepath.Dir(cfgPath), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}
		if err := save(cfgPath, clone(defaults)); err != nil {
			return nil, err
		}
	}

	return load(cfgPath, defaults)
}

func save(cfgPath string, vals Values) error { //nolint:gocritic // see NewConfig
	vals.ConfigSchema = SchemaVersion

	if vals.Service.InstanceID == "" {
		vals.Service.InstanceID = uuid.New().String()
		log.Info().Msgf("generated new instance id: %s", vals.Service.InstanceID)
	}

	data, err := toml.Marshal(&vals)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(cfgPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func load(cfgPath string, defaults Values) (*Instance, error) { //nolint:gocritic // see NewConfig
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// file values on top of defaults, so missing keys keep their default
	vals := clone(defaults)
	if err := toml.Unmarshal(data, &vals); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config %s: %w", cfgPath, err)
	}

	if vals.ConfigSchema != SchemaVersion {
		log.Error().Msgf(
			"schema version mismatch: got %d, expecting %d",
			vals.ConfigSchema,
			SchemaVersion,
		)
		return nil, ErrSchemaMismatch
	}

	if err := validateValues(&vals); err != nil {
		return nil, err
	}

	table, err := labels.NewTable(vals.Labels.Names)
	if err != nil {
		return nil, fmt.Errorf("invalid labels in config: %w", err)
	}

	// already validated as durations
	readTimeout, _ := time.ParseDuration(vals.Serial.ReadTimeout)
	reconnectDelay, _ := time.ParseDuration(vals.Serial.ReconnectDelay)
	clfTimeout, _ := time.ParseDuration(vals.Classifier.Timeout)

	log.Info().Msgf("loaded config from %s", cfgPath)

	return &Instance{
		cfgPath:        cfgPath,
		vals:           vals,
		table:          table,
		readTimeout:    readTimeout,
		reconnectDelay: reconnectDelay,
		clfTimeout:     clfTimeout,
	}, nil
}

func (c *Instance) Path() string {
	return c.cfgPath
}

func (c *Instance) DebugLogging() bool {
	return c.vals.DebugLogging
}

func (c *Instance) ErrorReporting() bool {
	return c.vals.ErrorReporting
}

func (c *Instance) ErrorReportingDSN() string {
	return c.vals.ErrorReportingDSN
}

func (c *Instance) InstanceID() string {
	return c.vals.Service.InstanceID
}

func (c *Instance) SerialPath() string {
	return c.vals.Serial.Path
}

func (c *Instance) BaudRate() int {
	return c.vals.Serial.BaudRate
}

func (c *Instance) ReadTimeout() time.Duration {
	return c.readTimeout
}

func (c *Instance) ReconnectDelay() time.Duration {
	return c.reconnectDelay
}

func (c *Instance) ClassifierURL() string {
	return c.vals.Classifier.URL
}

func (c *Instance) ClassifierModel() string {
	return c.vals.Classifier.Model
}

func (c *Instance) ClassifierTimeout() time.Duration {
	return c.clfTimeout
}

func (c *Instance) ClassifierAuthToken() string {
	return c.vals.Classifier.AuthToken
}

func (c *Instance) ConfidenceThreshold() float64 {
	return c.vals.Classifier.ConfidenceThreshold
}

// ImageSize is the classifier input size.
func (c *Instance) ImageSize() classifier.Size {
	return classifier.Size{
		Width:    c.vals.Classifier.ImageWidth,
		Height:   c.vals.Classifier.ImageHeight,
		Channels: c.vals.Classifier.ImageChannels,
	}
}

func (c *Instance) LabelTable() *labels.Table {
	return c.table
}

// CorpusRoot is the demo corpus directory. Relative paths are resolved
// against the config file's directory.
func (c *Instance) CorpusRoot() string {
	root := c.vals.Corpus.Root
	if filepath.IsAbs(root) {
		return root
	}
	return filepath.Join(filepath.Dir(c.cfgPath), root)
}

func (c *Instance) ImageTypes() []string {
	return slices.Clone(c.vals.Corpus.ImageTypes)
}

func (c *Instance) MQTTEnabled() bool {
	return c.vals.MQTT.Broker != ""
}

func (c *Instance) MQTTBroker() string {
	return c.vals.MQTT.Broker
}

func (c *Instance) MQTTTopic() string {
	return c.vals.MQTT.Topic
}

func (c *Instance) MQTTQoS() byte {
	return byte(c.vals.MQTT.QoS) //nolint:gosec // validated to 0-2
}

func (c *Instance) MQTTRetained() bool {
	return c.vals.MQTT.Retained
}
