// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the optional YAML configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/helioguard/internal/alert"
	"github.com/Thermoquad/helioguard/internal/engine"
	"github.com/Thermoquad/helioguard/internal/mqtt"
	"github.com/Thermoquad/helioguard/internal/status"
	"github.com/Thermoquad/helioguard/pkg/breaker"
	"github.com/Thermoquad/helioguard/pkg/conditioner"
	"github.com/Thermoquad/helioguard/pkg/frame"
	"github.com/Thermoquad/helioguard/pkg/output"
)

// Polarity names
const (
	ActiveHigh = "high"
	ActiveLow  = "low"
)

// Config is the on-disk configuration
type Config struct {
	Serial      Serial      `yaml:"serial"`
	WebSocket   WebSocket   `yaml:"websocket"`
	Protection  Protection  `yaml:"protection"`
	Calibration Calibration `yaml:"calibration"`
	Polarity    Polarity    `yaml:"polarity"`
	Traffic     Traffic     `yaml:"traffic"`
	Pattern     Pattern     `yaml:"pattern"`
	HTTP        HTTP        `yaml:"http"`
	MQTT        MQTT        `yaml:"mqtt"`
	Alert       Alert       `yaml:"alert"`
	Log         Log         `yaml:"log"`
}

type Serial struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

type WebSocket struct {
	URL         string `yaml:"url"`
	Username    string `yaml:"username"`
	NoSSLVerify bool   `yaml:"no_ssl_verify"`
}

type Protection struct {
	TripThresholdMA float64 `yaml:"trip_threshold_ma"`
	LowVoltageV     float64 `yaml:"low_voltage_v"`
}

type Calibration struct {
	MillivoltsPerVolt float64 `yaml:"millivolts_per_volt"`
	BatterySenseOhms  float64 `yaml:"battery_sense_ohms"`
	LEDSenseOhms      float64 `yaml:"led_sense_ohms"`
	ChannelWindow     int     `yaml:"channel_window"`
	BatteryWindow     int     `yaml:"battery_window"`
}

// Polarity gives each output line as "high" or "low" (active level)
type Polarity struct {
	Indicator string `yaml:"indicator"`
	Yellow    string `yaml:"yellow"`
	Red       string `yaml:"red"`
	Green     string `yaml:"green"`
}

type Traffic struct {
	GreenMs  int `yaml:"green_ms"`
	YellowMs int `yaml:"yellow_ms"`
	RedMs    int `yaml:"red_ms"`
}

type Pattern struct {
	StepMs int `yaml:"step_ms"`
}

type HTTP struct {
	Addr string `yaml:"addr"` // empty disables the server
}

type MQTT struct {
	Broker   string        `yaml:"broker"` // empty disables publishing
	ClientID string        `yaml:"client_id"`
	Username string        `yaml:"username"`
	Topic    string        `yaml:"topic"`
	Format   string        `yaml:"format"`
	Interval time.Duration `yaml:"interval"`
}

type Alert struct {
	Server             string        `yaml:"server"` // empty disables mail
	Port               int           `yaml:"port"`
	Username           string        `yaml:"username"`
	From               string        `yaml:"from"`
	To                 []string      `yaml:"to"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	Alerts             []string      `yaml:"alerts"`
	MinInterval        time.Duration `yaml:"min_interval"`
}

type Log struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the stock board configuration
func Default() Config {
	cal := conditioner.DefaultCalibration()
	return Config{
		Serial: Serial{Baud: 9600},
		Protection: Protection{
			TripThresholdMA: breaker.DefaultTripThresholdMA,
			LowVoltageV:     breaker.DefaultLowVoltageV,
		},
		Calibration: Calibration{
			MillivoltsPerVolt: cal.MillivoltsPerVolt,
			BatterySenseOhms:  cal.BatterySenseOhms,
			LEDSenseOhms:      cal.LEDSenseOhms,
			ChannelWindow:     cal.ChannelWindow,
			BatteryWindow:     cal.BatteryWindow,
		},
		Polarity: Polarity{
			Indicator: ActiveHigh,
			Yellow:    ActiveLow,
			Red:       ActiveLow,
			Green:     ActiveLow,
		},
		Traffic: Traffic{GreenMs: 4000, YellowMs: 2000, RedMs: 7000},
		Pattern: Pattern{StepMs: 500},
		MQTT: MQTT{
			ClientID: "helioguard",
			Topic:    mqtt.DefaultTopic,
			Format:   status.FormatJSONName,
			Interval: mqtt.DefaultInterval,
		},
		Alert: Alert{Port: 587},
		Log:   Log{Level: "info"},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("could not read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("could not parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate bounds-checks every section
func (c Config) Validate() error {
	var errs []error

	if c.Serial.Baud <= 0 {
		errs = append(errs, fmt.Errorf("serial.baud must be positive"))
	}

	b := breaker.New()
	if err := b.SetTripThreshold(c.Protection.TripThresholdMA); err != nil {
		errs = append(errs, fmt.Errorf("protection: %w", err))
	}
	if err := b.SetLowVoltage(c.Protection.LowVoltageV); err != nil {
		errs = append(errs, fmt.Errorf("protection: %w", err))
	}

	if err := c.calibration().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("calibration: %w", err))
	}
	if _, err := c.polarity(); err != nil {
		errs = append(errs, err)
	}
	if err := output.ValidatePhases(c.trafficPhases()); err != nil {
		errs = append(errs, fmt.Errorf("traffic: %w", err))
	}
	if err := output.ValidatePhases(c.patternPhases()); err != nil {
		errs = append(errs, fmt.Errorf("pattern: %w", err))
	}

	if c.HTTP.Addr != "" {
		if _, _, err := net.SplitHostPort(c.HTTP.Addr); err != nil {
			errs = append(errs, fmt.Errorf("http.addr: %w", err))
		}
	}

	if c.MQTT.Broker != "" {
		if err := validBroker(c.MQTT.Broker); err != nil {
			errs = append(errs, fmt.Errorf("mqtt.broker: %w", err))
		}
		if !status.ValidFormat(c.MQTT.Format) {
			errs = append(errs, fmt.Errorf("mqtt.format must be json or cbor, got %q", c.MQTT.Format))
		}
		if c.MQTT.Interval <= 0 {
			errs = append(errs, fmt.Errorf("mqtt.interval must be positive"))
		}
	}

	if c.Alert.Server != "" {
		ac, err := c.AlertConfig("")
		if err == nil {
			err = ac.Validate()
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("alert: %w", err))
		}
	}

	return errors.Join(errs...)
}

// brokerSchemes are the URL schemes the MQTT client can dial
var brokerSchemes = map[string]bool{
	"tcp": true, "mqtt": true, "ssl": true, "tls": true, "mqtts": true, "ws": true, "wss": true,
}

func validBroker(broker string) error {
	u, err := url.Parse(broker)
	if err != nil {
		return err
	}
	if !brokerSchemes[u.Scheme] {
		return fmt.Errorf("unsupported scheme %q in %q", u.Scheme, broker)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", broker)
	}
	return nil
}

func (c Config) calibration() conditioner.Calibration {
	return conditioner.Calibration{
		MillivoltsPerVolt: c.Calibration.MillivoltsPerVolt,
		BatterySenseOhms:  c.Calibration.BatterySenseOhms,
		LEDSenseOhms:      c.Calibration.LEDSenseOhms,
		ChannelWindow:     c.Calibration.ChannelWindow,
		BatteryWindow:     c.Calibration.BatteryWindow,
	}
}

func parseLevel(name, v string) (activeLow bool, err error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case ActiveHigh:
		return false, nil
	case ActiveLow:
		return true, nil
	default:
		return false, fmt.Errorf("polarity.%s must be high or low, got %q", name, v)
	}
}

func (c Config) polarity() (frame.Polarity, error) {
	var pol frame.Polarity
	var err error
	if pol.IndicatorActiveLow, err = parseLevel("indicator", c.Polarity.Indicator); err != nil {
		return pol, err
	}
	levels := [frame.LEDCount]string{c.Polarity.Yellow, c.Polarity.Red, c.Polarity.Green}
	for led := frame.LED(0); led < frame.LEDCount; led++ {
		if pol.LEDActiveLow[led], err = parseLevel(led.String(), levels[led]); err != nil {
			return pol, err
		}
	}
	return pol, nil
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

func (c Config) trafficPhases() []output.Phase {
	phases := output.DefaultTrafficPhases()
	durations := []time.Duration{ms(c.Traffic.GreenMs), ms(c.Traffic.YellowMs), ms(c.Traffic.RedMs)}
	for i := range phases {
		phases[i].Duration = durations[i]
	}
	return phases
}

func (c Config) patternPhases() []output.Phase {
	phases := output.DefaultPatternPhases()
	for i := range phases {
		phases[i].Duration = ms(c.Pattern.StepMs)
	}
	return phases
}

func (c Config) alerts() ([]engine.Alert, error) {
	var out []engine.Alert
	for _, name := range c.Alert.Alerts {
		a, err := engine.ParseAlert(name)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// EngineOptions converts the file into engine options
func (c Config) EngineOptions() (engine.Options, error) {
	pol, err := c.polarity()
	if err != nil {
		return engine.Options{}, err
	}
	opts := engine.DefaultOptions()
	opts.Calibration = c.calibration()
	opts.Polarity = pol
	opts.TrafficPhases = c.trafficPhases()
	opts.PatternPhases = c.patternPhases()
	opts.TripThresholdMA = c.Protection.TripThresholdMA
	opts.LowVoltageV = c.Protection.LowVoltageV
	return opts, nil
}

// MQTTOptions returns broker options with the given password
func (c Config) MQTTOptions(password string) mqtt.Options {
	return mqtt.Options{
		Broker:    c.MQTT.Broker,
		ClientID:  c.MQTT.ClientID,
		Username:  c.MQTT.Username,
		Password:  password,
		WillTopic: mqtt.StatusTopic(c.MQTT.Topic),
	}
}

// ReporterConfig returns the MQTT reporter settings
func (c Config) ReporterConfig() mqtt.ReporterConfig {
	return mqtt.ReporterConfig{
		TopicPrefix: c.MQTT.Topic,
		Format:      c.MQTT.Format,
		Interval:    c.MQTT.Interval,
	}
}

// AlertConfig returns mail settings with the given SMTP password
func (c Config) AlertConfig(password string) (alert.Config, error) {
	alerts, err := c.alerts()
	if err != nil {
		return alert.Config{}, err
	}
	return alert.Config{
		Server:             c.Alert.Server,
		Port:               c.Alert.Port,
		Username:           c.Alert.Username,
		Password:           password,
		From:               c.Alert.From,
		To:                 c.Alert.To,
		InsecureSkipVerify: c.Alert.InsecureSkipVerify,
		Alerts:             alerts,
		MinInterval:        c.Alert.MinInterval,
	}, nil
}
