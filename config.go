// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package volley

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries the tunable parameters of a Session.
type Config struct {
	// AckTimeout is how long a sent message may remain unacknowledged before
	// the session pings the remote peer to solicit an acknowledgement.
	AckTimeout time.Duration

	// RPCTimeout is how long a call may wait for its response.
	RPCTimeout time.Duration

	// FlushThreshold is the number of buffered outbound messages that forces
	// a flush. If FlushThreshold ≤ 0, every message is written immediately.
	FlushThreshold int

	// IdleTimeout closes the session when nothing has been received from the
	// remote peer for this long. Zero disables the idle check.
	IdleTimeout time.Duration

	// TickInterval is the period of the session tick, which drives timeouts
	// and flushes buffered messages.
	TickInterval time.Duration

	// ReconnectTimeout is how long a session whose transport failed waits to
	// be reattached before it closes. Zero means a transport failure closes
	// the session immediately.
	ReconnectTimeout time.Duration
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		AckTimeout:     5 * time.Second,
		RPCTimeout:     15 * time.Second,
		FlushThreshold: 0,
		IdleTimeout:    45 * time.Second,
		TickInterval:   50 * time.Millisecond,
	}
}

// Validate reports an error if c is not a usable configuration.
func (c Config) Validate() error {
	var errs []error
	if c.AckTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ack timeout %v must be positive", c.AckTimeout))
	}
	if c.RPCTimeout <= 0 {
		errs = append(errs, fmt.Errorf("rpc timeout %v must be positive", c.RPCTimeout))
	}
	if c.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("tick interval %v must be positive", c.TickInterval))
	}
	if c.IdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("idle timeout %v must not be negative", c.IdleTimeout))
	}
	if c.ReconnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("reconnect timeout %v must not be negative", c.ReconnectTimeout))
	}
	return errors.Join(errs...)
}

// configFile is the YAML representation of a Config. Durations are integer
// milliseconds; absent keys keep their default values.
type configFile struct {
	AckTimeoutMS       *int64 `yaml:"ack_timeout_ms"`
	RPCTimeoutMS       *int64 `yaml:"rpc_timeout_ms"`
	FlushThreshold     *int   `yaml:"flush_threshold"`
	IdleTimeoutMS      *int64 `yaml:"session_idle_timeout_ms"`
	TickIntervalMS     *int64 `yaml:"tick_interval_ms"`
	ReconnectTimeoutMS *int64 `yaml:"reconnect_timeout_ms"`
}

func setMillis(d *time.Duration, ms *int64) {
	if ms != nil {
		*d = time.Duration(*ms) * time.Millisecond
	}
}

func millis(d time.Duration) *int64 { v := d.Milliseconds(); return &v }

// ParseConfig parses a YAML configuration, applying its settings on top of
// DefaultConfig. Unknown keys are rejected.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	var cf configFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cf); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	setMillis(&cfg.AckTimeout, cf.AckTimeoutMS)
	setMillis(&cfg.RPCTimeout, cf.RPCTimeoutMS)
	setMillis(&cfg.IdleTimeout, cf.IdleTimeoutMS)
	setMillis(&cfg.TickInterval, cf.TickIntervalMS)
	setMillis(&cfg.ReconnectTimeout, cf.ReconnectTimeoutMS)
	if cf.FlushThreshold != nil {
		cfg.FlushThreshold = *cf.FlushThreshold
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadConfig reads and parses the YAML configuration file at path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return ParseConfig(data)
}

// MarshalYAML encodes c in the format accepted by ParseConfig.
// It implements the yaml.Marshaler interface.
func (c Config) MarshalYAML() (any, error) {
	return configFile{
		AckTimeoutMS:       millis(c.AckTimeout),
		RPCTimeoutMS:       millis(c.RPCTimeout),
		FlushThreshold:     &c.FlushThreshold,
		IdleTimeoutMS:      millis(c.IdleTimeout),
		TickIntervalMS:     millis(c.TickInterval),
		ReconnectTimeoutMS: millis(c.ReconnectTimeout),
	}, nil
}
