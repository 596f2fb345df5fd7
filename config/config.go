// Copyright 2025 The crlog Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads the station configuration file.
//
// Thresholds, pin mappings, baud rates and timing windows are tuned
// per telescope station, so they live in a YAML file next to the
// binaries instead of in the code.
package config // import "github.com/crtel/crlog/config"

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration with YAML support ("10us", "1ms", ...).
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	err := node.Decode(&raw)
	if err != nil {
		return err
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", raw, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the station configuration.
type Config struct {
	Station string `yaml:"station"` // station name, for logs and the run catalog
	DataDir string `yaml:"datadir"` // mount point of the storage device

	GPS struct {
		Device string `yaml:"device"` // e.g. /dev/ttyAMA0
		Baud   int    `yaml:"baud"`
	} `yaml:"gps"`

	Clock struct {
		Chip     string   `yaml:"chip"` // e.g. /dev/gpiochip0
		Data     []int    `yaml:"data"` // 8 offsets, index 0 carries bit 7
		Sel0     int      `yaml:"sel0"`
		Sel1     int      `yaml:"sel1"`
		Clear    int      `yaml:"clear"`
		Settle   Duration `yaml:"settle"`
		AckPulse Duration `yaml:"ack-pulse"`
	} `yaml:"clock"`

	ADC struct {
		Align  string `yaml:"align"`  // sysfs attribute paths
		Detect string `yaml:"detect"` //  e.g. /sys/bus/iio/devices/iio:device0/in_voltage0_raw
		Stop   string `yaml:"stop"`

		AlignThreshold  int `yaml:"align-threshold"`
		DetectThreshold int `yaml:"detect-threshold"`
		StopThreshold   int `yaml:"stop-threshold"`
	} `yaml:"adc"`

	Run struct {
		MaxSamples int      `yaml:"max-samples"`
		Poll       Duration `yaml:"poll"`
		MaxRetries int      `yaml:"max-retries"` // 0: retry storage ops forever
	} `yaml:"run"`

	Catalog struct {
		DSN string `yaml:"dsn"` // empty disables the run catalog
	} `yaml:"catalog"`
}

// Default returns the station defaults; Load overlays the file on top
// of these.
func Default() Config {
	var cfg Config
	cfg.Station = "crtel"
	cfg.DataDir = "/data"
	cfg.GPS.Device = "/dev/ttyAMA0"
	cfg.GPS.Baud = 4800
	cfg.Clock.Chip = "/dev/gpiochip0"
	cfg.Clock.Data = []int{5, 6, 7, 8, 9, 10, 11, 12}
	cfg.Clock.Sel0 = 13
	cfg.Clock.Sel1 = 16
	cfg.Clock.Clear = 17
	cfg.Clock.Settle = Duration(10 * time.Microsecond)
	cfg.Clock.AckPulse = Duration(10 * time.Microsecond)
	cfg.ADC.Align = "/sys/bus/iio/devices/iio:device0/in_voltage0_raw"
	cfg.ADC.Detect = "/sys/bus/iio/devices/iio:device0/in_voltage1_raw"
	cfg.ADC.Stop = "/sys/bus/iio/devices/iio:device0/in_voltage2_raw"
	cfg.ADC.AlignThreshold = 512
	cfg.ADC.DetectThreshold = 512
	cfg.ADC.StopThreshold = 512
	cfg.Run.MaxSamples = 5000
	cfg.Run.Poll = Duration(1 * time.Millisecond)
	return cfg
}

// Load reads the station configuration from path, filling unset fields
// with the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: could not read %q: %w", path, err)
	}
	err = yaml.Unmarshal(raw, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("config: could not parse %q: %w", path, err)
	}
	err = cfg.validate()
	if err != nil {
		return cfg, fmt.Errorf("config: invalid configuration %q: %w", path, err)
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	if len(cfg.Clock.Data) != 8 {
		return fmt.Errorf("clock.data needs 8 line offsets, got %d", len(cfg.Clock.Data))
	}
	if cfg.GPS.Baud <= 0 {
		return fmt.Errorf("invalid gps.baud %d", cfg.GPS.Baud)
	}
	if cfg.Run.MaxSamples <= 0 {
		return fmt.Errorf("invalid run.max-samples %d", cfg.Run.MaxSamples)
	}
	return nil
}
