package config

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// ProbeKind selects the load probe used by the adaptive balancer
type ProbeKind string

const (
	ProbeCPU            ProbeKind = "cpu"
	ProbeProcessingTime ProbeKind = "processing-time"
	ProbeJobCount       ProbeKind = "job-count"
)

// RoundRobinMode selects the round-robin balancer variant
type RoundRobinMode string

const (
	RoundRobinGlobal  RoundRobinMode = "global"
	RoundRobinPerTask RoundRobinMode = "per-task"
)

// Config is the gridnode configuration file
type Config struct {
	NodeID     string            `yaml:"nodeID"`
	Address    string            `yaml:"address"`
	Attributes map[string]string `yaml:"attributes"`

	Probe      Probe      `yaml:"probe"`
	RoundRobin RoundRobin `yaml:"roundRobin"`
	Collision  Collision  `yaml:"collision"`
	Transport  Transport  `yaml:"transport"`
	Storage    Storage    `yaml:"storage"`
	Log        Log        `yaml:"log"`
	Metrics    Metrics    `yaml:"metrics"`
}

// Probe configures the node load probe
type Probe struct {
	Kind       ProbeKind `yaml:"kind"`
	UseAverage bool      `yaml:"useAverage"`
}

// RoundRobin configures the round-robin balancer
type RoundRobin struct {
	Mode RoundRobinMode `yaml:"mode"`
}

// Collision configures job stealing collision resolution
type Collision struct {
	ActiveJobsThreshold int               `yaml:"activeJobsThreshold"`
	WaitJobsThreshold   int               `yaml:"waitJobsThreshold"`
	MaxStealingAttempts int               `yaml:"maxStealingAttempts"`
	MessageExpireTime   time.Duration     `yaml:"messageExpireTime"`
	StealingEnabled     bool              `yaml:"stealingEnabled"`
	StealDelta          int               `yaml:"stealDelta"`
	StealingAttributes  map[string]string `yaml:"stealingAttributes"`
	CheckInterval       time.Duration     `yaml:"checkInterval"`
}

// Transport configures steal request delivery and node announcements. An
// empty NATSURL keeps delivery in-process.
type Transport struct {
	NATSURL           string        `yaml:"natsURL"`
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	FailureTimeout    time.Duration `yaml:"failureTimeout"`
}

// Storage configures node snapshot persistence. An empty DataDir disables it.
type Storage struct {
	DataDir string `yaml:"dataDir"`
}

// Log configures logging
type Log struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Metrics configures the metrics and health HTTP endpoint
type Metrics struct {
	Addr string `yaml:"addr"`
}

// Default returns a configuration with the stock thresholds
func Default() *Config {
	return &Config{
		Attributes: map[string]string{},
		Probe: Probe{
			Kind: ProbeCPU,
		},
		RoundRobin: RoundRobin{
			Mode: RoundRobinGlobal,
		},
		Collision: Collision{
			ActiveJobsThreshold: 95,
			WaitJobsThreshold:   0,
			MaxStealingAttempts: 5,
			MessageExpireTime:   time.Second,
			StealingEnabled:     true,
			StealingAttributes:  map[string]string{},
			CheckInterval:       time.Second,
		},
		Transport: Transport{
			HeartbeatInterval: 2 * time.Second,
			FailureTimeout:    10 * time.Second,
		},
		Log: Log{
			Level: "info",
		},
		Metrics: Metrics{
			Addr: ":9090",
		},
	}
}

// Load reads a YAML configuration file over the defaults
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.finish()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, cfg.finish()
}

func (c *Config) finish() error {
	if c.NodeID == "" {
		c.NodeID = uuid.New().String()
	}
	return c.Validate()
}

// Validate checks the configuration and reports every problem found
func (c *Config) Validate() error {
	var result *multierror.Error

	switch c.Probe.Kind {
	case ProbeCPU, ProbeProcessingTime, ProbeJobCount:
	default:
		result = multierror.Append(result, fmt.Errorf("unknown probe kind %q", c.Probe.Kind))
	}

	switch c.RoundRobin.Mode {
	case RoundRobinGlobal, RoundRobinPerTask:
	default:
		result = multierror.Append(result, fmt.Errorf("unknown round-robin mode %q", c.RoundRobin.Mode))
	}

	col := c.Collision
	if col.ActiveJobsThreshold < 0 {
		result = multierror.Append(result, fmt.Errorf("activeJobsThreshold must be >= 0, got %d", col.ActiveJobsThreshold))
	}
	if col.WaitJobsThreshold < 0 {
		result = multierror.Append(result, fmt.Errorf("waitJobsThreshold must be >= 0, got %d", col.WaitJobsThreshold))
	}
	if col.MaxStealingAttempts < 0 {
		result = multierror.Append(result, fmt.Errorf("maxStealingAttempts must be >= 0, got %d", col.MaxStealingAttempts))
	}
	if col.MessageExpireTime <= 0 {
		result = multierror.Append(result, fmt.Errorf("messageExpireTime must be > 0, got %s", col.MessageExpireTime))
	}
	if col.StealDelta < 0 {
		result = multierror.Append(result, fmt.Errorf("stealDelta must be >= 0, got %d", col.StealDelta))
	}
	if col.CheckInterval <= 0 {
		result = multierror.Append(result, fmt.Errorf("checkInterval must be > 0, got %s", col.CheckInterval))
	}

	tr := c.Transport
	if tr.HeartbeatInterval <= 0 {
		result = multierror.Append(result, fmt.Errorf("heartbeatInterval must be > 0, got %s", tr.HeartbeatInterval))
	}
	if tr.FailureTimeout < tr.HeartbeatInterval {
		result = multierror.Append(result, fmt.Errorf("failureTimeout must be >= heartbeatInterval, got %s", tr.FailureTimeout))
	}

	return result.ErrorOrNil()
}
