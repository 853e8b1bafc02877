// Package config loads and validates the bridge configuration record.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrInvalid is returned for a configuration that fails validation.
var ErrInvalid = errors.New("invalid configuration")

// DefaultFile is the configuration file consulted when none is given.
const DefaultFile = "bridge-config.json"

// Config is the immutable configuration record the bridge runs from.
type Config struct {
	Username          string `json:"username"`
	Password          string `json:"password"`
	ServerHost        string `json:"server_host"`
	ServerPort        int    `json:"server_port"`
	Device            string `json:"device"`
	BaudRate          int    `json:"baud_rate"`
	ConnectSpeed      int    `json:"connect_speed"`
	EmulateModem      bool   `json:"emulate_modem"`
	InactivityTimeout int    `json:"inactivity_timeout"`
	ConnectionRetries int    `json:"connection_retries"`
	Debug             bool   `json:"debug"`
	LogFile           string `json:"log_file"`
}

// Default returns a Config pre-filled with the stock defaults.
func Default() Config {
	return Config{
		ServerPort:        6060,
		BaudRate:          38400,
		ConnectSpeed:      33600,
		EmulateModem:      true,
		InactivityTimeout: 300,
		ConnectionRetries: 3,
		LogFile:           "crossbridge.log",
	}
}

// Load reads a JSON configuration file. Absent fields keep their defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
	}
	return cfg, nil
}

// Validate checks the record for completeness and range errors.
func (c *Config) Validate() error {
	if c.Username == "" {
		return fmt.Errorf("%w: username is required", ErrInvalid)
	}
	if c.Password == "" {
		return fmt.Errorf("%w: password is required", ErrInvalid)
	}
	if c.ServerHost == "" {
		return fmt.Errorf("%w: server_host is required", ErrInvalid)
	}
	if c.ServerPort < 1 || c.ServerPort > 65535 {
		return fmt.Errorf("%w: server_port %d out of range", ErrInvalid, c.ServerPort)
	}
	if c.Device == "" {
		return fmt.Errorf("%w: device is required", ErrInvalid)
	}
	if c.BaudRate <= 0 {
		return fmt.Errorf("%w: baud_rate must be positive", ErrInvalid)
	}
	if c.ConnectSpeed <= 0 {
		return fmt.Errorf("%w: connect_speed must be positive", ErrInvalid)
	}
	if c.InactivityTimeout < 0 {
		return fmt.Errorf("%w: inactivity_timeout must not be negative", ErrInvalid)
	}
	if c.ConnectionRetries < 0 {
		return fmt.Errorf("%w: connection_retries must not be negative", ErrInvalid)
	}
	return nil
}
