package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func validConfig() Config {
	cfg := Default()
	cfg.Username = "u"
	cfg.Password = "p"
	cfg.ServerHost = "ppp.example.net"
	cfg.Device = "tcp:127.0.0.1:9000"
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.ServerPort != 6060 {
		t.Errorf("default server_port = %d, want 6060", cfg.ServerPort)
	}
	if cfg.BaudRate != 38400 {
		t.Errorf("default baud_rate = %d, want 38400", cfg.BaudRate)
	}
	if cfg.ConnectSpeed != 33600 {
		t.Errorf("default connect_speed = %d, want 33600", cfg.ConnectSpeed)
	}
	if !cfg.EmulateModem {
		t.Error("default emulate_modem should be true")
	}
	if cfg.InactivityTimeout != 300 {
		t.Errorf("default inactivity_timeout = %d, want 300", cfg.InactivityTimeout)
	}
	if cfg.ConnectionRetries != 3 {
		t.Errorf("default connection_retries = %d, want 3", cfg.ConnectionRetries)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge-config.json")
	content := `{
		"username": "u",
		"password": "p",
		"server_host": "ppp.example.net",
		"server_port": 7070,
		"device": "unix:/tmp/vesper.sock",
		"emulate_modem": false
	}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerPort != 7070 {
		t.Errorf("server_port = %d, want 7070", cfg.ServerPort)
	}
	if cfg.EmulateModem {
		t.Error("emulate_modem should be overridden to false")
	}
	// absent fields keep their defaults
	if cfg.BaudRate != 38400 {
		t.Errorf("baud_rate = %d, want default 38400", cfg.BaudRate)
	}
	if cfg.ConnectionRetries != 3 {
		t.Errorf("connection_retries = %d, want default 3", cfg.ConnectionRetries)
	}
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("Load() error = %v, want fs.ErrNotExist", err)
	}
}

func TestLoad_BadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); !errors.Is(err, ErrInvalid) {
		t.Fatalf("Load() error = %v, want ErrInvalid", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(c *Config) {}, true},
		{"zero inactivity is allowed", func(c *Config) { c.InactivityTimeout = 0 }, true},
		{"missing username", func(c *Config) { c.Username = "" }, false},
		{"missing password", func(c *Config) { c.Password = "" }, false},
		{"missing host", func(c *Config) { c.ServerHost = "" }, false},
		{"port too low", func(c *Config) { c.ServerPort = 0 }, false},
		{"port too high", func(c *Config) { c.ServerPort = 65536 }, false},
		{"missing device", func(c *Config) { c.Device = "" }, false},
		{"bad baud", func(c *Config) { c.BaudRate = 0 }, false},
		{"bad connect speed", func(c *Config) { c.ConnectSpeed = -1 }, false},
		{"negative inactivity", func(c *Config) { c.InactivityTimeout = -1 }, false},
		{"negative retries", func(c *Config) { c.ConnectionRetries = -5 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate() error = %v, want nil", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() error = %v, want ErrInvalid", err)
			}
		})
	}
}
