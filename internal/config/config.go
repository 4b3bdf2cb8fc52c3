// Package config handles server configuration: defaults, an optional JSON
// file overlay and command-line flags, applied in that order.
package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"
)

// Config holds runtime settings for the collaboration server.
//
// Fields:
//   - Addr: bind address for the command listener.
//   - RegAddr: bind address for the registration listener.
//   - DataDir: root directory for document section files and snapshots.
//   - DatabaseDSN: PostgreSQL DSN (pgx); empty selects file snapshots.
//   - PushInterval: notification push period per login session.
type Config struct {
	Addr         string
	RegAddr      string
	DataDir      string
	DatabaseDSN  string
	PushInterval time.Duration
}

// LoadDefaults populates Config with development defaults.
func (c *Config) LoadDefaults() {
	c.Addr = ":1111"
	c.RegAddr = ":1110"
	c.DataDir = "data"
	c.DatabaseDSN = ""
	c.PushInterval = 5 * time.Second
}

// jsonConfig is the DTO for the JSON file overlay. Durations accept both a
// string such as "5s" and integer nanoseconds.
type jsonConfig struct {
	Addr         string   `json:"addr"`
	RegAddr      string   `json:"reg_addr"`
	DataDir      string   `json:"data_dir"`
	DatabaseDSN  string   `json:"database_dsn"`
	PushInterval duration `json:"push_interval"`
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("invalid duration %s", b)
	}
}

// ApplyJSON overlays values from the JSON file at path. Absent fields keep
// their current values.
func (c *Config) ApplyJSON(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	j := &jsonConfig{}
	if err := json.Unmarshal(raw, j); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if j.Addr != "" {
		c.Addr = j.Addr
	}
	if j.RegAddr != "" {
		c.RegAddr = j.RegAddr
	}
	if j.DataDir != "" {
		c.DataDir = j.DataDir
	}
	if j.DatabaseDSN != "" {
		c.DatabaseDSN = j.DatabaseDSN
	}
	if j.PushInterval.Duration > 0 {
		c.PushInterval = j.PushInterval.Duration
	}
	return nil
}

// Load builds a Config from defaults, the optional -config JSON file and
// the remaining command-line flags, in ascending precedence.
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	fs := flag.NewFlagSet("collabdoc-server", flag.ContinueOnError)
	configFile := fs.String("config", "", "path to JSON config file")
	addr := fs.String("addr", "", "command listener address")
	regAddr := fs.String("reg-addr", "", "registration listener address")
	dataDir := fs.String("data-dir", "", "document data directory")
	dsn := fs.String("dsn", "", "PostgreSQL DSN (empty for file snapshots)")
	pushInterval := fs.Duration("push-interval", 0, "notification push period")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *configFile != "" {
		if err := cfg.ApplyJSON(*configFile); err != nil {
			return nil, err
		}
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *regAddr != "" {
		cfg.RegAddr = *regAddr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *dsn != "" {
		cfg.DatabaseDSN = *dsn
	}
	if *pushInterval > 0 {
		cfg.PushInterval = *pushInterval
	}
	return cfg, nil
}
