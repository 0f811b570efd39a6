// Package config loads sheetd settings from an optional HCL file. Command
// line flags override file values.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2/hclsimple"
	"go.alis.build/alog"

	"github.com/lijuchacko/sheetsync/internal/cell"
)

// Config is shared by the server and the client commands. Unset attributes
// take the values from Default.
type Config struct {
	// Server.
	Addr          string `hcl:"addr,optional"`
	StoreKind     string `hcl:"store_kind,optional"` // sqlite, json or memory
	StorePath     string `hcl:"store_path,optional"`
	AccessKeyHash string `hcl:"access_key_hash,optional"`
	DefaultRows   int    `hcl:"default_rows,optional"`
	DefaultCols   int    `hcl:"default_cols,optional"`

	// Client.
	ServerURL string `hcl:"server_url,optional"`
	User      string `hcl:"user,optional"`
	AccessKey string `hcl:"access_key,optional"`

	LogLevel string `hcl:"log_level,optional"`
}

func Default() Config {
	return Config{
		Addr:        ":8080",
		StoreKind:   "sqlite",
		StorePath:   "sheets.db",
		DefaultRows: 100,
		DefaultCols: 26,
		ServerURL:   "ws://localhost:8080/ws",
		User:        "anonymous",
		LogLevel:    "info",
	}
}

// Load reads path (an .hcl or .json file) over the defaults. An empty path
// returns the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	var c Config
	if err := hclsimple.DecodeFile(path, nil, &c); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	c.fill(Default())
	return c, nil
}

func (c *Config) fill(d Config) {
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.StoreKind == "" {
		c.StoreKind = d.StoreKind
	}
	if c.StorePath == "" {
		c.StorePath = d.StorePath
	}
	if c.DefaultRows == 0 {
		c.DefaultRows = d.DefaultRows
	}
	if c.DefaultCols == 0 {
		c.DefaultCols = d.DefaultCols
	}
	if c.ServerURL == "" {
		c.ServerURL = d.ServerURL
	}
	if c.User == "" {
		c.User = d.User
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
}

func (c Config) Bounds() cell.Bounds {
	return cell.Bounds{Rows: c.DefaultRows, Cols: c.DefaultCols}
}

// Level maps LogLevel to an alog level.
func (c Config) Level() (alog.LogLevel, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return alog.LevelDebug, nil
	case "info", "":
		return alog.LevelInfo, nil
	case "warn", "warning":
		return alog.LevelWarning, nil
	case "error":
		return alog.LevelError, nil
	default:
		return alog.LevelInfo, fmt.Errorf("unknown log level %q", c.LogLevel)
	}
}

func (c Config) Validate() error {
	var errs []error
	if err := c.Bounds().Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.StoreKind {
	case "sqlite", "json":
		if c.StorePath == "" {
			errs = append(errs, fmt.Errorf("store_path required for %s store", c.StoreKind))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown store_kind %q", c.StoreKind))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
