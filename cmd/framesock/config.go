package main

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"

	"github.com/Zereker/framesock/handler"
)

type config struct {
	Host            string
	Port            int
	Conns           int
	ReadBufferSize  int
	MaxMessageSize  int
	ShutdownTimeout time.Duration
	LogLevel        string
	LogFormat       string
	Persistent      bool
	Dictionary      handler.Dictionary
}

func defaultConfig() config {
	return config{
		Host:            "127.0.0.1",
		Port:            65432,
		Conns:           1,
		ReadBufferSize:  4096,
		MaxMessageSize:  1024 * 1024,
		ShutdownTimeout: 5 * time.Second,
		LogLevel:        "info",
		LogFormat:       "text",
		Dictionary:      handler.DefaultDictionary(),
	}
}

type fileConfig struct {
	Host            string            `toml:"host"`
	Port            int               `toml:"port"`
	Conns           int               `toml:"conns"`
	ReadBufferSize  int               `toml:"read_buffer_size"`
	MaxMessageSize  int               `toml:"max_message_size"`
	ShutdownTimeout string            `toml:"shutdown_timeout"`
	LogLevel        string            `toml:"log_level"`
	LogFormat       string            `toml:"log_format"`
	Persistent      bool              `toml:"persistent"`
	Dictionary      map[string]string `toml:"dictionary"`
}

// loadConfig overlays the keys present in the TOML file at path onto the defaults.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return config{}, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("host") {
		cfg.Host = strings.TrimSpace(raw.Host)
	}

	if meta.IsDefined("port") {
		cfg.Port = raw.Port
	}

	if meta.IsDefined("conns") {
		cfg.Conns = raw.Conns
	}

	if meta.IsDefined("read_buffer_size") {
		cfg.ReadBufferSize = raw.ReadBufferSize
	}

	if meta.IsDefined("max_message_size") {
		cfg.MaxMessageSize = raw.MaxMessageSize
	}

	if meta.IsDefined("shutdown_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ShutdownTimeout))
		if err != nil {
			return config{}, fmt.Errorf("parse shutdown_timeout: %w", err)
		}
		cfg.ShutdownTimeout = d
	}

	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	if meta.IsDefined("log_format") {
		cfg.LogFormat = strings.TrimSpace(raw.LogFormat)
	}

	if meta.IsDefined("persistent") {
		cfg.Persistent = raw.Persistent
	}

	// a [dictionary] table replaces the built-in phrases
	if meta.IsDefined("dictionary") {
		cfg.Dictionary = handler.Dictionary(raw.Dictionary)
	}

	return cfg, cfg.validate()
}

// applyFlags overrides cfg with the flags set on the command line.
func (c *config) applyFlags(flags *pflag.FlagSet) error {
	var err error
	visit := func(f *pflag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "host":
			c.Host = f.Value.String()
		case "port":
			c.Port, err = strconv.Atoi(f.Value.String())
		case "conns":
			c.Conns, err = strconv.Atoi(f.Value.String())
		case "log-level":
			c.LogLevel = f.Value.String()
		case "log-format":
			c.LogFormat = f.Value.String()
		case "persistent":
			c.Persistent, err = strconv.ParseBool(f.Value.String())
		case "shutdown-timeout":
			c.ShutdownTimeout, err = time.ParseDuration(f.Value.String())
		}
		if err != nil {
			err = fmt.Errorf("flag --%s: %w", f.Name, err)
		}
	}
	flags.Visit(visit)
	if err != nil {
		return err
	}
	return c.validate()
}

func (c *config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.Conns < 1 {
		return fmt.Errorf("conns must be at least 1, got %d", c.Conns)
	}
	if c.ReadBufferSize < 1 {
		return fmt.Errorf("read_buffer_size must be positive, got %d", c.ReadBufferSize)
	}
	if c.MaxMessageSize < 1 {
		return fmt.Errorf("max_message_size must be positive, got %d", c.MaxMessageSize)
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown_timeout must not be negative, got %s", c.ShutdownTimeout)
	}
	if _, err := c.addr(); err != nil {
		return err
	}
	return nil
}

// addr resolves host and port into the address the server binds or the client dials.
func (c *config) addr() (*net.TCPAddr, error) {
	addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(c.Host, strconv.Itoa(c.Port)))
	if err != nil {
		return nil, fmt.Errorf("resolve %s:%d: %w", c.Host, c.Port, err)
	}
	return addr, nil
}
