package config

import (
	"fmt"
	"strings"
	"time"
)

// Config holds runtime settings for the operator CLI.
type Config struct {
	ServerURL string `envconfig:"SERVER_URL"`
	Token     string `envconfig:"TOKEN"`

	ConnectTimeout time.Duration `envconfig:"CONNECT_TIMEOUT"`
	// RequestTimeout bounds one management call. Transfers are synchronous
	// so it has to cover a whole account.
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT"`
	TokenValidity  time.Duration `envconfig:"TOKEN_VALIDITY"`
}

// LoadDefaults populates c with development defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8080"
	c.ConnectTimeout = 30 * time.Second
	c.RequestTimeout = 30 * time.Minute
	c.TokenValidity = 12 * time.Hour
}

func (c *Config) Validate() error {
	switch {
	case !strings.HasPrefix(c.ServerURL, "http://") && !strings.HasPrefix(c.ServerURL, "https://"):
		return fmt.Errorf("server url must start with http:// or https://, got %q", c.ServerURL)
	case c.RequestTimeout <= 0 || c.ConnectTimeout <= 0:
		return fmt.Errorf("timeouts must be positive")
	case c.TokenValidity <= 0:
		return fmt.Errorf("token validity must be positive")
	}
	return nil
}

// LoadConfig builds a Config from defaults, the JSON file named in args,
// the environment and the flags in args. It returns the remaining
// positional arguments, which name the command to run.
func LoadConfig(args []string) (*Config, []string, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if err := parseJson(cfg, args); err != nil {
		return nil, nil, fmt.Errorf("json config: %w", err)
	}
	if err := parseEnv(cfg); err != nil {
		return nil, nil, fmt.Errorf("env config: %w", err)
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, nil, fmt.Errorf("flags: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")
	return cfg, commandArgs(args), nil
}
