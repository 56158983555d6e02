package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/gophmove/internal/flagx"
	"github.com/dmitrijs2005/gophmove/internal/timex"
)

// JsonConfig mirrors Config for JSON files. Zero values leave the
// corresponding Config field unchanged.
type JsonConfig struct {
	ServerURL      string         `json:"server_url"`
	Token          string         `json:"token"`
	ConnectTimeout timex.Duration `json:"connect_timeout"`
	RequestTimeout timex.Duration `json:"request_timeout"`
	TokenValidity  timex.Duration `json:"token_validity"`
}

func parseJson(config *Config, args []string) error {
	path := flagx.ConfigPath(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return err
	}

	if jc.ServerURL != "" {
		config.ServerURL = jc.ServerURL
	}
	if jc.Token != "" {
		config.Token = jc.Token
	}
	setDuration(&config.ConnectTimeout, jc.ConnectTimeout)
	setDuration(&config.RequestTimeout, jc.RequestTimeout)
	setDuration(&config.TokenValidity, jc.TokenValidity)
	return nil
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
