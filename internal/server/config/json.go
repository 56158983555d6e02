package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/gophmove/internal/flagx"
	"github.com/dmitrijs2005/gophmove/internal/timex"
)

// JsonConfig mirrors Config for JSON files. Durations accept both strings
// like "90s" and integer nanoseconds. Zero values leave the corresponding
// Config field unchanged.
type JsonConfig struct {
	HTTPAddr              string         `json:"http_addr"`
	DatabaseDSN           string         `json:"database_dsn"`
	SecretKey             string         `json:"secret_key"`
	OperatorTokenValidity timex.Duration `json:"operator_token_validity"`
	PublicDomain          string         `json:"public_domain"`
	FederationScheme      string         `json:"federation_scheme"`
	S3RootUser            string         `json:"s3_root_user"`
	S3RootPassword        string         `json:"s3_root_password"`
	S3Bucket              string         `json:"s3_bucket"`
	S3Region              string         `json:"s3_region"`
	S3BaseEndpoint        string         `json:"s3_base_endpoint"`
	WorkDir               string         `json:"work_dir"`
	ChunkSize             int            `json:"chunk_size"`
	TokenTTL              timex.Duration `json:"token_ttl"`
	ManifestTTL           timex.Duration `json:"manifest_ttl"`
	JanitorInterval       timex.Duration `json:"janitor_interval"`
	ConnectTimeout        timex.Duration `json:"connect_timeout"`
	RequestTimeout        timex.Duration `json:"request_timeout"`
	ChunkAttempts         int            `json:"chunk_attempts"`
	RetryDelay            timex.Duration `json:"retry_delay"`
	LogLevel              string         `json:"log_level"`
}

// parseJson loads the file given with -c or -config in args, if any.
func parseJson(config *Config, args []string) error {
	path := flagx.ConfigPath(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(data, c); err != nil {
		return err
	}

	setString(&config.HTTPAddr, c.HTTPAddr)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.PublicDomain, c.PublicDomain)
	setString(&config.FederationScheme, c.FederationScheme)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.WorkDir, c.WorkDir)
	setString(&config.LogLevel, c.LogLevel)

	if c.ChunkSize > 0 {
		config.ChunkSize = c.ChunkSize
	}
	if c.ChunkAttempts > 0 {
		config.ChunkAttempts = c.ChunkAttempts
	}

	setDuration(&config.OperatorTokenValidity, c.OperatorTokenValidity)
	setDuration(&config.TokenTTL, c.TokenTTL)
	setDuration(&config.ManifestTTL, c.ManifestTTL)
	setDuration(&config.JanitorInterval, c.JanitorInterval)
	setDuration(&config.ConnectTimeout, c.ConnectTimeout)
	setDuration(&config.RequestTimeout, c.RequestTimeout)
	setDuration(&config.RetryDelay, c.RetryDelay)

	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration > 0 {
		*dst = v.Duration
	}
}
