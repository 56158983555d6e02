package config

import "github.com/kelseyhightower/envconfig"

const envPrefix = "GOPHMOVECTL"

func parseEnv(config *Config) error {
	return envconfig.Process(envPrefix, config)
}
