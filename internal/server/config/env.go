package config

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "GOPHMOVE"

// envFile is the dotenv file read before the environment is processed.
// Variables already present in the environment win over the file.
var envFile = ".env"

// parseEnv overlays GOPHMOVE_* variables on config. Unset variables leave
// the current value untouched.
func parseEnv(config *Config) error {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return envconfig.Process(envPrefix, config)
}
