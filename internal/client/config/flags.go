package config

import (
	"flag"
	"time"

	"github.com/dmitrijs2005/gophmove/internal/flagx"
)

var cliFlags = []string{"-a", "-k", "-r", "-v"}

// parseFlags overlays the flags in args on config. See the package doc for
// the list.
func parseFlags(config *Config, args []string) error {
	fs := flag.NewFlagSet("gophmove-cli", flag.ContinueOnError)

	fs.StringVar(&config.ServerURL, "a", config.ServerURL, "server base URL")
	fs.StringVar(&config.Token, "k", config.Token, "operator token")
	requestTimeout := fs.Int("r", int(config.RequestTimeout.Seconds()), "request timeout (in seconds)")
	tokenValidity := fs.Int("v", int(config.TokenValidity.Minutes()), "minted token validity (in minutes)")

	if err := fs.Parse(flagx.FilterArgs(args, cliFlags)); err != nil {
		return err
	}

	config.RequestTimeout = time.Duration(*requestTimeout) * time.Second
	config.TokenValidity = time.Duration(*tokenValidity) * time.Minute
	return nil
}

// commandArgs strips every known flag and its value from args.
func commandArgs(args []string) []string {
	return flagx.Positional(args, append(cliFlags, "-c", "-config", "--config"))
}
