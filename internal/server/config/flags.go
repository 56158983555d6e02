package config

import (
	"flag"
	"time"

	"github.com/dmitrijs2005/gophmove/internal/flagx"
)

var serverFlags = []string{"-a", "-d", "-s", "-t", "-u", "-p", "-b", "-g", "-e", "-m", "-w", "-l"}

// parseFlags overlays command-line flags on config.
//
//	-a string   HTTP bind address (e.g. ":8080")
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-t int      operator token validity, minutes
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint
//	-m string   public domain of this instance
//	-w string   work directory for archives
//	-l string   log level
//
// args are filtered with flagx.FilterArgs first so that -c and any flags
// owned by other components do not break parsing.
func parseFlags(config *Config, args []string) error {
	fs := flag.NewFlagSet("gophmove", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	operatorTokenValidity := fs.Int("t", int(config.OperatorTokenValidity.Minutes()), "operator token validity (in minutes)")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.PublicDomain, "m", config.PublicDomain, "public domain of this instance")
	fs.StringVar(&config.WorkDir, "w", config.WorkDir, "work directory")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level (debug, info, warn, error)")

	if err := fs.Parse(flagx.FilterArgs(args, serverFlags)); err != nil {
		return err
	}

	config.OperatorTokenValidity = time.Duration(*operatorTokenValidity) * time.Minute
	return nil
}
