package config

import (
	"flag"
	"io"

	"github.com/dmitrijs2005/kehilla/internal/flagx"
)

// parseFlags overlays the command-line flags this package owns:
//
//	-b string   backend (memory, firestore, redis, postgres)
//	-d string   PostgreSQL DSN
//	-r string   Redis URL
//	-f string   Firestore project
//	-s string   ID token HMAC secret
//	-z string   IANA timezone for sponsorship dates
//	-l string   log level
//	-m string   metrics listen address
//
// Other arguments are ignored.
func parseFlags(config *Config, args []string) error {
	args = flagx.FilterArgs(args, []string{"-b", "-d", "-r", "-f", "-s", "-z", "-l", "-m"})

	fs := flag.NewFlagSet("kehilla", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	backend := fs.String("b", string(config.Backend), "document store backend")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.RedisURL, "r", config.RedisURL, "redis URL")
	fs.StringVar(&config.FirestoreProjectID, "f", config.FirestoreProjectID, "firestore project")
	fs.StringVar(&config.AuthSecret, "s", config.AuthSecret, "ID token secret")
	fs.StringVar(&config.Timezone, "z", config.Timezone, "timezone")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.StringVar(&config.MetricsAddr, "m", config.MetricsAddr, "metrics listen address")

	if err := fs.Parse(args); err != nil {
		return err
	}
	config.Backend = Backend(*backend)
	return nil
}
