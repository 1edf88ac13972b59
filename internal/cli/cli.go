// Package cli holds the startup plumbing shared by the binaries: .env
// loading, log level, flag defaults from the environment and fatal exits.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/tebeka/atexit"
)

const EnvPrefix = "SESSIONBENCH_"

// Setup loads .env if present and configures logrus from LOG_LEVEL.
// Logs go to stderr; stdout is reserved for samples.
func Setup() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("load .env")
	}

	log.SetOutput(os.Stderr)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	level, err := log.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
}

// EnvName maps a flag name to its environment variable, e.g. wait-timeout
// to SESSIONBENCH_WAIT_TIMEOUT.
func EnvName(flag string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

// BindEnv sets every flag not given on the command line from its
// environment variable.
func BindEnv(fs *pflag.FlagSet) error {
	var errs []string
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			return
		}
		v, ok := os.LookupEnv(EnvName(f.Name))
		if !ok {
			return
		}
		if err := fs.Set(f.Name, v); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", EnvName(f.Name), err))
		}
	})
	if len(errs) > 0 {
		return fmt.Errorf("bad environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

// OnExit registers fn to run before the process exits through Exit.
func OnExit(fn func() error, what string) {
	atexit.Register(func() {
		if err := fn(); err != nil {
			log.WithError(err).Warnf("close %s", what)
		}
	})
}

// Exit runs the registered closers and exits with 1 if err is non-nil.
func Exit(err error) {
	if err != nil {
		log.WithError(err).Error("exiting")
		atexit.Exit(1)
	}
	atexit.Exit(0)
}
