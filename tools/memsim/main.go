// Command memsim runs the kernel frame and page allocators on the host, over
// an anonymous memory mapping that stands in for physical memory.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	logLevel  = flag.String("log-level", "info", "log level: debug, info, warning or error.")
	logFormat = flag.String("log-format", "text", "log format: text or json.")
)

// setupLogging configures the standard logrus logger.
func setupLogging(level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return errors.Wrap(err, "invalid log level")
	}
	logrus.SetLevel(lvl)

	switch format {
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		return errors.Errorf("invalid log format %q", format)
	}
	return nil
}

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(runCmd), "")
	subcommands.Register(new(stressCmd), "")
	subcommands.Register(new(pagesCmd), "")

	flag.Parse()
	if err := setupLogging(*logLevel, *logFormat); err != nil {
		logrus.WithError(err).Fatal("cannot configure logging")
	}

	os.Exit(int(subcommands.Execute(context.Background())))
}
