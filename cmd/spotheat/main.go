package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/koding/multiconfig"
	"github.com/nergy-se/spotheat/pkg/api/v1/config"
	"github.com/nergy-se/spotheat/pkg/app"
	"github.com/nergy-se/spotheat/pkg/logsink"
	"github.com/sirupsen/logrus"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGQUIT, syscall.SIGTERM)
	defer stop()
	err := Run(ctx)
	if err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

func Run(ctx context.Context) error {
	sink := logsink.New(os.Stdout)
	sink.Install(logrus.StandardLogger())

	config := &config.CliConfig{}
	err := multiconfig.New().Load(config)
	if err != nil {
		return err
	}
	err = config.Validate()
	if err != nil {
		return err
	}
	lvl, err := logLevel(config)
	if err != nil {
		return err
	}
	logrus.SetLevel(lvl)

	app := app.New(config, sink)

	err = app.Start(ctx)
	if err != nil {
		return err
	}

	app.Wait()
	return nil
}

// logLevel parses LogLevel; debug mode always logs at least at debug level.
func logLevel(c *config.CliConfig) (logrus.Level, error) {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return lvl, fmt.Errorf("error setting logrus loglevel: %w", err)
	}
	if c.Debug && lvl < logrus.DebugLevel {
		lvl = logrus.DebugLevel
	}
	return lvl, nil
}
