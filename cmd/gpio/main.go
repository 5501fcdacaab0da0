// Package main is the gpio command, a front end to sysfs GPIO lines that
// keeps its board config, saved sequences, and export leases in a local store.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logrus.New()
	if err := newApp(logger).RunContext(ctx, os.Args); err != nil {
		stop()
		logger.WithError(err).Fatal("gpio failed")
	}
}
