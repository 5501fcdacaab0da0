package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v2"
	"github.com/gloworm-vision/sysgpio/hardware"
	"github.com/gloworm-vision/sysgpio/hardware/gpio"
	"github.com/gloworm-vision/sysgpio/store"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

const (
	flagRoot         = "root"
	flagModel        = "model"
	flagSudo         = "sudo"
	flagElevate      = "elevate"
	flagShell        = "shell"
	flagStore        = "store"
	flagStoreBackend = "store-backend"
	flagImmediate    = "immediate"
	flagStrict       = "strict"
	flagExclusive    = "exclusive"
	flagDebug        = "debug"

	flagDirection = "direction"
	flagValue     = "value"
	flagWidth     = "width"
	flagCount     = "count"
	flagKeep      = "keep"

	backendBBolt  = "bbolt"
	backendBadger = "badger"

	// releaseTimeout bounds the cleanup batch that runs after the command's
	// own context was cancelled.
	releaseTimeout = 5 * time.Second
)

// env is what every command runs against. It is set up in Before and torn
// down in After.
type env struct {
	logger     *logrus.Logger
	store      store.Store
	config     hardware.Config
	controller *gpio.Controller
}

func newApp(logger *logrus.Logger) *cli.App {
	e := &env{logger: logger}

	return &cli.App{
		Name:  "gpio",
		Usage: "drive sysfs GPIO lines",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  flagRoot,
				Usage: "sysfs GPIO `DIR`",
			},
			&cli.StringFlag{
				Name:  flagModel,
				Usage: fmt.Sprintf("board model, one of %v", hardware.ModelNames()),
			},
			&cli.BoolFlag{
				Name:  flagSudo,
				Usage: "run directives through the elevation command",
			},
			&cli.StringFlag{
				Name:  flagElevate,
				Usage: "elevation `COMMAND` prefixed to the shell, sudo by default",
			},
			&cli.StringFlag{
				Name:  flagShell,
				Usage: "`SHELL` that runs directive batches",
			},
			&cli.StringFlag{
				Name:  flagStore,
				Value: "sysgpio.db",
				Usage: "store `PATH`, a file for bbolt or a directory for badger",
			},
			&cli.StringFlag{
				Name:  flagStoreBackend,
				Value: backendBBolt,
				Usage: "store backend, bbolt or badger",
			},
			&cli.BoolFlag{
				Name:  flagImmediate,
				Usage: "run every directive as soon as it is issued",
			},
			&cli.BoolFlag{
				Name:  flagStrict,
				Usage: "refuse to set values on pins not opened as outputs",
			},
			&cli.BoolFlag{
				Name:  flagExclusive,
				Usage: "refuse a second handle to the same line",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Before: e.setup,
		After:  e.teardown,
		Commands: []*cli.Command{
			{
				Name:      "export",
				Usage:     "export a line and set its direction",
				ArgsUsage: "<pin>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagDirection, Value: string(gpio.Out), Usage: "in or out"},
					&cli.StringFlag{Name: flagValue, Usage: "initial `LEVEL` for an output"},
				},
				Action: e.export,
			},
			{
				Name:      "unexport",
				Usage:     "unexport a line",
				ArgsUsage: "<pin>",
				Action:    e.unexport,
			},
			{
				Name:      "read",
				Usage:     "print the level of an exported line",
				ArgsUsage: "<pin>",
				Action:    e.read,
			},
			{
				Name:      "direction",
				Usage:     "print or change the direction of an exported line",
				ArgsUsage: "<pin> [in|out]",
				Action:    e.direction,
			},
			{
				Name:      "set",
				Usage:     "drive an exported output",
				ArgsUsage: "<pin> <level>",
				Action:    e.set,
			},
			{
				Name:      "pulse",
				Usage:     "drive a pulse train onto a line in one batch",
				ArgsUsage: "<pin>",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: flagWidth, Value: time.Millisecond, Usage: "width of each high and low period"},
					&cli.IntFlag{Name: flagCount, Value: 1, Usage: "number of pulses"},
				},
				Action: e.pulse,
			},
			{
				Name:   "status",
				Usage:  "list exported lines and recorded leases",
				Action: e.status,
			},
			{
				Name:   "release",
				Usage:  "unexport every line with a recorded lease",
				Action: e.release,
			},
			{
				Name:      "run",
				Usage:     "run a sequence from a YAML file",
				ArgsUsage: "<file>",
				Flags:     []cli.Flag{keepFlag()},
				Action:    e.runFile,
			},
			{
				Name:  "seq",
				Usage: "manage saved sequences",
				Subcommands: []*cli.Command{
					{
						Name:      "save",
						Usage:     "validate a YAML sequence and save it under a name",
						ArgsUsage: "<name> <file>",
						Action:    e.seqSave,
					},
					{
						Name:      "run",
						Usage:     "run a saved sequence",
						ArgsUsage: "<name>",
						Flags:     []cli.Flag{keepFlag()},
						Action:    e.seqRun,
					},
					{
						Name:   "list",
						Usage:  "list saved sequences",
						Action: e.seqList,
					},
					{
						Name:      "delete",
						Usage:     "delete a saved sequence",
						ArgsUsage: "<name>",
						Action:    e.seqDelete,
					},
				},
			},
			{
				Name:  "config",
				Usage: "inspect or persist the hardware config",
				Subcommands: []*cli.Command{
					{
						Name:   "show",
						Usage:  "print the effective hardware config",
						Action: e.configShow,
					},
					{
						Name:   "save",
						Usage:  "save the effective hardware config, flags included",
						Action: e.configSave,
					},
				},
			},
		},
	}
}

func keepFlag() cli.Flag {
	return &cli.BoolFlag{Name: flagKeep, Usage: "leave lines the sequence exported in place and lease them"}
}

func (e *env) setup(c *cli.Context) error {
	if c.Bool(flagDebug) {
		e.logger.SetLevel(logrus.DebugLevel)
	}

	s, err := openStore(c.String(flagStoreBackend), c.String(flagStore), e.logger)
	if err != nil {
		return err
	}
	e.store = s

	config, err := s.HardwareConfig()
	if errors.Is(err, store.ErrNotFound) {
		config = hardware.DefaultConfig()
	} else if err != nil {
		return fmt.Errorf("unable to load hardware config: %w", err)
	}
	e.config = overrideConfig(c, config)

	controller, err := hardware.New(e.config, e.logger)
	if err != nil {
		return fmt.Errorf("unable to create controller: %w", err)
	}
	e.controller = controller

	return nil
}

func (e *env) teardown(c *cli.Context) error {
	if e.store == nil {
		return nil
	}
	if err := e.store.Close(); err != nil {
		return fmt.Errorf("unable to close store: %w", err)
	}
	return nil
}

func openStore(backend, path string, logger *logrus.Logger) (store.Store, error) {
	switch backend {
	case backendBBolt:
		return store.OpenBBolt(path, 0o666, nil)
	case backendBadger:
		return store.OpenBadger(badger.DefaultOptions(path).WithLogger(logger))
	}
	return nil, fmt.Errorf("unknown store backend %q", backend)
}

// overrideConfig applies the global flags that were given on top of the
// stored config.
func overrideConfig(c *cli.Context, config hardware.Config) hardware.Config {
	if c.IsSet(flagRoot) {
		config.Root = c.String(flagRoot)
	}
	if c.IsSet(flagModel) {
		config.Model = c.String(flagModel)
	}
	if c.IsSet(flagSudo) {
		config.Sudo = c.Bool(flagSudo)
	}
	if c.IsSet(flagElevate) {
		config.Elevate = c.String(flagElevate)
	}
	if c.IsSet(flagShell) {
		config.Shell = c.String(flagShell)
	}
	if c.IsSet(flagImmediate) {
		config.Mode = gpio.Batched.String()
		if c.Bool(flagImmediate) {
			config.Mode = gpio.Immediate.String()
		}
	}
	if c.IsSet(flagStrict) {
		config.StrictDirection = c.Bool(flagStrict)
	}
	if c.IsSet(flagExclusive) {
		config.Exclusive = c.Bool(flagExclusive)
	}
	return config
}

// releaseOwned unexports the lines the command exported and still holds.
// Lines it only attached to, such as leased ones, stay exported. It runs on a
// fresh context so that an interrupted command still cleans up.
func (e *env) releaseOwned() error {
	owned := e.controller.Owned()
	if len(owned) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	e.logger.WithField("pins", owned).Debug("releasing pins")
	if err := e.controller.Close(ctx); err != nil {
		return fmt.Errorf("unable to release pins %v: %w", owned, err)
	}
	return nil
}
