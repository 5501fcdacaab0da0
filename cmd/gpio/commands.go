package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/gloworm-vision/sysgpio/hardware"
	"github.com/gloworm-vision/sysgpio/hardware/gpio"
	"github.com/gloworm-vision/sysgpio/sequence"
	"github.com/gloworm-vision/sysgpio/store"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

func pinArg(c *cli.Context, i int) (gpio.Number, error) {
	if c.NArg() <= i {
		return 0, fmt.Errorf("missing pin argument, usage: %s %s", c.Command.Name, c.Command.ArgsUsage)
	}
	return gpio.ParseNumber(c.Args().Get(i))
}

func (e *env) export(c *cli.Context) error {
	n, err := pinArg(c, 0)
	if err != nil {
		return err
	}
	d, err := gpio.ParseDirection(c.String(flagDirection))
	if err != nil {
		return err
	}

	var initial []gpio.Level
	if c.IsSet(flagValue) {
		l, err := gpio.ParseLevel(c.String(flagValue))
		if err != nil {
			return err
		}
		initial = append(initial, l)
	}

	if _, err := e.controller.Open(c.Context, n, d, initial...); err != nil {
		return err
	}
	if err := e.controller.Execute(c.Context); err != nil {
		return err
	}

	if err := e.store.PutLease(store.Lease{Number: n, Direction: d, ExportedAt: time.Now()}); err != nil {
		return fmt.Errorf("exported pin %d but could not record it: %w", n, err)
	}

	e.logger.WithFields(logrus.Fields{"pin": n, "direction": d}).Info("exported pin")
	return nil
}

func (e *env) unexport(c *cli.Context) error {
	n, err := pinArg(c, 0)
	if err != nil {
		return err
	}

	if err := e.controller.Unexport(c.Context, n); err != nil {
		return err
	}
	if err := e.controller.Execute(c.Context); err != nil {
		return err
	}

	return e.store.DeleteLease(n)
}

func (e *env) read(c *cli.Context) error {
	n, err := pinArg(c, 0)
	if err != nil {
		return err
	}

	pin, err := e.controller.Attach(n)
	if err != nil {
		return err
	}

	l, err := pin.Read()
	if err != nil {
		return err
	}

	fmt.Fprintln(c.App.Writer, l)
	return nil
}

func (e *env) direction(c *cli.Context) error {
	n, err := pinArg(c, 0)
	if err != nil {
		return err
	}

	pin, err := e.controller.Attach(n)
	if err != nil {
		return err
	}

	if c.NArg() < 2 {
		d, err := pin.Direction()
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, d)
		return nil
	}

	d, err := gpio.ParseDirection(c.Args().Get(1))
	if err != nil {
		return err
	}
	if err := pin.SetDirection(c.Context, d); err != nil {
		return err
	}
	return e.controller.Execute(c.Context)
}

func (e *env) set(c *cli.Context) error {
	n, err := pinArg(c, 0)
	if err != nil {
		return err
	}
	if c.NArg() < 2 {
		return fmt.Errorf("missing level argument, usage: set %s", c.Command.ArgsUsage)
	}
	l, err := gpio.ParseLevel(c.Args().Get(1))
	if err != nil {
		return err
	}

	if err := e.controller.Write(c.Context, n, l); err != nil {
		return err
	}
	return e.controller.Execute(c.Context)
}

func (e *env) pulse(c *cli.Context) (err error) {
	n, err := pinArg(c, 0)
	if err != nil {
		return err
	}

	pin, err := e.pulsePin(c, n)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, e.releaseOwned())
	}()

	return hardware.Pulse(c.Context, e.controller, pin, c.Duration(flagWidth), c.Int(flagCount))
}

// pulsePin attaches to a line that is already exported, which must then be an
// output, and otherwise opens it as a low output owned by this command.
func (e *env) pulsePin(c *cli.Context, n gpio.Number) (*gpio.Pin, error) {
	exported, err := e.controller.IsExported(n)
	if err != nil {
		return nil, err
	}
	if !exported {
		return e.controller.Open(c.Context, n, gpio.Out, gpio.Low)
	}

	pin, err := e.controller.Attach(n)
	if err != nil {
		return nil, err
	}
	d, err := pin.Direction()
	if err != nil {
		return nil, err
	}
	if d != gpio.Out {
		return nil, fmt.Errorf("%w: %s is %s", gpio.ErrNotOutput, pin, d)
	}
	return pin, nil
}

func (e *env) status(c *cli.Context) error {
	exported, err := e.controller.Exported()
	if err != nil {
		return err
	}
	leases, err := e.store.Leases()
	if err != nil {
		return err
	}

	leased := make(map[gpio.Number]store.Lease, len(leases))
	for _, l := range leases {
		leased[l.Number] = l
	}

	w := c.App.Writer
	for _, n := range exported {
		pin, err := e.controller.Attach(n)
		if err != nil {
			return err
		}

		d, derr := pin.Direction()
		l, lerr := pin.Read()
		if err := multierr.Combine(derr, lerr); err != nil {
			fmt.Fprintf(w, "%s\t?\t?\t%v\n", pin, err)
			continue
		}

		note := "unleased"
		if lease, ok := leased[n]; ok {
			note = "leased " + lease.ExportedAt.Format(time.RFC3339)
			delete(leased, n)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", pin, d, l, note)
	}

	for _, l := range leases {
		if _, ok := leased[l.Number]; ok {
			fmt.Fprintf(w, "gpio%d\t%s\t-\tstale lease %s\n", l.Number, l.Direction, l.ExportedAt.Format(time.RFC3339))
		}
	}

	return nil
}

func (e *env) release(c *cli.Context) error {
	leases, err := e.store.Leases()
	if err != nil {
		return err
	}

	for _, l := range leases {
		if err := e.controller.Unexport(c.Context, l.Number); err != nil {
			return err
		}
	}

	results, errs := e.controller.ExecuteReport(c.Context)

	// Without a per-directive report, as in immediate mode, every unexport
	// above already succeeded.
	failed := make(map[int]error)
	for i, r := range results {
		failed[i] = r.Err
	}

	for i, l := range leases {
		if ferr := failed[i]; ferr != nil {
			errs = multierr.Append(errs, fmt.Errorf("pin %d: %w", l.Number, ferr))
			continue
		}
		errs = multierr.Append(errs, e.store.DeleteLease(l.Number))
	}

	return errs
}

func (e *env) runFile(c *cli.Context) error {
	if c.NArg() < 1 {
		return errors.New("missing sequence file argument")
	}

	s, err := sequence.Load(c.Args().First())
	if err != nil {
		return err
	}
	return e.apply(c, s)
}

// apply queues s, runs it as one batch, and reports failed directives. Lines
// the sequence still holds are released afterwards unless --keep is given, in
// which case they are recorded as leases.
func (e *env) apply(c *cli.Context, s sequence.Sequence) (err error) {
	pins, err := s.Apply(c.Context, e.controller)
	defer func() {
		if c.Bool(flagKeep) {
			err = multierr.Append(err, e.lease(pins))
			return
		}
		err = multierr.Append(err, e.releaseOwned())
	}()
	if err != nil {
		return err
	}

	results, err := e.controller.ExecuteReport(c.Context)
	var errs error
	for _, r := range results {
		if r.Err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%q: %w", r.Directive, r.Err))
		}
	}

	return multierr.Combine(err, errs)
}

func (e *env) lease(pins []*gpio.Pin) error {
	var errs error
	for _, pin := range pins {
		d, err := pin.Direction()
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		errs = multierr.Append(errs, e.store.PutLease(store.Lease{Number: pin.Number(), Direction: d, ExportedAt: time.Now()}))
	}
	return errs
}

func (e *env) seqSave(c *cli.Context) error {
	if c.NArg() < 2 {
		return fmt.Errorf("usage: seq save %s", c.Command.ArgsUsage)
	}
	name := c.Args().Get(0)

	s, err := sequence.Load(c.Args().Get(1))
	if err != nil {
		return err
	}
	if err := s.Validate(e.controller.Lines()); err != nil {
		return err
	}

	if err := e.store.PutSequence(name, s); err != nil {
		return err
	}

	e.logger.WithFields(logrus.Fields{"name": name, "steps": len(s.Steps)}).Info("saved sequence")
	return nil
}

func (e *env) seqRun(c *cli.Context) error {
	if c.NArg() < 1 {
		return errors.New("missing sequence name argument")
	}

	s, err := e.store.Sequence(c.Args().First())
	if err != nil {
		return err
	}
	return e.apply(c, s)
}

func (e *env) seqList(c *cli.Context) error {
	names, err := e.store.ListSequences()
	if err != nil {
		return err
	}

	for _, name := range names {
		s, err := e.store.Sequence(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "%s\t%d steps\t%s\n", name, len(s.Steps), s.Description)
	}
	return nil
}

func (e *env) seqDelete(c *cli.Context) error {
	if c.NArg() < 1 {
		return errors.New("missing sequence name argument")
	}
	return e.store.DeleteSequence(c.Args().First())
}

func (e *env) configShow(c *cli.Context) error {
	enc := yaml.NewEncoder(c.App.Writer)
	defer enc.Close()

	if err := enc.Encode(e.config); err != nil {
		return fmt.Errorf("unable to encode hardware config: %w", err)
	}
	return nil
}

func (e *env) configSave(c *cli.Context) error {
	if err := e.store.PutHardwareConfig(e.config); err != nil {
		return err
	}

	e.logger.WithField("model", e.config.Model).Info("saved hardware config")
	return nil
}
