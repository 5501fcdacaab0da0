package gpio

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// Mode selects how a Controller issues directives.
type Mode int

const (
	// Batched appends directives to the controller's Queue. Nothing reaches
	// the kernel until Execute.
	Batched Mode = iota
	// Immediate runs every directive on its own and waits for it.
	Immediate
)

func (m Mode) String() string {
	if m == Immediate {
		return "immediate"
	}
	return "batched"
}

// ParseMode accepts "batched" and "immediate".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "batched":
		return Batched, nil
	case "immediate":
		return Immediate, nil
	}
	return Batched, fmt.Errorf("unknown mode %q", s)
}

// Config tunes a Controller.
type Config struct {
	// Root is the sysfs GPIO directory as seen by the Runner. Defaults to DefaultRoot.
	Root string
	Mode Mode
	// Lines are the valid line numbers. Defaults to RaspberryPi.
	Lines LineSet

	// Exclusive refuses a second live Pin for the same number.
	Exclusive bool
	// StrictDirection rejects value writes through a Pin whose last
	// requested direction is not Out instead of leaving it to the kernel.
	StrictDirection bool
	// UnexportOnCollect unexports lines owned by Pins that are garbage collected
	// without being released. Best effort only; use Close.
	UnexportOnCollect bool

	// ExportSettle bounds how long Immediate mode waits for an exported line
	// to show up before writing its direction. Defaults to 500ms.
	ExportSettle time.Duration
}

const exportPollInterval = 50 * time.Millisecond

// Controller hands out Pins for the lines of one sysfs GPIO tree. Reads go
// straight to fsys, which must be rooted at Config.Root; writes go through the
// Runner, either directly or via the Queue.
type Controller struct {
	config Config
	fsys   fs.FS
	runner Runner
	queue  *Queue
	logger *logrus.Logger

	mu sync.Mutex
	// held counts live Pins per line, owned those that exported their line
	// and are unexported by Close.
	held  map[Number]int
	owned map[Number]int
	// epoch advances on Close, which releases every Pin of an older epoch.
	epoch uint64
}

var _ GPIO = (*Controller)(nil)

// NewController returns a Controller with its own Queue.
func NewController(config Config, runner Runner, fsys fs.FS, logger *logrus.Logger) *Controller {
	if config.Root == "" {
		config.Root = DefaultRoot
	}
	if config.Lines == nil {
		config.Lines = RaspberryPi
	}
	if config.ExportSettle <= 0 {
		config.ExportSettle = 500 * time.Millisecond
	}

	return &Controller{
		config: config,
		fsys:   fsys,
		runner: runner,
		queue:  NewQueue(runner, logger),
		logger: logger,
		held:   make(map[Number]int),
		owned:  make(map[Number]int),
	}
}

func (c *Controller) Mode() Mode { return c.config.Mode }
func (c *Controller) Lines() LineSet { return c.config.Lines }
func (c *Controller) Queue() *Queue { return c.queue }
func (c *Controller) Root() string { return c.config.Root }
func (c *Controller) Runner() Runner { return c.runner }

// Open exports line n and sets its direction, followed by its value when
// initial is given. An invalid n fails before anything is issued.
func (c *Controller) Open(ctx context.Context, n Number, d Direction, initial ...Level) (*Pin, error) {
	if err := c.config.Lines.Validate(n); err != nil {
		return nil, err
	}
	if d != In && d != Out {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDirection, d)
	}
	if len(initial) > 1 {
		return nil, fmt.Errorf("%w: more than one initial value for pin %d", ErrInvalidLevel, n)
	}
	if len(initial) == 1 && d != Out && c.config.StrictDirection {
		return nil, fmt.Errorf("%w: initial value for input pin %d", ErrNotOutput, n)
	}

	pin := &Pin{number: n, c: c, intended: d, owned: true}
	if err := c.hold(pin); err != nil {
		return nil, err
	}

	if err := c.issueOpen(ctx, n, d, initial); err != nil {
		c.release(pin)
		return nil, err
	}

	if c.config.UnexportOnCollect {
		runtime.SetFinalizer(pin, (*Pin).collect)
	}

	logger(c.logger).WithFields(logrus.Fields{"pin": n, "direction": d, "mode": c.config.Mode}).Debug("opened pin")

	return pin, nil
}

func (c *Controller) issueOpen(ctx context.Context, n Number, d Direction, initial []Level) error {
	if err := c.Export(ctx, n); err != nil {
		return err
	}

	if err := c.issue(ctx, setDirectionDirective(c.config.Root, n, d), ErrDirectionWriteFailure); err != nil {
		c.rollback(n)
		return err
	}

	if len(initial) == 1 {
		if err := c.issue(ctx, setValueDirective(c.config.Root, n, initial[0]), ErrValueWriteFailure); err != nil {
			c.rollback(n)
			return err
		}
	}

	return nil
}

// Attach returns a Pin for line n without issuing anything, for lines that
// were exported earlier, possibly by another process. The Pin does not own
// the line, so Close leaves it exported.
func (c *Controller) Attach(n Number) (*Pin, error) {
	if err := c.config.Lines.Validate(n); err != nil {
		return nil, err
	}

	pin := &Pin{number: n, c: c}
	if err := c.hold(pin); err != nil {
		return nil, err
	}

	if d, err := pin.Direction(); err == nil {
		pin.intended = d
	}

	if c.config.UnexportOnCollect {
		runtime.SetFinalizer(pin, (*Pin).collect)
	}

	return pin, nil
}

// rollback undoes a partially applied Open in Immediate mode.
func (c *Controller) rollback(n Number) {
	if err := c.Unexport(context.Background(), n); err != nil {
		logger(c.logger).WithError(err).WithField("pin", n).Warn("unable to unexport pin after failed open")
	}
}

// Export issues the export directive for n without creating a Pin.
func (c *Controller) Export(ctx context.Context, n Number) error {
	if err := c.config.Lines.Validate(n); err != nil {
		return err
	}

	if err := c.issue(ctx, exportDirective(c.config.Root, n), ErrExportFailure); err != nil {
		return err
	}

	if c.config.Mode == Immediate {
		return c.awaitExported(ctx, n)
	}

	return nil
}

// awaitExported polls until udev has created the line directory.
func (c *Controller) awaitExported(ctx context.Context, n Number) error {
	deadline := time.Now().Add(c.config.ExportSettle)
	for {
		exported, err := c.IsExported(n)
		if err == nil && exported {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: line %s did not appear", ErrExportFailure, lineName(n))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(exportPollInterval):
		}
	}
}

// Write sets line n to l without a Pin, for lines exported earlier. With
// StrictDirection the direction the kernel reports must be Out.
func (c *Controller) Write(ctx context.Context, n Number, l Level) error {
	if err := c.config.Lines.Validate(n); err != nil {
		return err
	}

	if c.config.StrictDirection {
		data, err := fs.ReadFile(c.fsys, path.Join(lineName(n), "direction"))
		if err != nil {
			return fmt.Errorf("%w: direction of %s: %w", ErrReadFailure, lineName(n), err)
		}
		if !strings.Contains(string(data), "out") {
			return fmt.Errorf("%w: %s is %s", ErrNotOutput, lineName(n), strings.TrimSpace(string(data)))
		}
	}

	return c.issue(ctx, setValueDirective(c.config.Root, n, l), ErrValueWriteFailure)
}

// Unexport issues the unexport directive for n. It accepts any number so that
// lines left behind by lost handles can be released.
func (c *Controller) Unexport(ctx context.Context, n Number) error {
	return c.issue(ctx, unexportDirective(c.config.Root, n), ErrExportFailure)
}

// IsExported reports whether line n is listed in the sysfs root.
func (c *Controller) IsExported(n Number) (bool, error) {
	entries, err := fs.ReadDir(c.fsys, ".")
	if err != nil {
		return false, fmt.Errorf("%w: unable to list %s: %w", ErrReadFailure, c.config.Root, err)
	}

	name := lineName(n)
	for _, e := range entries {
		if e.Name() == name {
			return true, nil
		}
	}

	return false, nil
}

// Exported lists the numbers of all exported lines, in ascending order.
func (c *Controller) Exported() ([]Number, error) {
	entries, err := fs.ReadDir(c.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("%w: unable to list %s: %w", ErrReadFailure, c.config.Root, err)
	}

	var out []Number
	for _, e := range entries {
		name := e.Name()
		// gpiochipN entries describe controllers, not lines.
		if !strings.HasPrefix(name, "gpio") || strings.HasPrefix(name, "gpiochip") {
			continue
		}
		if n, err := ParseNumber(name[len("gpio"):]); err == nil {
			out = append(out, n)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Sleep delays the directives that follow it.
func (c *Controller) Sleep(ctx context.Context, d time.Duration) error {
	return c.issue(ctx, sleepDirective(d), ErrExecution)
}

// Execute flushes the queue as one invocation. In Immediate mode the queue is
// normally empty and this does nothing.
func (c *Controller) Execute(ctx context.Context) error {
	return c.queue.Execute(ctx)
}

// ExecuteReport flushes the queue reporting the status of every directive.
func (c *Controller) ExecuteReport(ctx context.Context) ([]Result, error) {
	return c.queue.ExecuteReport(ctx)
}

// Held returns the numbers that currently have live Pins, in ascending order.
func (c *Controller) Held() []Number {
	c.mu.Lock()
	defer c.mu.Unlock()

	return sortedNumbers(c.held)
}

// Owned returns the numbers Close would unexport, in ascending order.
func (c *Controller) Owned() []Number {
	c.mu.Lock()
	defer c.mu.Unlock()

	return sortedNumbers(c.owned)
}

func sortedNumbers(m map[Number]int) []Number {
	out := make([]Number, 0, len(m))
	for n := range m {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Close releases every live Pin, unexports the lines owned by one of them and
// flushes the queue. Lines only reached through Attach stay exported. Pins
// handed out before Close act as unexported afterwards.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	numbers := sortedNumbers(c.owned)
	c.held = make(map[Number]int)
	c.owned = make(map[Number]int)
	c.epoch++
	c.mu.Unlock()

	var err error
	for _, n := range numbers {
		logger(c.logger).WithField("pin", n).Debug("releasing pin on close")
		err = multierr.Append(err, c.Unexport(ctx, n))
	}

	return multierr.Append(err, c.Execute(ctx))
}

// hold registers p in the current epoch.
func (c *Controller) hold(p *Pin) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.config.Exclusive && c.held[p.number] > 0 {
		return fmt.Errorf("%w: %d", ErrPinInUse, p.number)
	}
	p.epoch = c.epoch
	c.held[p.number]++
	if p.owned {
		c.owned[p.number]++
	}
	return nil
}

// adopt makes p own its line from now on.
func (c *Controller) adopt(p *Pin) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p.epoch != c.epoch || p.owned {
		return
	}
	p.owned = true
	c.owned[p.number]++
}

func (c *Controller) release(p *Pin) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p.epoch != c.epoch {
		return
	}
	decrement(c.held, p.number)
	if p.owned {
		decrement(c.owned, p.number)
	}
}

func (c *Controller) owns(p *Pin) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return p.owned && p.epoch == c.epoch
}

// stale reports whether p was released by Close.
func (c *Controller) stale(p *Pin) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return p.epoch != c.epoch
}

func decrement(m map[Number]int, n Number) {
	switch m[n] {
	case 0:
	case 1:
		delete(m, n)
	default:
		m[n]--
	}
}

// issue queues d in Batched mode and runs it in Immediate mode, where a
// failure is reported as kind.
func (c *Controller) issue(ctx context.Context, d directive, kind error) error {
	if c.config.Mode == Batched {
		logger(c.logger).Debugf("queued %q", d.text)
		c.queue.add(d)
		return nil
	}

	logger(c.logger).Debugf("running %q", d.text)
	if _, err := c.runner.Run(ctx, d.text); err != nil {
		if status, ok := exitStatus(err); ok && d.timeout && status == waitTimeoutStatus {
			return ErrWaitTimeout
		}
		return fmt.Errorf("%w: %q: %w", kind, d.text, err)
	}

	return nil
}
