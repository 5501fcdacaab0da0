package gpio

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync"
	"time"
)

// Pin is a handle on one exported line, created by Controller.Open or
// Controller.Attach. Direction
// and value are never cached; reads always go to sysfs and bypass the queue.
//
// Several Pins may refer to the same line unless the controller is Exclusive,
// in which case they all act on the same kernel state.
type Pin struct {
	number Number
	c      *Controller

	mu       sync.Mutex
	released bool
	// intended is the last direction requested through this handle. It is
	// only consulted for StrictDirection since it may differ from the kernel.
	intended Direction

	// guarded by c.mu
	epoch uint64
	owned bool
}

func (p *Pin) Number() Number {
	return p.number
}

func (p *Pin) String() string {
	return lineName(p.number)
}

// isReleased reports whether the handle was unexported or closed along with
// its controller.
func (p *Pin) isReleased() bool {
	p.mu.Lock()
	released := p.released
	p.mu.Unlock()

	return released || p.c.stale(p)
}

func (p *Pin) checkLive() error {
	if p.isReleased() {
		return fmt.Errorf("%w: %s", ErrPinReleased, p)
	}
	return nil
}

// SetValue writes l to the line. Unless the controller uses StrictDirection,
// writing to an input is left for the kernel to reject.
func (p *Pin) SetValue(ctx context.Context, l Level) error {
	if err := p.checkLive(); err != nil {
		return err
	}

	if p.c.config.StrictDirection {
		p.mu.Lock()
		d := p.intended
		p.mu.Unlock()
		if d != Out {
			return fmt.Errorf("%w: %s is %s", ErrNotOutput, p, d)
		}
	}

	return p.c.issue(ctx, setValueDirective(p.c.config.Root, p.number, l), ErrValueWriteFailure)
}

// SetDirection changes the direction of the line.
func (p *Pin) SetDirection(ctx context.Context, d Direction) error {
	if err := p.checkLive(); err != nil {
		return err
	}
	if d != In && d != Out {
		return fmt.Errorf("%w: %q", ErrInvalidDirection, d)
	}

	if err := p.c.issue(ctx, setDirectionDirective(p.c.config.Root, p.number, d), ErrDirectionWriteFailure); err != nil {
		return err
	}

	p.mu.Lock()
	p.intended = d
	p.mu.Unlock()

	return nil
}

// Direction reads the current direction from sysfs.
func (p *Pin) Direction() (Direction, error) {
	if err := p.checkLive(); err != nil {
		return "", err
	}

	v, err := p.readFile("direction")
	if err != nil {
		return "", err
	}

	if strings.Contains(v, "out") {
		return Out, nil
	}
	return In, nil
}

// Read reads the current level of the line from sysfs.
func (p *Pin) Read() (Level, error) {
	if err := p.checkLive(); err != nil {
		return Low, err
	}

	v, err := p.readFile("value")
	if err != nil {
		return Low, err
	}

	switch v {
	case "1":
		return High, nil
	case "0":
		return Low, nil
	}
	return Low, fmt.Errorf("%w: unexpected value %q for %s", ErrReadFailure, v, p)
}

func (p *Pin) readFile(name string) (string, error) {
	data, err := fs.ReadFile(p.c.fsys, path.Join(lineName(p.number), name))
	if err != nil {
		return "", fmt.Errorf("%w: %s of %s: %w", ErrReadFailure, name, p, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// WaitFor holds back every later directive of the batch until the line reads
// l. It polls without any upper bound, so a line that never reaches l blocks
// the batch forever; use WaitForWithin to bound it.
func (p *Pin) WaitFor(ctx context.Context, l Level) error {
	if err := p.checkLive(); err != nil {
		return err
	}
	return p.c.issue(ctx, waitDirective(p.c.config.Root, p.number, l), ErrExecution)
}

// WaitForWithin is WaitFor giving up after timeout. A timeout does not stop
// the rest of the batch; it shows up as ErrWaitTimeout in ExecuteReport, or
// is returned directly in Immediate mode.
func (p *Pin) WaitForWithin(ctx context.Context, l Level, timeout time.Duration) error {
	if err := p.checkLive(); err != nil {
		return err
	}
	return p.c.issue(ctx, boundedWaitDirective(p.c.config.Root, p.number, l, timeout), ErrExecution)
}

// Await polls the line from this process every interval until it reads l or
// ctx is done, in which case ErrWaitTimeout is returned.
func (p *Pin) Await(ctx context.Context, l Level, interval time.Duration) error {
	if interval <= 0 {
		interval = waitPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		v, err := p.Read()
		if err != nil {
			return err
		}
		if v == l {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s never read %s: %w", ErrWaitTimeout, p, l, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Pipe appends one reading of the line to file when the directive runs.
func (p *Pin) Pipe(ctx context.Context, file string) error {
	if err := p.checkLive(); err != nil {
		return err
	}
	return p.c.issue(ctx, pipeDirective(p.c.config.Root, p.number, file), ErrExecution)
}

// Export exports the line again and makes this handle own it, so that
// Controller.Close unexports it.
func (p *Pin) Export(ctx context.Context) error {
	if err := p.checkLive(); err != nil {
		return err
	}
	if err := p.c.Export(ctx, p.number); err != nil {
		return err
	}

	p.c.adopt(p)
	return nil
}

// IsExported reports whether the line is currently exported.
func (p *Pin) IsExported() (bool, error) {
	return p.c.IsExported(p.number)
}

// Unexport releases the line and this handle. Releasing twice, or after the
// controller was closed, is a no-op.
func (p *Pin) Unexport(ctx context.Context) error {
	if p.c.stale(p) {
		return nil
	}

	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return nil
	}
	p.released = true
	p.mu.Unlock()

	p.c.release(p)
	return p.c.Unexport(ctx, p.number)
}

// Close unexports the line.
func (p *Pin) Close() error {
	return p.Unexport(context.Background())
}

// collect runs as a finalizer for Pins nobody released.
func (p *Pin) collect() {
	if p.isReleased() {
		return
	}
	if !p.c.owns(p) {
		p.c.release(p)
		return
	}

	logger(p.c.logger).WithField("pin", p.number).Warn("pin was garbage collected without being unexported")

	if err := p.Unexport(context.Background()); err != nil {
		logger(p.c.logger).WithError(err).WithField("pin", p.number).Warn("unable to unexport collected pin")
	}
}
