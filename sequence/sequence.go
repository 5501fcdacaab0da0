// Package sequence reads timed GPIO sequences from YAML and queues them on a
// controller so they run as one batch.
//
//	description: strobe
//	steps:
//	  - {op: export, pin: 24, direction: out, level: low}
//	  - {op: set, pin: 24, level: high}
//	  - {op: sleep, duration: 5us}
//	  - {op: set, pin: 24, level: low}
//	  - {op: unexport, pin: 24}
package sequence

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/gloworm-vision/sysgpio/hardware/gpio"
	"gopkg.in/yaml.v3"
)

type Op string

const (
	Export    Op = "export"
	Unexport  Op = "unexport"
	Set       Op = "set"
	Direction Op = "direction"
	Sleep     Op = "sleep"
	Wait      Op = "wait"
	Pipe      Op = "pipe"
)

// Sequence is an ordered list of steps. It is stored as JSON and written by
// hand as YAML.
type Sequence struct {
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Steps       []Step `yaml:"steps" json:"steps"`
}

// Step is one operation. Which fields matter depends on Op:
//
//	export     pin, direction, optional level
//	unexport   pin
//	set        pin, level
//	direction  pin, direction
//	sleep      duration
//	wait       pin, level, optional timeout
//	pipe       pin, path
type Step struct {
	Op        Op          `yaml:"op" json:"op"`
	Pin       gpio.Number `yaml:"pin,omitempty" json:"pin,omitempty"`
	Direction string      `yaml:"direction,omitempty" json:"direction,omitempty"`
	Level     string      `yaml:"level,omitempty" json:"level,omitempty"`
	Duration  string      `yaml:"duration,omitempty" json:"duration,omitempty"`
	Timeout   string      `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Path      string      `yaml:"path,omitempty" json:"path,omitempty"`
}

// Parse decodes a YAML sequence and checks that every step is well formed.
func Parse(data []byte) (Sequence, error) {
	var s Sequence
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("unable to decode sequence: %w", err)
	}

	if err := s.Validate(nil); err != nil {
		return s, err
	}

	return s, nil
}

// Load parses the sequence file at path.
func Load(path string) (Sequence, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Sequence{}, fmt.Errorf("unable to read sequence %q: %w", path, err)
	}

	s, err := Parse(data)
	if err != nil {
		return s, fmt.Errorf("invalid sequence %q: %w", path, err)
	}

	return s, nil
}

// Validate checks every step. When lines is not nil, pin numbers must belong
// to it.
func (s Sequence) Validate(lines gpio.LineSet) error {
	if len(s.Steps) == 0 {
		return fmt.Errorf("sequence has no steps")
	}

	for i, step := range s.Steps {
		if _, err := step.parse(); err != nil {
			return fmt.Errorf("step %d (%s): %w", i, step.Op, err)
		}
		if lines != nil && step.Op != Sleep {
			if err := lines.Validate(step.Pin); err != nil {
				return fmt.Errorf("step %d (%s): %w", i, step.Op, err)
			}
		}
	}

	return nil
}

// parsed holds the typed arguments of a Step.
type parsed struct {
	direction gpio.Direction
	level     *gpio.Level
	duration  time.Duration
	timeout   time.Duration
}

func (s Step) parse() (parsed, error) {
	var p parsed

	switch s.Op {
	case Export, Direction:
		d, err := gpio.ParseDirection(s.Direction)
		if err != nil {
			return p, err
		}
		p.direction = d
	case Sleep:
		d, err := time.ParseDuration(s.Duration)
		if err != nil {
			return p, fmt.Errorf("bad duration: %w", err)
		}
		if d < 0 {
			return p, fmt.Errorf("negative duration %s", d)
		}
		p.duration = d
	case Pipe:
		if s.Path == "" {
			return p, fmt.Errorf("missing path")
		}
	case Unexport, Set, Wait:
	default:
		return p, fmt.Errorf("unknown op %q", s.Op)
	}

	needsLevel := s.Op == Set || s.Op == Wait
	if needsLevel || (s.Op == Export && s.Level != "") {
		l, err := gpio.ParseLevel(s.Level)
		if err != nil {
			return p, err
		}
		p.level = &l
	}

	if s.Op == Wait && s.Timeout != "" {
		t, err := time.ParseDuration(s.Timeout)
		if err != nil {
			return p, fmt.Errorf("bad timeout: %w", err)
		}
		if t <= 0 {
			return p, fmt.Errorf("timeout must be positive, got %s", t)
		}
		p.timeout = t
	}

	return p, nil
}

// Apply issues every step on c in order. In batched mode nothing runs until
// the caller executes the queue. Pins are opened by export steps or attached
// on first use, and released by unexport steps. The returned pins are the
// ones whose lines the sequence exported and left exported; lines it only
// attached to are not its to release.
func (s Sequence) Apply(ctx context.Context, c *gpio.Controller) ([]*gpio.Pin, error) {
	if err := s.Validate(c.Lines()); err != nil {
		return nil, err
	}

	pins := make(map[gpio.Number]*gpio.Pin)
	handle := func(n gpio.Number) (*gpio.Pin, error) {
		if p, ok := pins[n]; ok {
			return p, nil
		}
		p, err := c.Attach(n)
		if err != nil {
			return nil, err
		}
		pins[n] = p
		return p, nil
	}

	exported := make(map[gpio.Number]bool)
	for i, step := range s.Steps {
		if err := step.apply(ctx, c, pins, handle); err != nil {
			return held(pins, exported), fmt.Errorf("step %d (%s): %w", i, step.Op, err)
		}

		switch step.Op {
		case Export:
			exported[step.Pin] = true
		case Unexport:
			delete(exported, step.Pin)
		}
	}

	return held(pins, exported), nil
}

func (s Step) apply(ctx context.Context, c *gpio.Controller, pins map[gpio.Number]*gpio.Pin, handle func(gpio.Number) (*gpio.Pin, error)) error {
	p, err := s.parse()
	if err != nil {
		return err
	}

	switch s.Op {
	case Sleep:
		return c.Sleep(ctx, p.duration)
	case Export:
		if pin, ok := pins[s.Pin]; ok {
			return reexport(ctx, pin, p)
		}

		var initial []gpio.Level
		if p.level != nil {
			initial = append(initial, *p.level)
		}
		pin, err := c.Open(ctx, s.Pin, p.direction, initial...)
		if err != nil {
			return err
		}
		pins[s.Pin] = pin
		return nil
	}

	pin, err := handle(s.Pin)
	if err != nil {
		return err
	}

	switch s.Op {
	case Unexport:
		delete(pins, s.Pin)
		return pin.Unexport(ctx)
	case Set:
		return pin.SetValue(ctx, *p.level)
	case Direction:
		return pin.SetDirection(ctx, p.direction)
	case Wait:
		if p.timeout > 0 {
			return pin.WaitForWithin(ctx, *p.level, p.timeout)
		}
		return pin.WaitFor(ctx, *p.level)
	case Pipe:
		return pin.Pipe(ctx, s.Path)
	}

	return fmt.Errorf("unknown op %q", s.Op)
}

// reexport issues what Open would for a line this sequence already holds.
func reexport(ctx context.Context, pin *gpio.Pin, p parsed) error {
	if err := pin.Export(ctx); err != nil {
		return err
	}
	if err := pin.SetDirection(ctx, p.direction); err != nil {
		return err
	}
	if p.level != nil {
		return pin.SetValue(ctx, *p.level)
	}
	return nil
}

func held(pins map[gpio.Number]*gpio.Pin, exported map[gpio.Number]bool) []*gpio.Pin {
	out := make([]*gpio.Pin, 0, len(pins))
	for n, p := range pins {
		if exported[n] {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number() < out[j].Number() })
	return out
}
