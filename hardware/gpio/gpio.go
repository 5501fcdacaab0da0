// Package gpio controls GPIO lines through the Linux sysfs interface. Mutating
// operations are expressed as shell directives which are either run one at a
// time or batched into a Queue and flushed as a single privileged invocation.
package gpio

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Level describes the binary state of a GPIO pin: either LOW or HIGH.
type Level bool

const (
	Low  Level = false
	High Level = true
)

type GPIO interface {
	// Write sets a line to LOW or HIGH
	Write(ctx context.Context, n Number, l Level) error
}

// String returns the value as written to and read from a sysfs value file.
func (l Level) String() string {
	if l {
		return "1"
	}
	return "0"
}

// ParseLevel accepts "0", "1", "low" and "high" (any case, surrounding space ignored).
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "high":
		return High, nil
	case "0", "low":
		return Low, nil
	}
	return Low, fmt.Errorf("%w: %q", ErrInvalidLevel, s)
}

// Direction is whether a line receives (In) or drives (Out) a signal.
type Direction string

const (
	In  Direction = "in"
	Out Direction = "out"
)

// ParseDirection accepts exactly "in" or "out".
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(s))); d {
	case In, Out:
		return d, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDirection, s)
}

// Number identifies a GPIO line. Whether a number is usable depends on the
// LineSet of the board it is used with.
type Number int

func (n Number) String() string {
	return strconv.Itoa(int(n))
}

// ParseNumber parses a decimal line number. It does not check membership of
// any LineSet.
func ParseNumber(s string) (Number, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPinNumber, s)
	}
	return Number(v), nil
}

// LineSet is the fixed set of line numbers a board exposes.
type LineSet map[Number]struct{}

// NewLineSet builds a LineSet from the given numbers.
func NewLineSet(numbers ...Number) LineSet {
	s := make(LineSet, len(numbers))
	for _, n := range numbers {
		s[n] = struct{}{}
	}
	return s
}

// Contains reports whether n is a valid line of the set.
func (s LineSet) Contains(n Number) bool {
	_, ok := s[n]
	return ok
}

// Numbers returns the lines of the set in ascending order.
func (s LineSet) Numbers() []Number {
	out := make([]Number, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate returns ErrInvalidPinNumber if n is not part of the set.
func (s LineSet) Validate(n Number) error {
	if !s.Contains(n) {
		return fmt.Errorf("%w: %d", ErrInvalidPinNumber, n)
	}
	return nil
}

// RaspberryPi holds the BCM numbers broken out on the 40 pin header.
var RaspberryPi = NewLineSet(
	0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13,
	14, 15, 16, 17, 18, 19, 20, 21, 22, 23, 24, 25, 26, 27,
)
