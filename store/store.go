package store

import (
	"errors"
	"io"
	"time"

	"github.com/gloworm-vision/sysgpio/hardware"
	"github.com/gloworm-vision/sysgpio/hardware/gpio"
	"github.com/gloworm-vision/sysgpio/sequence"
)

// ErrNotFound is wrapped by lookups of keys that were never stored.
var ErrNotFound = errors.New("not found")

// Lease records a line exported by sysgpio, so that a later run can release
// it after the process that exported it is gone.
type Lease struct {
	Number     gpio.Number    `json:"number"`
	Direction  gpio.Direction `json:"direction"`
	ExportedAt time.Time      `json:"exportedAt"`
}

// Store describes a persistent storage engine for sysgpio information.
type Store interface {
	HardwareConfig() (hardware.Config, error)
	PutHardwareConfig(h hardware.Config) error

	Sequence(name string) (sequence.Sequence, error)
	ListSequences() ([]string, error)
	PutSequence(name string, s sequence.Sequence) error
	DeleteSequence(name string) error

	// Leases returns all leases ordered by line number.
	Leases() ([]Lease, error)
	PutLease(l Lease) error
	DeleteLease(n gpio.Number) error

	io.Closer
}
