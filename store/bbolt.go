package store

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/gloworm-vision/sysgpio/hardware"
	"github.com/gloworm-vision/sysgpio/hardware/gpio"
	"github.com/gloworm-vision/sysgpio/sequence"
	"go.etcd.io/bbolt"
)

type BBolt struct {
	db *bbolt.DB
}

const (
	bboltRootBucket     = "sysgpio"
	bboltSequenceBucket = "sequences" // child of sysgpio
	bboltLeaseBucket    = "leases"    // child of sysgpio

	// sysgpio keys
	bboltHardwareKey = "hardware"
)

// OpenBBolt opens a BBoltDB database at the given path and creates the needed buckets
// if they don't exist.
func OpenBBolt(path string, mode os.FileMode, options *bbolt.Options) (Store, error) {
	db, err := bbolt.Open(path, mode, options)
	if err != nil {
		return nil, fmt.Errorf("unable to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists([]byte(bboltRootBucket))
		if err != nil {
			return fmt.Errorf("unable to create bucket %q: %w", bboltRootBucket, err)
		}

		for _, name := range []string{bboltSequenceBucket, bboltLeaseBucket} {
			if _, err := root.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("unable to create bucket %q: %w", name, err)
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to create bbolt buckets: %w", err)
	}

	return &BBolt{
		db: db,
	}, nil
}

func (b *BBolt) Close() error {
	return b.db.Close()
}

func child(tx *bbolt.Tx, name string) *bbolt.Bucket {
	return tx.Bucket([]byte(bboltRootBucket)).Bucket([]byte(name))
}

func (b *BBolt) HardwareConfig() (hardware.Config, error) {
	var h hardware.Config
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bboltRootBucket))
		hardwareJSON := bucket.Get([]byte(bboltHardwareKey))
		if hardwareJSON == nil {
			return fmt.Errorf("hardware config %w", ErrNotFound)
		}

		if err := json.Unmarshal(hardwareJSON, &h); err != nil {
			return fmt.Errorf("unable to unmarshal hardware config JSON: %w", err)
		}

		return nil
	})
	if err != nil {
		return h, fmt.Errorf("unable to get hardware config: %w", err)
	}

	return h, nil
}

func (b *BBolt) PutHardwareConfig(h hardware.Config) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		hardwareJSON, err := json.Marshal(h)
		if err != nil {
			return fmt.Errorf("unable to marshal hardware config: %w", err)
		}

		bucket := tx.Bucket([]byte(bboltRootBucket))
		if err := bucket.Put([]byte(bboltHardwareKey), hardwareJSON); err != nil {
			return fmt.Errorf("unable to put hardware config: %w", err)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("unable to update hardware config: %w", err)
	}

	return nil
}

func (b *BBolt) Sequence(name string) (sequence.Sequence, error) {
	var s sequence.Sequence
	err := b.db.View(func(tx *bbolt.Tx) error {
		sequenceJSON := child(tx, bboltSequenceBucket).Get([]byte(name))
		if sequenceJSON == nil {
			return fmt.Errorf("sequence %w", ErrNotFound)
		}

		if err := json.Unmarshal(sequenceJSON, &s); err != nil {
			return fmt.Errorf("unable to unmarshal sequence JSON: %w", err)
		}

		return nil
	})
	if err != nil {
		return s, fmt.Errorf("unable to get sequence %q: %w", name, err)
	}

	return s, nil
}

func (b *BBolt) ListSequences() ([]string, error) {
	names := make([]string, 0)

	err := b.db.View(func(tx *bbolt.Tx) error {
		err := child(tx, bboltSequenceBucket).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
		if err != nil {
			return fmt.Errorf("unable to iterate over sequence bucket: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to list sequences: %w", err)
	}

	return names, nil
}

func (b *BBolt) PutSequence(name string, s sequence.Sequence) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		sequenceJSON, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("unable to marshal sequence: %w", err)
		}

		if err := child(tx, bboltSequenceBucket).Put([]byte(name), sequenceJSON); err != nil {
			return fmt.Errorf("unable to put sequence %q: %w", name, err)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("unable to update sequence: %w", err)
	}

	return nil
}

func (b *BBolt) DeleteSequence(name string) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		return child(tx, bboltSequenceBucket).Delete([]byte(name))
	})
	if err != nil {
		return fmt.Errorf("unable to delete sequence %q: %w", name, err)
	}

	return nil
}

func (b *BBolt) Leases() ([]Lease, error) {
	leases := make([]Lease, 0)

	err := b.db.View(func(tx *bbolt.Tx) error {
		return child(tx, bboltLeaseBucket).ForEach(func(k, v []byte) error {
			var l Lease
			if err := json.Unmarshal(v, &l); err != nil {
				return fmt.Errorf("unable to unmarshal lease %q: %w", k, err)
			}
			leases = append(leases, l)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("unable to list leases: %w", err)
	}

	// Keys are decimal strings, so bucket order is not numeric.
	sort.Slice(leases, func(i, j int) bool { return leases[i].Number < leases[j].Number })

	return leases, nil
}

func (b *BBolt) PutLease(l Lease) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		leaseJSON, err := json.Marshal(l)
		if err != nil {
			return fmt.Errorf("unable to marshal lease: %w", err)
		}

		return child(tx, bboltLeaseBucket).Put([]byte(l.Number.String()), leaseJSON)
	})
	if err != nil {
		return fmt.Errorf("unable to put lease for pin %d: %w", l.Number, err)
	}

	return nil
}

func (b *BBolt) DeleteLease(n gpio.Number) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		return child(tx, bboltLeaseBucket).Delete([]byte(n.String()))
	})
	if err != nil {
		return fmt.Errorf("unable to delete lease for pin %d: %w", n, err)
	}

	return nil
}
