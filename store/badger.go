package store

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"sort"

	badger "github.com/dgraph-io/badger/v2"
	"github.com/gloworm-vision/sysgpio/hardware"
	"github.com/gloworm-vision/sysgpio/hardware/gpio"
	"github.com/gloworm-vision/sysgpio/sequence"
)

type badgerDB struct {
	db *badger.DB
}

// OpenBadger opens a badger DB with the given options as a sysgpio store.
func OpenBadger(options badger.Options) (Store, error) {
	db, err := badger.Open(options)
	if err != nil {
		return nil, fmt.Errorf("unable to open badger db: %w", err)
	}

	return &badgerDB{db: db}, nil
}

const (
	badgerHardwareKey    = "hardware"
	badgerSequencePrefix = "sequences/"
	badgerLeasePrefix    = "leases/"
)

func (b *badgerDB) Close() error {
	return b.db.Close()
}

func get(tx *badger.Txn, key string, v interface{}) error {
	item, err := tx.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%q %w", key, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("couldn't get raw value: %w", err)
	}

	return item.Value(func(val []byte) error {
		if err := gob.NewDecoder(bytes.NewReader(val)).Decode(v); err != nil {
			return fmt.Errorf("couldn't decode value with gob: %w", err)
		}
		return nil
	})
}

func set(tx *badger.Txn, key string, v interface{}) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("couldn't encode value with gob: %w", err)
	}

	return tx.Set([]byte(key), buf.Bytes())
}

// keys returns the keys under prefix with the prefix stripped.
func keys(tx *badger.Txn, prefix string) []string {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false

	it := tx.NewIterator(opts)
	defer it.Close()

	var out []string
	for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
		out = append(out, string(it.Item().Key()[len(prefix):]))
	}
	return out
}

func (b *badgerDB) HardwareConfig() (hardware.Config, error) {
	var h hardware.Config
	err := b.db.View(func(tx *badger.Txn) error {
		return get(tx, badgerHardwareKey, &h)
	})
	if err != nil {
		return h, fmt.Errorf("unable to get hardware config: %w", err)
	}

	return h, nil
}

func (b *badgerDB) PutHardwareConfig(h hardware.Config) error {
	err := b.db.Update(func(tx *badger.Txn) error {
		return set(tx, badgerHardwareKey, h)
	})
	if err != nil {
		return fmt.Errorf("unable to put hardware config: %w", err)
	}

	return nil
}

func (b *badgerDB) Sequence(name string) (sequence.Sequence, error) {
	var s sequence.Sequence
	err := b.db.View(func(tx *badger.Txn) error {
		return get(tx, badgerSequencePrefix+name, &s)
	})
	if err != nil {
		return s, fmt.Errorf("unable to get sequence %q: %w", name, err)
	}

	return s, nil
}

func (b *badgerDB) ListSequences() ([]string, error) {
	names := make([]string, 0)
	err := b.db.View(func(tx *badger.Txn) error {
		names = append(names, keys(tx, badgerSequencePrefix)...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to list sequences: %w", err)
	}

	return names, nil
}

func (b *badgerDB) PutSequence(name string, s sequence.Sequence) error {
	err := b.db.Update(func(tx *badger.Txn) error {
		return set(tx, badgerSequencePrefix+name, s)
	})
	if err != nil {
		return fmt.Errorf("unable to put sequence %q: %w", name, err)
	}

	return nil
}

func (b *badgerDB) DeleteSequence(name string) error {
	err := b.db.Update(func(tx *badger.Txn) error {
		return tx.Delete([]byte(badgerSequencePrefix + name))
	})
	if err != nil {
		return fmt.Errorf("unable to delete sequence %q: %w", name, err)
	}

	return nil
}

func (b *badgerDB) Leases() ([]Lease, error) {
	leases := make([]Lease, 0)
	err := b.db.View(func(tx *badger.Txn) error {
		for _, k := range keys(tx, badgerLeasePrefix) {
			var l Lease
			if err := get(tx, badgerLeasePrefix+k, &l); err != nil {
				return fmt.Errorf("couldn't get lease %q: %w", k, err)
			}
			leases = append(leases, l)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to list leases: %w", err)
	}

	sort.Slice(leases, func(i, j int) bool { return leases[i].Number < leases[j].Number })

	return leases, nil
}

func (b *badgerDB) PutLease(l Lease) error {
	err := b.db.Update(func(tx *badger.Txn) error {
		return set(tx, badgerLeasePrefix+l.Number.String(), l)
	})
	if err != nil {
		return fmt.Errorf("unable to put lease for pin %d: %w", l.Number, err)
	}

	return nil
}

func (b *badgerDB) DeleteLease(n gpio.Number) error {
	err := b.db.Update(func(tx *badger.Txn) error {
		return tx.Delete([]byte(badgerLeasePrefix + n.String()))
	})
	if err != nil {
		return fmt.Errorf("unable to delete lease for pin %d: %w", n, err)
	}

	return nil
}
