// Package recordstore implements the out-of-scope per-device metadata
// persistence collaborator spec.md §6 describes: a single
// "deviceRecords" key holding the blob internal/model encodes/decodes,
// kept in a dedicated bbolt bucket.
package recordstore

import (
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/usbthief/internal/log"
	"github.com/cuemby/usbthief/internal/model"
)

var bucketDevices = []byte("devices")

const deviceRecordsKey = "deviceRecords"

// Store is a bbolt-backed implementation of internal/device.RecordStore.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) a bbolt database at path and ensures
// its bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("recordstore: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketDevices)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("recordstore: create bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load reads the persisted DeviceRecords. A missing key returns an empty
// slice, not an error. Malformed tokens are skipped with a warning log.
func (s *Store) Load() ([]model.DeviceRecord, error) {
	var blob string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if v := b.Get([]byte(deviceRecordsKey)); v != nil {
			blob = string(v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recordstore: load: %w", err)
	}

	return model.DecodeDeviceRecords(blob, func(tok string, decodeErr error) {
		log.WithComponent("recordstore").Warn().Err(decodeErr).Str("token", tok).Msg("skipping malformed device record")
	}), nil
}

// Save overwrites the persisted DeviceRecords with records.
func (s *Store) Save(records []model.DeviceRecord) error {
	blob := model.EncodeDeviceRecords(records)
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		return b.Put([]byte(deviceRecordsKey), []byte(blob))
	})
	if err != nil {
		return fmt.Errorf("recordstore: save: %w", err)
	}
	return nil
}

// Clear removes the persisted DeviceRecords entirely.
func (s *Store) Clear() error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		return b.Delete([]byte(deviceRecordsKey))
	})
	if err != nil {
		return fmt.Errorf("recordstore: clear: %w", err)
	}
	return nil
}
