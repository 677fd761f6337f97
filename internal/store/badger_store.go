package store

import (
	"fmt"
	"log/slog"

	"github.com/broadcomms/meeting-ledger/internal/logging"
	"github.com/dgraph-io/badger"
	"github.com/vmihailenco/msgpack/v5"
)

const meetingPrefix = "meeting/"

// BadgerStore persists meetings in a badger database, msgpack encoded.
type BadgerStore struct {
	db   *badger.DB
	path string
}

// NewBadgerStore opens an existing database or creates a new one in path.
func NewBadgerStore(path string, logger *slog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).
		WithSyncWrites(true).
		WithLogger(logging.BadgerLogger{Logger: logger})

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open meeting store %s: %w", path, err)
	}

	return &BadgerStore{db: handle, path: path}, nil
}

func meetingKey(id string) []byte {
	return []byte(meetingPrefix + id)
}

func (s *BadgerStore) Get(id string) (*Meeting, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(meetingKey(id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var m Meeting
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode meeting %s: %w", id, err)
	}
	return &m, nil
}

func (s *BadgerStore) Put(m *Meeting) error {
	if m.ID == "" || m.OrganizerID == "" {
		return ErrInvalidMeeting
	}

	data, err := msgpack.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode meeting %s: %w", m.ID, err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(meetingKey(m.ID), data)
	})
}

// List returns meetings in key order.
func (s *BadgerStore) List() ([]*Meeting, error) {
	var out []*Meeting
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(meetingPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			data, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var m Meeting
			if err := msgpack.Unmarshal(data, &m); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, &m)
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
