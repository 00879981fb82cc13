// SPDX-License-Identifier: Apache-2.0

package correlation

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const (
	correlationPrefix = "correlation/"
	recoveryPrefix    = "recovery/"
	orderPrefix       = "order/correlation/"
	seqKey            = "meta/correlation/seq"
	countKey          = "meta/correlation/count"
)

// BadgerStore persists correlations as JSON in BadgerDB under
// correlation/<id>; recovery attempts live under recovery/<id>/<n>.
// An insertion index under order/correlation/<seq> keeps the oldest entry
// at the first key, and a counter under meta/ answers Len without a scan.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore wraps an open BadgerDB. The caller owns db.
func NewBadgerStore(db *badger.DB) (*BadgerStore, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	return &BadgerStore{db: db}, nil
}

func correlationKey(id string) []byte {
	return []byte(correlationPrefix + id)
}

func recoveryKeyPrefix(id string) []byte {
	return []byte(recoveryPrefix + id + "/")
}

func orderKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", orderPrefix, seq))
}

func getCorrelation(txn *badger.Txn, id string) (*Correlation, error) {
	item, err := txn.Get(correlationKey(id))
	if err != nil {
		return nil, err
	}
	var c Correlation
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &c)
	}); err != nil {
		return nil, err
	}
	return &c, nil
}

func getCounter(txn *badger.Txn, key string) (uint64, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var n uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("counter %s: bad length %d", key, len(val))
		}
		n = binary.BigEndian.Uint64(val)
		return nil
	})
	return n, err
}

func setCounter(txn *badger.Txn, key string, n uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	return txn.Set([]byte(key), buf[:])
}

func (s *BadgerStore) Get(_ context.Context, id string) (*Correlation, bool, error) {
	var c *Correlation
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		c, err = getCorrelation(txn, id)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get correlation %s: %w", id, err)
	}
	return c, true, nil
}

func (s *BadgerStore) Put(_ context.Context, c *Correlation) error {
	stored := *c
	err := s.db.Update(func(txn *badger.Txn) error {
		prev, err := getCorrelation(txn, c.ID)
		switch {
		case err == nil:
			stored.Seq = prev.Seq
		case errors.Is(err, badger.ErrKeyNotFound):
			seq, err := getCounter(txn, seqKey)
			if err != nil {
				return err
			}
			count, err := getCounter(txn, countKey)
			if err != nil {
				return err
			}
			stored.Seq = seq + 1
			if err := setCounter(txn, seqKey, stored.Seq); err != nil {
				return err
			}
			if err := setCounter(txn, countKey, count+1); err != nil {
				return err
			}
			if err := txn.Set(orderKey(stored.Seq), []byte(c.ID)); err != nil {
				return err
			}
		default:
			return err
		}
		data, err := json.Marshal(&stored)
		if err != nil {
			return err
		}
		return txn.Set(correlationKey(c.ID), data)
	})
	if err != nil {
		return fmt.Errorf("put correlation %s: %w", c.ID, err)
	}
	return nil
}

func (s *BadgerStore) Delete(_ context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		prev, err := getCorrelation(txn, id)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		count, err := getCounter(txn, countKey)
		if err != nil {
			return err
		}
		if count > 0 {
			if err := setCounter(txn, countKey, count-1); err != nil {
				return err
			}
		}
		if err := txn.Delete(orderKey(prev.Seq)); err != nil {
			return err
		}
		if err := txn.Delete(correlationKey(id)); err != nil {
			return err
		}
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := recoveryKeyPrefix(id)
		it := txn.NewIterator(opts)
		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) Len(context.Context) (int, error) {
	var n uint64
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		n, err = getCounter(txn, countKey)
		return err
	})
	return int(n), err
}

func (s *BadgerStore) Oldest(context.Context) (string, bool, error) {
	var id string
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(orderPrefix)
		it.Seek(prefix)
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		return it.Item().Value(func(val []byte) error {
			id = string(val)
			return nil
		})
	})
	if err != nil {
		return "", false, fmt.Errorf("oldest correlation: %w", err)
	}
	return id, id != "", nil
}

func (s *BadgerStore) List(context.Context) ([]*Correlation, error) {
	var out []*Correlation
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(orderPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var id string
			if err := it.Item().Value(func(val []byte) error {
				id = string(val)
				return nil
			}); err != nil {
				return err
			}
			c, err := getCorrelation(txn, id)
			if err != nil {
				return err
			}
			out = append(out, c)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list correlations: %w", err)
	}
	return out, nil
}

func (s *BadgerStore) AddRecovery(_ context.Context, attempt RecoveryAttempt) error {
	data, err := json.Marshal(attempt)
	if err != nil {
		return err
	}
	// Timestamp-prefixed keys keep attempts in insertion order under iteration.
	key := fmt.Sprintf("%s%s/%020d-%s", recoveryPrefix, attempt.CorrelationID, attempt.Timestamp.UnixNano(), uuid.NewString())
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

func (s *BadgerStore) Recoveries(_ context.Context, id string) ([]RecoveryAttempt, error) {
	var out []RecoveryAttempt
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := recoveryKeyPrefix(id)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var a RecoveryAttempt
				if err := json.Unmarshal(val, &a); err != nil {
					return err
				}
				out = append(out, a)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}
