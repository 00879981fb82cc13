// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLiteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sentinel.db")
	db, err := OpenSQLite(path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE t (v TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO t (v) VALUES ('x')`)
	require.NoError(t, err)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM t`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	_, err := OpenSQLite("")
	assert.Error(t, err)
}

func TestOpenSQLiteMemory(t *testing.T) {
	db, err := OpenSQLiteMemory("storage_test_memory")
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`CREATE TABLE t (v TEXT)`)
	assert.NoError(t, err)
}

func TestOpenBadgerInMemory(t *testing.T) {
	db, err := OpenBadgerInMemory()
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("k"), []byte("v"))
	}))
	require.NoError(t, db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("k"))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		assert.Equal(t, "v", string(val))
		return err
	}))

	assert.NoError(t, BadgerGC(db, 0.5)(context.Background()))
}

func TestOpenBadgerPersistent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "badger")
	db, err := OpenBadger(DefaultBadgerConfig(dir))
	require.NoError(t, err)
	assert.NoError(t, BadgerGC(db, 0.5)(context.Background()))
	require.NoError(t, db.Close())

	_, err = OpenBadger(BadgerConfig{})
	assert.Error(t, err)
}
