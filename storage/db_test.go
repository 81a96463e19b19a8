package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()

	_, err := db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.Put([]byte("alpha"), []byte("1")))
	value, err := db.Get([]byte("alpha"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), value)

	batch := db.NewBatch()
	batch.Put([]byte("beta"), []byte("2"))
	batch.Put([]byte("gamma"), []byte("3"))
	batch.Delete([]byte("alpha"))
	require.Equal(t, 3, batch.Len())

	// Nothing is visible before Write.
	_, err = db.Get([]byte("beta"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, batch.Write())
	_, err = db.Get([]byte("alpha"))
	require.ErrorIs(t, err, ErrNotFound)
	value, err = db.Get([]byte("gamma"))
	require.NoError(t, err)
	require.Equal(t, []byte("3"), value)

	require.NoError(t, db.Delete([]byte("beta")))
	_, err = db.Get([]byte("beta"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	buf := []byte("mutable")
	require.NoError(t, db.Put([]byte("k"), buf))
	buf[0] = 'X'
	value, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("mutable"), value)
}

func TestLevelDB(t *testing.T) {
	db, err := NewLevelDB(filepath.Join(t.TempDir(), "ledger"))
	require.NoError(t, err)
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestBoltDB(t *testing.T) {
	db, err := NewBoltDB(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestBoltDBPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	db, err := NewBoltDB(path)
	require.NoError(t, err)
	batch := db.NewBatch()
	batch.Put([]byte("pool"), []byte("NGN"))
	require.NoError(t, batch.Write())
	db.Close()

	reopened, err := NewBoltDB(path)
	require.NoError(t, err)
	defer reopened.Close()
	value, err := reopened.Get([]byte("pool"))
	require.NoError(t, err)
	require.Equal(t, []byte("NGN"), value)
}
