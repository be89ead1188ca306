package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemDBRoundTrip(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	require.NoError(t, db.Put([]byte("sale/1"), []byte("one")))

	value, err := db.Get([]byte("sale/1"))
	require.NoError(t, err)
	require.Equal(t, []byte("one"), value)

	ok, err := db.Has([]byte("sale/1"))
	require.NoError(t, err)
	require.True(t, ok)

	_, err = db.Get([]byte("sale/2"))
	require.ErrorIs(t, err, ErrKeyNotFound)

	ok, err = db.Has([]byte("sale/2"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemDBIteratePrefix(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	require.NoError(t, db.Put([]byte("sale/b"), []byte("2")))
	require.NoError(t, db.Put([]byte("sale/a"), []byte("1")))
	require.NoError(t, db.Put([]byte("other/x"), []byte("3")))

	var keys []string
	err := db.Iterate([]byte("sale/"), func(key, value []byte) error {
		keys = append(keys, string(key))
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"sale/a", "sale/b"}, keys)
}

func TestLevelDBRoundTrip(t *testing.T) {
	db, err := NewLevelDB(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put([]byte("sale/a"), []byte("1")))
	require.NoError(t, db.Put([]byte("sale/b"), []byte("2")))

	value, err := db.Get([]byte("sale/a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), value)

	_, err = db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrKeyNotFound)

	var keys []string
	err = db.Iterate([]byte("sale/"), func(key, value []byte) error {
		keys = append(keys, string(key))
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"sale/a", "sale/b"}, keys)
}
