package leveldb

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"go.dedis.ch/dolr/storage"
)

func TestStore_GetPutDelete(t *testing.T) {
	s, err := Open(t.TempDir(), 0, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Get("a")
	require.True(t, storage.IsNotFound(err))

	require.NoError(t, s.Put("a", []byte("1")))
	require.True(t, s.Has("a"))

	val, err := s.Get("a")
	require.NoError(t, err)
	require.Equal(t, []byte("1"), val)

	require.NoError(t, s.Delete("a"))
	require.NoError(t, s.Delete("a"))
	require.False(t, s.Has("a"))
	require.Equal(t, 0, s.Len())
}

func TestStore_Capacity(t *testing.T) {
	s, err := Open(t.TempDir(), 4, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put("a", []byte("123")))
	require.ErrorIs(t, s.Put("b", []byte("12")), storage.ErrNoSpace)
	require.NoError(t, s.Put("a", []byte("1234")))
	require.Equal(t, 4, s.Used())
}

// the key set and the accounting survive a restart
func TestStore_Reopen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir, 0, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, s.Put("b", []byte("22")))
	require.NoError(t, s.Put("a", []byte("1")))
	require.NoError(t, s.Close())

	s, err = Open(dir, 0, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	keys, err := s.Keys()
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, keys)
	require.Equal(t, 3, s.Used())
}
