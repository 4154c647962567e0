package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageRoundTrip(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.GetItem("students")
	assert.ErrorIs(t, err, ErrItemNotFound)

	require.NoError(t, store.SetItem("students", []byte(`[{"id":"1"}]`)))
	data, err := store.GetItem("students")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"1"}]`, string(data))

	require.NoError(t, store.SetItem("students", []byte(`[]`)))
	data, err = store.GetItem("students")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))

	require.NoError(t, store.RemoveItem("students"))
	require.NoError(t, store.RemoveItem("students"))
	_, err = store.GetItem("students")
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestLocalStorageRejectsPathKeys(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	assert.Error(t, store.SetItem("../escape", []byte("x")))
	assert.Error(t, store.SetItem("", []byte("x")))
	_, err = store.GetItem("a/b")
	assert.Error(t, err)
}
