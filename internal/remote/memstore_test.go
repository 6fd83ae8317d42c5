package remote

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/okamitimo233/NeriPlayer-sub001/internal/errors"
)

func TestMemStore_FetchMissing(t *testing.T) {
	m := NewMemStore()

	_, err := m.Fetch(context.Background(), "nope")
	assert.ErrorIs(t, err, apperrors.ErrRemoteNotFound)
}

func TestMemStore_CreateAndFetch(t *testing.T) {
	m := NewMemStore()

	token, err := m.Put(context.Background(), "a", []byte("hello"), "")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	obj, err := m.Fetch(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), obj.Content)
	assert.Equal(t, token, obj.Token)
}

func TestMemStore_CreateFailsWhenPresent(t *testing.T) {
	m := NewMemStore()

	_, err := m.Put(context.Background(), "a", []byte("one"), "")
	require.NoError(t, err)

	_, err = m.Put(context.Background(), "a", []byte("two"), "")
	assert.ErrorIs(t, err, apperrors.ErrTokenMismatch)
}

func TestMemStore_UpdateRequiresCurrentToken(t *testing.T) {
	m := NewMemStore()

	first, err := m.Put(context.Background(), "a", []byte("one"), "")
	require.NoError(t, err)

	second, err := m.Put(context.Background(), "a", []byte("two"), first)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	// The first token is now stale.
	_, err = m.Put(context.Background(), "a", []byte("three"), first)
	assert.ErrorIs(t, err, apperrors.ErrTokenMismatch)
}

func TestMemStore_UpdateMissingObject(t *testing.T) {
	m := NewMemStore()

	_, err := m.Put(context.Background(), "a", []byte("one"), "v1")
	assert.ErrorIs(t, err, apperrors.ErrTokenMismatch)
}

func TestMemStore_FetchReturnsCopy(t *testing.T) {
	m := NewMemStore()

	_, err := m.Put(context.Background(), "a", []byte("orig"), "")
	require.NoError(t, err)

	obj, err := m.Fetch(context.Background(), "a")
	require.NoError(t, err)
	obj.Content[0] = 'X'

	again, err := m.Fetch(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("orig"), again.Content)
}
