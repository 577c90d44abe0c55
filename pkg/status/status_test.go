package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreSetAndGet(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Set(DocumentStatus{
		DocumentID: "d1",
		State:      StateExtracting,
		Progress:   25,
	}))

	got, err := s.Get("d1")
	require.NoError(t, err)
	assert.Equal(t, StateExtracting, got.State)
	assert.Equal(t, 25, got.Progress)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestStoreGetMissing(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreUpdate(t *testing.T) {
	s := openTestStore(t)

	// Update on an absent key starts from pending.
	require.NoError(t, s.Update("d1", func(st *DocumentStatus) {
		st.State = StateEmbedding
		st.Progress = 50
		st.Units = 12
	}))

	got, err := s.Get("d1")
	require.NoError(t, err)
	assert.Equal(t, StateEmbedding, got.State)
	assert.Equal(t, 12, got.Units)

	require.NoError(t, s.Update("d1", func(st *DocumentStatus) {
		st.State = StateCompleted
		st.Progress = 100
	}))

	got, err = s.Get("d1")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, got.State)
	// Earlier fields survive a partial update.
	assert.Equal(t, 12, got.Units)
}

func TestStoreListAndDelete(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Set(DocumentStatus{DocumentID: "d1", State: StateCompleted}))
	require.NoError(t, s.Set(DocumentStatus{DocumentID: "d2", State: StateFailed}))

	all, err := s.List()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.Delete("d1"))
	all, err = s.List()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "d2", all[0].DocumentID)
}
