package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateStoreMissingFileIsEmpty(t *testing.T) {
	store := NewStateStore(t.TempDir())

	state, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, state.LastArtifact)

	last, err := store.RestoreLastArtifact()
	require.NoError(t, err)
	assert.Empty(t, last)
}

func TestStateStoreSaveAndRestore(t *testing.T) {
	dir := t.TempDir()
	artifact := filepath.Join(dir, "20200506T000000.000000000Z.wav")
	require.NoError(t, os.WriteFile(artifact, []byte("RIFF"), 0644))

	store := NewStateStore(filepath.Join(dir, "nested"))
	require.NoError(t, store.SaveLastArtifact(artifact))

	state, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, artifact, state.LastArtifact)
	assert.NotEmpty(t, state.UpdatedAt)

	last, err := NewStateStore(filepath.Join(dir, "nested")).RestoreLastArtifact()
	require.NoError(t, err)
	assert.Equal(t, artifact, last)
}

func TestStateStoreIgnoresDeletedArtifact(t *testing.T) {
	dir := t.TempDir()
	store := NewStateStore(dir)
	require.NoError(t, store.SaveLastArtifact(filepath.Join(dir, "gone.wav")))

	last, err := store.RestoreLastArtifact()
	require.NoError(t, err)
	assert.Empty(t, last)
}

func TestStateStoreRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, StateFileName), []byte("last_artifact: [unterminated"), 0644))

	_, err := NewStateStore(dir).Load()
	assert.ErrorContains(t, err, "failed to parse state file")
}
