package preview

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifactPath(t *testing.T) {
	assert.Equal(t, "/tmp/stack.yaml.dot", ArtifactPath("/tmp/stack.yaml"))
	assert.Equal(t, "/tmp/stack.json.dot", ArtifactPath("/tmp/stack.json"))
}

func TestReadArtifact(t *testing.T) {
	docPath := filepath.Join(t.TempDir(), "stack.yaml")
	require.NoError(t, os.WriteFile(ArtifactPath(docPath), []byte("digraph {}"), 0o644))

	dot, err := ReadArtifact(docPath)
	require.NoError(t, err)
	assert.Equal(t, "digraph {}", dot)
}

func TestReadArtifact_Missing(t *testing.T) {
	docPath := filepath.Join(t.TempDir(), "stack.yaml")

	_, err := ReadArtifact(docPath)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrArtifactMissing)
}

func TestRemoveArtifact(t *testing.T) {
	docPath := filepath.Join(t.TempDir(), "stack.yaml")
	require.NoError(t, os.WriteFile(ArtifactPath(docPath), []byte("digraph {}"), 0o644))

	require.NoError(t, RemoveArtifact(docPath))
	_, err := os.Stat(ArtifactPath(docPath))
	assert.True(t, os.IsNotExist(err))

	// Removing an absent artifact is not an error
	require.NoError(t, RemoveArtifact(docPath))
}
