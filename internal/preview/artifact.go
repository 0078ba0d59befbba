package preview

import (
	"errors"
	"fmt"
	"os"
)

// ArtifactSuffix is appended to the template's filesystem path to derive the
// graph artifact path. The server writes the artifact before announcing
// previewIsAvailable; the client only reads and deletes it.
const ArtifactSuffix = ".dot"

// ErrArtifactMissing indicates the server announced a preview but the graph
// artifact is not on disk. Usually means the installed linter is too old to
// support previews.
var ErrArtifactMissing = errors.New("preview artifact not found")

// ArtifactPath derives the artifact path from a template's filesystem path.
func ArtifactPath(docPath string) string {
	return docPath + ArtifactSuffix
}

// ReadArtifact reads the graph description for a template.
func ReadArtifact(docPath string) (string, error) {
	data, err := os.ReadFile(ArtifactPath(docPath))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrArtifactMissing, ArtifactPath(docPath))
		}
		return "", fmt.Errorf("reading preview artifact: %w", err)
	}
	return string(data), nil
}

// RemoveArtifact deletes the artifact for a template. Missing files are not
// an error; the artifact may already be gone.
func RemoveArtifact(docPath string) error {
	if err := os.Remove(ArtifactPath(docPath)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing preview artifact: %w", err)
	}
	return nil
}
