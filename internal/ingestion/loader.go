package ingestion

import (
	"context"
	"fmt"
	"os"
)

// Loader reads the raw text of a source document.
type Loader interface {
	Load(ctx context.Context, path string) (string, error)
}

// FileLoader reads source documents from the local filesystem as UTF-8 text.
type FileLoader struct{}

// Load returns the file's contents.
func (FileLoader) Load(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("ingestion: read %s: %w", path, err)
	}
	return string(data), nil
}
