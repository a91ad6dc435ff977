package docstore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"
)

// SaveDocuments writes a collection snapshot to path as zstd-compressed
// JSON. The service persists the last known contents on shutdown and
// warm-starts from the file, so clients see markers before the first store
// snapshot arrives after a restart.
func SaveDocuments(path string, docs []Document) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer file.Close()

	bufWriter := bufio.NewWriter(file)
	enc, err := zstd.NewWriter(bufWriter)
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}

	if err := json.NewEncoder(enc).Encode(docs); err != nil {
		enc.Close()
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finish snapshot: %w", err)
	}
	if err := bufWriter.Flush(); err != nil {
		return fmt.Errorf("failed to flush snapshot: %w", err)
	}
	return nil
}

// LoadDocuments reads a snapshot previously written by SaveDocuments.
func LoadDocuments(path string) ([]Document, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer file.Close()

	dec, err := zstd.NewReader(bufio.NewReader(file))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer dec.Close()

	var docs []Document
	if err := json.NewDecoder(dec).Decode(&docs); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return docs, nil
}
