// Package serialization reads and writes database dumps: the native snapshot
// format and the legacy moneydb format of the predecessor application.
package serialization

import (
	"encoding/json"
	"fmt"
	"io"

	"moneta/internal/storage"
)

// ReadNative parses a native snapshot dump.
func ReadNative(r io.Reader) (*storage.Snapshot, error) {
	var s storage.Snapshot
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("parse native dump: %w", err)
	}
	return &s, nil
}

// WriteNative serializes a snapshot as an indented JSON document.
func WriteNative(w io.Writer, s *storage.Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("write native dump: %w", err)
	}
	return nil
}
