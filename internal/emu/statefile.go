package emu

import (
	"bytes"
	"encoding/gob"
	"os"
)

// saveGob writes v to path using the same gob encoding the rest of the
// core uses for in-memory save states, so on-disk state files round
// trip through the identical decoder.
func saveGob(path string, v any) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

func loadGob(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
