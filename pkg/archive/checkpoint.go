package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// MetadataFile is the checkpoint file colocated with the archive root.
const MetadataFile = ".metadata.json"

const lastSyncKey = "last_sync_date"

// LoadCheckpoint reads the last-synced timestamp from <dir>/.metadata.json.
// An absent file means a first run: it returns ok=false without error.
func LoadCheckpoint(dir string) (time.Time, bool, error) {
	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	if os.IsNotExist(err) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read metadata: %w", err)
	}

	meta, err := decodeMetadata(data)
	if err != nil {
		return time.Time{}, false, err
	}
	raw, ok := meta[lastSyncKey]
	if !ok {
		return time.Time{}, false, nil
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return time.Time{}, false, fmt.Errorf("metadata %s: %w", lastSyncKey, err)
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("metadata %s %q: %w", lastSyncKey, value, err)
	}
	return t, true, nil
}

// SaveCheckpoint writes the last-synced timestamp, preserving any other
// keys already present in the metadata file. The checkpoint only ever
// advances: a value older than the persisted one is ignored.
func SaveCheckpoint(dir string, t time.Time) error {
	path := filepath.Join(dir, MetadataFile)

	meta := map[string]json.RawMessage{}
	if data, err := os.ReadFile(path); err == nil {
		if meta, err = decodeMetadata(data); err != nil {
			return err
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read metadata: %w", err)
	}

	if existing, ok, _ := LoadCheckpoint(dir); ok && existing.After(t) {
		return nil
	}

	value, err := json.Marshal(t.Format(time.RFC3339))
	if err != nil {
		return err
	}
	meta[lastSyncKey] = value

	out, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

func decodeMetadata(data []byte) (map[string]json.RawMessage, error) {
	meta := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return meta, nil
}
