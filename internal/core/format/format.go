// SPDX-License-Identifier: Apache-2.0

package format

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseFile reads and parses a file, trying YAML first, then JSON
func ParseFile(filePath string, v interface{}) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("error reading file: %w", err)
	}

	return ParseData(data, v)
}

// ParseData parses data, trying YAML first, then JSON
func ParseData(data []byte, v interface{}) error {
	// Try YAML first (preferred format)
	err := yaml.Unmarshal(data, v)
	if err == nil {
		return nil
	}

	// If YAML fails, try JSON for backward compatibility
	jsonErr := json.Unmarshal(data, v)
	if jsonErr == nil {
		return nil
	}

	// Both failed - return the more informative error
	return fmt.Errorf("failed to parse as YAML (%v) or JSON (%v)", err, jsonErr)
}

// Marshal renders v in the format implied by the file extension: JSON for
// .json, YAML for everything else.
func Marshal(filePath string, v interface{}) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(filePath))

	var data []byte
	var err error

	switch ext {
	case ".json":
		data, err = json.MarshalIndent(v, "", "  ")
	default:
		data, err = yaml.Marshal(v)
	}

	if err != nil {
		return nil, fmt.Errorf("error marshaling data: %w", err)
	}
	return data, nil
}

// WriteFile writes data to a file in the format implied by its extension
func WriteFile(filePath string, v interface{}) error {
	data, err := Marshal(filePath, v)
	if err != nil {
		return err
	}

	return os.WriteFile(filePath, data, 0644)
}

// WriteFileAtomic writes data to a temp file in the target directory, syncs
// it, and renames it over the destination. Readers never observe a partially
// written result or rollback file.
func WriteFileAtomic(filePath string, v interface{}) error {
	data, err := Marshal(filePath, v)
	if err != nil {
		return err
	}

	dir := filepath.Dir(filePath)
	tmp, err := os.CreateTemp(dir, ".adgate-tmp-*")
	if err != nil {
		return fmt.Errorf("error creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("error writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("error syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("error closing temp file: %w", err)
	}

	if err := os.Rename(tmpName, filePath); err != nil {
		return fmt.Errorf("error renaming temp file: %w", err)
	}
	return nil
}

// FormatData formats data as YAML or JSON string
func FormatData(v interface{}, useYAML bool) (string, error) {
	var data []byte
	var err error

	if useYAML {
		data, err = yaml.Marshal(v)
	} else {
		data, err = json.MarshalIndent(v, "", "  ")
	}

	if err != nil {
		return "", fmt.Errorf("error formatting data: %w", err)
	}

	return string(data), nil
}
