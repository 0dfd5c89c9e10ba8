// SPDX-License-Identifier: Apache-2.0

// Package receipt appends one JSON line per execution attempt to the audit
// stream. The stream is append-only by contract; nothing in the pipeline
// rewrites or truncates it.
package receipt

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/liyecom/liye-ai-sub006/internal/core/models"
)

// Logger serializes appends to one receipt file.
type Logger struct {
	mu   sync.Mutex
	path string
}

// NewLogger creates a logger for the given path. The file and its directory
// are created on first append.
func NewLogger(path string) *Logger {
	return &Logger{path: path}
}

// Path returns the receipt file location.
func (l *Logger) Path() string {
	return l.path
}

// Append writes one receipt line. The file is opened in append mode for
// every write so separate processes on the same path interleave whole lines.
func (l *Logger) Append(rec models.Receipt) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("error encoding receipt: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("error creating receipt directory: %w", err)
		}
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("error opening receipt file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("error appending receipt: %w", err)
	}
	return nil
}
