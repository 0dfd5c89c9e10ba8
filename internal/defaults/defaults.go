// SPDX-License-Identifier: Apache-2.0

// Package defaults materializes a starter adgate workspace: a conservative
// policy file with every write gate closed, and an example run document.
package defaults

import (
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

//go:embed policy.yaml runs/*
var embeddedFiles embed.FS

// DefaultsConfig stores configuration for where to fetch starter files.
type DefaultsConfig struct {
	// Base URL for remote starter files
	DefaultsURL string `json:"defaults_url"`

	// Whether to attempt to fetch remote starter files
	UseRemote bool `json:"use_remote"`

	// Timeout for remote fetch operations in seconds
	Timeout int `json:"timeout"`
}

// NewDefaultsConfig creates a default configuration.
func NewDefaultsConfig() DefaultsConfig {
	return DefaultsConfig{
		DefaultsURL: "https://raw.githubusercontent.com/liyecom/adgate-defaults/main",
		UseRemote:   true,
		Timeout:     5,
	}
}

// Manager manages access to the starter files.
type Manager struct {
	config DefaultsConfig
}

// NewManager creates a new defaults manager.
func NewManager(config DefaultsConfig) *Manager {
	return &Manager{
		config: config,
	}
}

// WriteStarter materializes the starter workspace under targetDir. Remote
// starter files are preferred when enabled so a fleet can share one policy
// baseline; the embedded copies are the fallback. Existing files are never
// overwritten, so re-running init keeps local edits.
func (m *Manager) WriteStarter(targetDir string, useRemote bool) (bool, error) {
	usedRemote := false

	if useRemote && m.config.UseRemote {
		fmt.Println("Attempting to fetch latest starter files from remote...")

		remoteSuccess, err := m.writeRemote(targetDir)
		if err != nil {
			fmt.Printf("Warning: Failed to fetch remote starter files: %v\n", err)
			fmt.Println("Falling back to embedded starter files...")
		} else if remoteSuccess {
			fmt.Println("Successfully fetched remote starter files.")
			usedRemote = true
		}
	}

	if !usedRemote {
		fmt.Println("Using embedded starter files...")
		if err := m.writeEmbedded(targetDir); err != nil {
			return false, fmt.Errorf("error writing embedded starter files: %w", err)
		}
	}

	return usedRemote, nil
}

// writeEmbedded copies every embedded starter file under targetDir, keeping
// the embedded directory layout.
func (m *Manager) writeEmbedded(targetDir string) error {
	return fs.WalkDir(embeddedFiles, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		return m.writeEmbeddedFile(path, filepath.Join(targetDir, filepath.FromSlash(path)))
	})
}

// writeEmbeddedFile copies a single embedded file, skipping files that exist.
func (m *Manager) writeEmbeddedFile(srcPath, dstPath string) error {
	if _, err := os.Stat(dstPath); err == nil {
		fmt.Printf("Keeping existing %s\n", dstPath)
		return nil
	}

	src, err := embeddedFiles.Open(srcPath)
	if err != nil {
		return fmt.Errorf("error opening embedded file %s: %w", srcPath, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return fmt.Errorf("error creating directory for %s: %w", dstPath, err)
	}

	dst, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("error creating file %s: %w", dstPath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("error copying file content: %w", err)
	}

	return nil
}

// writeRemote fetches the starter manifest and downloads each listed file
// into targetDir at its manifest-relative path.
func (m *Manager) writeRemote(targetDir string) (bool, error) {
	client := &http.Client{
		Timeout: time.Duration(m.config.Timeout) * time.Second,
	}

	manifestURL := fmt.Sprintf("%s/manifest.json", m.config.DefaultsURL)
	resp, err := client.Get(manifestURL)
	if err != nil {
		return false, fmt.Errorf("error fetching manifest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("manifest not found, status: %d", resp.StatusCode)
	}

	var manifest struct {
		Files []string `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&manifest); err != nil {
		return false, fmt.Errorf("error decoding manifest: %w", err)
	}

	for _, file := range manifest.Files {
		// Manifest paths must stay inside the target directory.
		if filepath.IsAbs(file) || strings.Contains(file, "..") {
			return false, fmt.Errorf("manifest path %q escapes the target directory", file)
		}

		dstPath := filepath.Join(targetDir, filepath.FromSlash(file))
		if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
			return false, fmt.Errorf("error creating directory for %s: %w", dstPath, err)
		}

		fileURL := fmt.Sprintf("%s/%s", m.config.DefaultsURL, file)
		if err := m.downloadFile(client, fileURL, dstPath); err != nil {
			return false, fmt.Errorf("error downloading %s: %w", file, err)
		}
	}

	return true, nil
}

// downloadFile downloads a file from a URL, skipping files that exist.
func (m *Manager) downloadFile(client *http.Client, url, dstPath string) error {
	if _, err := os.Stat(dstPath); err == nil {
		fmt.Printf("Keeping existing %s\n", dstPath)
		return nil
	}

	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("file not found, status: %d", resp.StatusCode)
	}

	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, resp.Body)
	return err
}

// ListEmbeddedFiles returns every embedded starter file path.
func (m *Manager) ListEmbeddedFiles() ([]string, error) {
	var files []string

	err := fs.WalkDir(embeddedFiles, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error walking embedded files: %w", err)
	}

	return files, nil
}
