package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nugget/toolchat/examples"
)

// runInit prepares a working directory: a data directory and a
// config.yaml copied from the bundled example. Existing files are never
// overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing toolchat workspace in %s\n", dir)

	dataDir := filepath.Join(dir, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dataDir, err)
	}

	// The config may hold API keys.
	if err := writeIfMissing(w, filepath.Join(dir, "config.yaml"), examples.ConfigYAML, 0o600); err != nil {
		return err
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Set OPENAI_API_KEY (or edit config.yaml) and run: toolchat serve")
	return nil
}

// writeIfMissing creates path with content and mode unless it already
// exists, reporting the outcome to w.
func writeIfMissing(w io.Writer, path string, content []byte, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		if os.IsExist(err) {
			fmt.Fprintf(w, "  · %s (exists, skipping)\n", path)
			return nil
		}
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	fmt.Fprintf(w, "  ✓ %s\n", path)
	return nil
}
