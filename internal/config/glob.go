package config

import (
	"os"
	"path/filepath"
)

// globTOML returns the *.toml files directly inside dir.
func globTOML(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if filepath.Ext(e.Name()) == ".toml" {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out, nil
}
