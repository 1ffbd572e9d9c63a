package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SaveAtomic validates cfg, then writes it next to path and renames it into
// place, keeping the previous file as path.bak.
func SaveAtomic(path string, cfg Config) error {
	norm, res := NormalizeAndValidate(cfg)
	if !res.OK() {
		return res
	}

	b, err := yaml.Marshal(&norm)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	bak := path + ".bak"

	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}

	_ = os.Remove(bak)
	_ = os.Rename(path, bak)

	return os.Rename(tmp, path)
}
