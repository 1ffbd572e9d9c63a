package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SourcesFile is an optional sources.yml kept beside config.yml.
type SourcesFile struct {
	Sources []Source `yaml:"sources"`
}

// OverlaySources merges sources from sourcesPath into cfg. Entries replace
// config sources with the same name; new names are appended.
func OverlaySources(cfg *Config, sourcesPath string) error {
	b, err := os.ReadFile(sourcesPath)
	if err != nil {
		// Missing sources file should not kill startup
		return nil
	}

	var sf SourcesFile
	if err := yaml.Unmarshal(b, &sf); err != nil {
		return err
	}

	idx := map[string]int{}
	for i, s := range cfg.Sources {
		idx[strings.ToLower(strings.TrimSpace(s.Name))] = i
	}
	for _, s := range sf.Sources {
		key := strings.ToLower(strings.TrimSpace(s.Name))
		if i, ok := idx[key]; ok {
			cfg.Sources[i] = s
			continue
		}
		idx[key] = len(cfg.Sources)
		cfg.Sources = append(cfg.Sources, s)
	}
	return nil
}
