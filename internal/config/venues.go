package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type venueFile struct {
	Journals []string `yaml:"journals"`
}

// LoadVenues reads the journal allow-list offered to search clients.
// An empty path yields an empty list.
func LoadVenues(path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read venues file: %w", err)
	}
	var vf venueFile
	if err := yaml.Unmarshal(b, &vf); err != nil {
		return nil, fmt.Errorf("decode venues file: %w", err)
	}
	seen := map[string]struct{}{}
	out := make([]string, 0, len(vf.Journals))
	for _, j := range vf.Journals {
		j = strings.TrimSpace(j)
		if j == "" {
			continue
		}
		if _, ok := seen[j]; ok {
			continue
		}
		seen[j] = struct{}{}
		out = append(out, j)
	}
	sort.Strings(out)
	return out, nil
}
