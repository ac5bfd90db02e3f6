// Package manifest loads curated scan item lists from YAML files.
package manifest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/minhvn/holescan/internal/models"
)

// File is the on-disk manifest layout.
type File struct {
	Items []models.WorkItem `yaml:"items"`
}

// Load reads and validates a manifest file. Every item needs a ref and a
// payload; refs must be unique because they key result records.
func Load(path string) ([]models.WorkItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}

	seen := make(map[string]struct{}, len(f.Items))
	for i, item := range f.Items {
		if item.Ref == "" {
			return nil, fmt.Errorf("manifest %s: item %d has no ref", path, i)
		}
		if item.Payload == "" {
			return nil, fmt.Errorf("manifest %s: item %q has no payload", path, item.Ref)
		}
		if _, dup := seen[item.Ref]; dup {
			return nil, fmt.Errorf("manifest %s: duplicate ref %q", path, item.Ref)
		}
		seen[item.Ref] = struct{}{}
	}
	return f.Items, nil
}
