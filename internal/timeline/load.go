package timeline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Parse decodes a YAML or JSON timeline document and normalizes it.
func Parse(data []byte) (*Timeline, []Issue, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("failed to decode timeline: %w", err)
	}
	if doc == nil {
		return &Timeline{}, nil, nil
	}
	tl, issues := Normalize(doc)
	return tl, issues, nil
}

// LoadFile reads a timeline document from disk.
func LoadFile(path string) (*Timeline, []Issue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read timeline: %w", err)
	}
	return Parse(data)
}
