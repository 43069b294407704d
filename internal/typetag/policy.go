package typetag

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy narrows the possible tags. A non-empty Include keeps only the listed
// tags; Exclude always removes.
type Policy struct {
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

// ParsePolicy decodes a YAML policy document.
func ParsePolicy(b []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("failed to parse type tag policy: %w", err)
	}
	return &p, nil
}

// LoadPolicy reads a policy file. An empty path yields an empty policy.
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		return &Policy{}, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read type tag policy %s: %w", path, err)
	}
	return ParsePolicy(b)
}

// Allows reports whether tag passes the policy.
func (p *Policy) Allows(tag string) bool {
	if p == nil {
		return true
	}
	for _, ex := range p.Exclude {
		if ex == tag {
			return false
		}
	}
	if len(p.Include) == 0 {
		return true
	}
	for _, in := range p.Include {
		if in == tag {
			return true
		}
	}
	return false
}
