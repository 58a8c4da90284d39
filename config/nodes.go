package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type bootnodeEntry struct {
	Multiaddr string `yaml:"multiaddr"`
}

// LoadBootnodes reads a nodes.yaml file listing peer multiaddrs, either as
// plain strings or as {multiaddr: ...} entries.
func LoadBootnodes(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read nodes: %w", err)
	}

	var entries []bootnodeEntry
	if err := yaml.Unmarshal(data, &entries); err == nil {
		var out []string
		for _, e := range entries {
			if e.Multiaddr != "" {
				out = append(out, e.Multiaddr)
			}
		}
		if len(out) > 0 {
			return out, nil
		}
	}

	var addrs []string
	if err := yaml.Unmarshal(data, &addrs); err != nil {
		return nil, fmt.Errorf("parse nodes: %w", err)
	}
	return addrs, nil
}
