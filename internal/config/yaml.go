package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// yamlAsJSON re-encodes a YAML config as JSON, which then goes through the
// same strict decoder as a .json file. Aliases and "<<" merge keys are
// resolved; explicit keys win over merged ones.
func yamlAsJSON(raw []byte) ([]byte, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	if len(doc.Content) == 0 {
		return []byte("{}"), nil
	}
	v, err := yamlValue(doc.Content[0])
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func yamlValue(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.AliasNode:
		return yamlValue(n.Alias)
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, item := range n.Content {
			v, err := yamlValue(item)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.MappingNode:
		return yamlMapping(n)
	case yaml.ScalarNode:
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("yaml line %d: %w", n.Line, err)
		}
		return v, nil
	}
	return nil, fmt.Errorf("yaml line %d: unsupported node", n.Line)
}

func yamlMapping(n *yaml.Node) (map[string]any, error) {
	out := make(map[string]any, len(n.Content)/2)
	explicit := make(map[string]bool, len(n.Content)/2)
	var merged []map[string]any
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		if k.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("yaml line %d: config keys must be plain strings", k.Line)
		}
		if isMergeKey(k) {
			m, err := yamlMerge(v)
			if err != nil {
				return nil, err
			}
			merged = append(merged, m...)
			continue
		}
		val, err := yamlValue(v)
		if err != nil {
			return nil, err
		}
		out[k.Value] = val
		explicit[k.Value] = true
	}
	// Walk merge sources backwards so the first one listed wins.
	for i := len(merged) - 1; i >= 0; i-- {
		for k, v := range merged[i] {
			if !explicit[k] {
				out[k] = v
			}
		}
	}
	return out, nil
}

func yamlMerge(v *yaml.Node) ([]map[string]any, error) {
	if v.Kind == yaml.AliasNode {
		v = v.Alias
	}
	switch v.Kind {
	case yaml.MappingNode:
		m, err := yamlMapping(v)
		if err != nil {
			return nil, err
		}
		return []map[string]any{m}, nil
	case yaml.SequenceNode:
		var out []map[string]any
		for _, item := range v.Content {
			m, err := yamlMerge(item)
			if err != nil {
				return nil, err
			}
			out = append(out, m...)
		}
		return out, nil
	}
	return nil, fmt.Errorf("yaml line %d: << expects a mapping", v.Line)
}

func isMergeKey(k *yaml.Node) bool {
	return k.ShortTag() == "!!merge"
}
