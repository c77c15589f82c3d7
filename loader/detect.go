package loader

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// isYAML returns true if the file path has a YAML extension.
func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// toJSON converts data to JSON bytes, handling YAML conversion if the path
// indicates a YAML file.
func toJSON(data []byte, path string) ([]byte, error) {
	if isYAML(path) {
		return yamlToJSON(data)
	}
	return data, nil
}

// yamlToJSON converts raw bytes from YAML to JSON. The conversion goes
// through yaml.Node rather than map[string]any so that mapping order is
// preserved: the scope codec evaluates calculations in document order.
func yamlToJSON(data []byte) ([]byte, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	if root.Kind == 0 {
		return nil, fmt.Errorf("parsing YAML: empty document")
	}
	value, err := yamlNodeToValue(&root)
	if err != nil {
		return nil, err
	}
	return json.Marshal(value)
}

// yamlNodeToValue converts a yaml.Node tree to JSON-compatible values. The
// node API is used instead of plain Unmarshal so that mapping order can be
// preserved via orderedMap below.
func yamlNodeToValue(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, fmt.Errorf("parsing YAML: empty document")
		}
		return yamlNodeToValue(n.Content[0])

	case yaml.MappingNode:
		m := orderedMap{}
		for i := 0; i+1 < len(n.Content); i += 2 {
			var key string
			if err := n.Content[i].Decode(&key); err != nil {
				return nil, fmt.Errorf("parsing YAML: mapping key: %w", err)
			}
			value, err := yamlNodeToValue(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			m = append(m, orderedEntry{key: key, value: value})
		}
		return m, nil

	case yaml.SequenceNode:
		out := make([]any, len(n.Content))
		for i, child := range n.Content {
			value, err := yamlNodeToValue(child)
			if err != nil {
				return nil, err
			}
			out[i] = value
		}
		return out, nil

	case yaml.ScalarNode:
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("parsing YAML: %w", err)
		}
		return v, nil

	case yaml.AliasNode:
		return yamlNodeToValue(n.Alias)
	}
	return nil, fmt.Errorf("parsing YAML: unsupported node kind %d", n.Kind)
}

type orderedEntry struct {
	key   string
	value any
}

// orderedMap marshals as a JSON object preserving entry order, so that YAML
// mapping order survives the YAML-to-JSON conversion the way document order
// survives JSON decoding.
type orderedMap []orderedEntry

func (m orderedMap) MarshalJSON() ([]byte, error) {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, entry := range m {
		if i > 0 {
			sb.WriteByte(',')
		}
		key, err := json.Marshal(entry.key)
		if err != nil {
			return nil, err
		}
		sb.Write(key)
		sb.WriteByte(':')
		value, err := json.Marshal(entry.value)
		if err != nil {
			return nil, err
		}
		sb.Write(value)
	}
	sb.WriteByte('}')
	return []byte(sb.String()), nil
}
