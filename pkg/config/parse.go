package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseValues parses a value typed at a prompt. The text is read as a YAML
// flow node, so "[1, 2, 3]" yields a list, "0.5" a float and bare words a
// string. Nested lists and mappings are rejected.
func ParseValues(text string) (any, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty value")
	}

	var node yaml.Node
	if err := yaml.Unmarshal([]byte(text), &node); err != nil {
		return nil, fmt.Errorf("failed to parse value %q: %w", text, err)
	}
	if node.Kind != yaml.DocumentNode || len(node.Content) != 1 {
		return nil, fmt.Errorf("failed to parse value %q: expected a single node", text)
	}

	root := node.Content[0]
	switch root.Kind {
	case yaml.ScalarNode:
		return decodeScalar(root)
	case yaml.SequenceNode:
		out := make([]any, 0, len(root.Content))
		for _, item := range root.Content {
			if item.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("value %q: list items must be scalars", text)
			}
			v, err := decodeScalar(item)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("value %q: expected a scalar or a list", text)
	}
}

func decodeScalar(n *yaml.Node) (any, error) {
	var v any
	if err := n.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to decode %q: %w", n.Value, err)
	}
	if v == nil {
		return nil, fmt.Errorf("null is not a valid parameter value")
	}
	return v, nil
}
