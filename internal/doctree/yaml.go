package doctree

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// EncodeYAML renders value in block style with two-space indentation.
// Multi-line strings become literal blocks and strings that would read back
// as another type are quoted.
func EncodeYAML(value any) ([]byte, error) {
	node, err := toNode(value)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(node); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeYAML parses a single YAML document. Mapping order is kept, aliases
// are resolved and JSON-compatible numbers come back as json.Number.
func DecodeYAML(data []byte) (any, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return fromNode(&doc)
}

// Scalar is a YAML number whose spelling has no JSON form, such as 0x1F,
// 0o17, 1_000 or .inf. It encodes back with its original text and tag and
// travels through JSON as a string.
type Scalar struct {
	Tag  string
	Text string
}

func (s Scalar) String() string {
	return s.Text
}

func (s Scalar) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Text)
}

func (m *Map) MarshalYAML() (any, error) {
	return toNode(m)
}

func (m *Map) UnmarshalYAML(node *yaml.Node) error {
	value, err := fromNode(node)
	if err != nil {
		return err
	}
	decoded, ok := value.(*Map)
	if !ok {
		return fmt.Errorf("decode yaml: expected mapping, got %T", value)
	}
	*m = *decoded
	return nil
}

func toNode(value any) (*yaml.Node, error) {
	switch v := value.(type) {
	case nil:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}, nil
	case *Map:
		node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, key := range v.Keys() {
			child, err := toNode(v.values[key])
			if err != nil {
				return nil, fmt.Errorf("encode %q: %w", key, err)
			}
			node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, child)
		}
		return node, nil
	case []any:
		node := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for i, item := range v {
			child, err := toNode(item)
			if err != nil {
				return nil, fmt.Errorf("encode item %d: %w", i, err)
			}
			node.Content = append(node.Content, child)
		}
		return node, nil
	case []string:
		node := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range v {
			node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: item})
		}
		return node, nil
	case string:
		node := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
		if strings.Contains(v, "\n") {
			node.Style = yaml.LiteralStyle
		}
		return node, nil
	case json.Number:
		tag := "!!int"
		if strings.ContainsAny(string(v), ".eE") {
			tag = "!!float"
		}
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: string(v)}, nil
	case Scalar:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: v.Tag, Value: v.Text}, nil
	default:
		var node yaml.Node
		if err := node.Encode(v); err != nil {
			return nil, fmt.Errorf("encode %T: %w", v, err)
		}
		return &node, nil
	}
}

func fromNode(node *yaml.Node) (any, error) {
	switch node.Kind {
	case 0:
		return nil, nil
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			return nil, nil
		}
		return fromNode(node.Content[0])
	case yaml.AliasNode:
		return fromNode(node.Alias)
	case yaml.MappingNode:
		m := NewMap()
		for i := 0; i+1 < len(node.Content); i += 2 {
			keyNode, valueNode := node.Content[i], node.Content[i+1]
			if keyNode.Kind == yaml.AliasNode {
				keyNode = keyNode.Alias
			}
			if keyNode.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("decode yaml: line %d: mapping key must be a scalar", keyNode.Line)
			}
			value, err := fromNode(valueNode)
			if err != nil {
				return nil, err
			}
			if keyNode.ShortTag() == "!!merge" {
				mergeInto(m, value)
				continue
			}
			m.Set(keyNode.Value, value)
		}
		return m, nil
	case yaml.SequenceNode:
		items := make([]any, 0, len(node.Content))
		for _, child := range node.Content {
			value, err := fromNode(child)
			if err != nil {
				return nil, err
			}
			items = append(items, value)
		}
		return items, nil
	case yaml.ScalarNode:
		switch tag := node.ShortTag(); tag {
		case "!!int", "!!float":
			if json.Valid([]byte(node.Value)) {
				return json.Number(node.Value), nil
			}
			return Scalar{Tag: tag, Text: node.Value}, nil
		case "!!timestamp":
			return node.Value, nil
		}
		var value any
		if err := node.Decode(&value); err != nil {
			return nil, fmt.Errorf("decode yaml: line %d: %w", node.Line, err)
		}
		return value, nil
	default:
		return nil, fmt.Errorf("decode yaml: unsupported node kind %d", node.Kind)
	}
}

// mergeInto applies a "<<" merge. Keys already present win.
func mergeInto(dst *Map, value any) {
	switch v := value.(type) {
	case *Map:
		for _, key := range v.Keys() {
			if !dst.Has(key) {
				dst.Set(key, v.values[key])
			}
		}
	case []any:
		for _, item := range v {
			mergeInto(dst, item)
		}
	}
}
