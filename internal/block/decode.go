package block

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"pipemate/api/internal/doctree"
)

// Skipped records an input element that was not turned into a block.
type Skipped struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// ShapeError reports a block whose fields cannot be read at all.
type ShapeError struct {
	Index int
	Field string
	Got   string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("block %d: %s must be an object, got %s", e.Index, e.Field, e.Got)
}

// DecodeList parses a JSON array of editor blocks.
//
// Elements without a known type that are not bare action invocations are
// skipped and reported. A config that is present but not an object fails the
// whole list with a *ShapeError.
func DecodeList(data []byte) ([]Block, []Skipped, error) {
	value, err := doctree.DecodeJSON(data)
	if err != nil {
		return nil, nil, err
	}
	items, ok := value.([]any)
	if !ok {
		return nil, nil, fmt.Errorf("decode blocks: expected array, got %s", describe(value))
	}
	return FromTree(items)
}

// FromTree converts already parsed block elements.
func FromTree(items []any) ([]Block, []Skipped, error) {
	blocks := make([]Block, 0, len(items))
	var skipped []Skipped
	skip := func(index int, reason string) {
		skipped = append(skipped, Skipped{Index: index, Reason: reason})
		log.Warn().Int("index", index).Str("reason", reason).Msg("block ignored")
	}

	for i, item := range items {
		m, ok := item.(*doctree.Map)
		if !ok {
			skip(i, "not an object")
			continue
		}

		typeValue, hasType := m.Get("type")
		if !hasType || typeValue == nil {
			if m.Has("uses") && m.Has("with") {
				blocks = append(blocks, Action{
					Name: text(m, "name"),
					Uses: text(m, "uses"),
					With: doctree.Clone(mustGet(m, "with")),
				})
				continue
			}
			skip(i, "block has no type")
			continue
		}

		config, err := configOf(i, m)
		if err != nil {
			return nil, nil, err
		}

		switch Kind(text(m, "type")) {
		case KindTrigger:
			blocks = append(blocks, Trigger{
				Name:        text(m, "name"),
				Description: text(m, "description"),
				Config:      config,
			})
		case KindJob:
			blocks = append(blocks, Job{
				Name:        text(m, "name"),
				Description: text(m, "description"),
				JobName:     ResolveJobName(text(m, "job-name")),
				Config:      config,
			})
		case KindStep:
			task, _ := m.Get("task")
			blocks = append(blocks, Step{
				Name:        text(m, "name"),
				Description: text(m, "description"),
				JobName:     ResolveJobName(text(m, "job-name")),
				Domain:      text(m, "domain"),
				Task:        doctree.Strings(task),
				Config:      config,
			})
		default:
			skip(i, fmt.Sprintf("unknown block type %q", text(m, "type")))
		}
	}
	return blocks, skipped, nil
}

func configOf(index int, m *doctree.Map) (*doctree.Map, error) {
	value, ok := m.Get("config")
	if !ok || value == nil {
		return doctree.NewMap(), nil
	}
	config, ok := value.(*doctree.Map)
	if !ok {
		return nil, &ShapeError{Index: index, Field: "config", Got: describe(value)}
	}
	return config.Clone(), nil
}

func text(m *doctree.Map, key string) string {
	value, _ := m.Get(key)
	return doctree.Text(value)
}

func mustGet(m *doctree.Map, key string) any {
	value, _ := m.Get(key)
	return value
}

func describe(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case *doctree.Map:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "boolean"
	default:
		return fmt.Sprintf("%T", value)
	}
}
