package store

import (
	"encoding/json"
	"fmt"
	"time"

	"pipemate/api/internal/block"
	"pipemate/api/internal/doctree"
)

// BlockPreset is one row of the blocks table.
type BlockPreset struct {
	ID          int64
	Type        string
	Name        string
	Description string
	JobName     string
	Domain      string
	Task        []string
	Config      json.RawMessage
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type PipelinePreset struct {
	ID          int64
	Name        string
	Description string
	Blocks      []BlockPreset
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PipelineRecord remembers the last blocks and text saved for a workflow file.
type PipelineRecord struct {
	ID           string          `json:"id"`
	Owner        string          `json:"owner"`
	Repo         string          `json:"repo"`
	WorkflowName string          `json:"workflowName"`
	Blocks       json.RawMessage `json:"blocks"`
	YAML         string          `json:"yaml"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// Block converts the row to an editor block. Rows with a type the editor
// does not know are reported as errors.
func (p BlockPreset) Block() (block.Block, error) {
	config := doctree.NewMap()
	if len(p.Config) > 0 && string(p.Config) != "null" {
		value, err := doctree.DecodeJSON(p.Config)
		if err != nil {
			return nil, fmt.Errorf("preset block %d: decode config: %w", p.ID, err)
		}
		m, ok := value.(*doctree.Map)
		if !ok {
			return nil, fmt.Errorf("preset block %d: config is not an object", p.ID)
		}
		config = m
	}

	switch block.Kind(p.Type) {
	case block.KindTrigger:
		return block.Trigger{Name: p.Name, Description: p.Description, Config: config}, nil
	case block.KindJob:
		return block.Job{Name: p.Name, Description: p.Description, JobName: block.ResolveJobName(p.JobName), Config: config}, nil
	case block.KindStep:
		task := p.Task
		if task == nil {
			task = []string{}
		}
		return block.Step{
			Name:        p.Name,
			Description: p.Description,
			JobName:     block.ResolveJobName(p.JobName),
			Domain:      p.Domain,
			Task:        task,
			Config:      config,
		}, nil
	default:
		return nil, fmt.Errorf("preset block %d: unknown type %q", p.ID, p.Type)
	}
}
