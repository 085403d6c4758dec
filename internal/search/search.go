package search

import (
	"context"
	"encoding/json"

	"pipemate/api/internal/store"
)

// Record is what the preset index holds for one block.
type Record struct {
	ID          int64           `json:"id"`
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	JobName     string          `json:"jobName"`
	Domain      string          `json:"domain"`
	Task        []string        `json:"task"`
	Config      json.RawMessage `json:"config"`
}

func RecordFromPreset(p store.BlockPreset) Record {
	task := p.Task
	if task == nil {
		task = []string{}
	}
	return Record{
		ID:          p.ID,
		Type:        p.Type,
		Name:        p.Name,
		Description: p.Description,
		JobName:     p.JobName,
		Domain:      p.Domain,
		Task:        task,
		Config:      p.Config,
	}
}

func (r Record) Preset() store.BlockPreset {
	return store.BlockPreset{
		ID:          r.ID,
		Type:        r.Type,
		Name:        r.Name,
		Description: r.Description,
		JobName:     r.JobName,
		Domain:      r.Domain,
		Task:        r.Task,
		Config:      r.Config,
	}
}

// Query describes a preset search. An empty Text matches every block.
type Query struct {
	Text  string
	Type  string // empty = all block types
	Limit int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Record `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Source  string   `json:"source"`
}

// Searcher can execute a preset search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Record, int, error)
	Healthy() bool
}

const defaultLimit = 20

func (q Query) limit() int {
	if q.Limit <= 0 {
		return defaultLimit
	}
	if q.Limit > 100 {
		return 100
	}
	return q.Limit
}
