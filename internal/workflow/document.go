// Package workflow converts between editor block lists and CI workflow
// documents, and between documents and the YAML text stored for them.
package workflow

import (
	"fmt"
	"strings"

	"pipemate/api/internal/doctree"
)

// Document keys.
const (
	KeyName        = "name"
	KeyOn          = "on"
	KeyJobs        = "jobs"
	KeySteps       = "steps"
	KeyRunsOn      = "runs-on"
	KeyXName       = "x_name"
	KeyXDesc       = "x_description"
	KeyXDomain     = "x_domain"
	KeyXTask       = "x_task"
	MetadataPrefix = "x_"
)

// DefaultRunner is the runner selector given to jobs the editor never declared.
const DefaultRunner = "ubuntu-latest"

// Document is a workflow document: name, on, x_name, x_description and an
// ordered map of jobs, each with an ordered list of steps.
type Document struct {
	tree *doctree.Map
}

// NewDocument checks that tree has the shape of a workflow document.
// A null job reads as an empty job and a missing or null steps list as no
// steps.
func NewDocument(tree *doctree.Map) (*Document, error) {
	if tree == nil {
		return nil, fmt.Errorf("document is empty")
	}
	jobsValue, _ := tree.Get(KeyJobs)
	switch jobs := jobsValue.(type) {
	case nil:
	case *doctree.Map:
		for _, name := range jobs.Keys() {
			jobValue, _ := jobs.Get(name)
			job, ok := jobValue.(*doctree.Map)
			if jobValue == nil {
				continue
			}
			if !ok {
				return nil, fmt.Errorf("job %q must be a mapping", name)
			}
			stepsValue, _ := job.Get(KeySteps)
			if stepsValue == nil {
				continue
			}
			steps, ok := stepsValue.([]any)
			if !ok {
				return nil, fmt.Errorf("job %q: steps must be a list", name)
			}
			for i, step := range steps {
				if _, ok := step.(*doctree.Map); !ok {
					return nil, fmt.Errorf("job %q: step %d must be a mapping", name, i)
				}
			}
		}
	default:
		return nil, fmt.Errorf("jobs must be a mapping")
	}
	return &Document{tree: tree}, nil
}

// Tree returns the underlying tree. Callers must not modify it.
func (d *Document) Tree() *doctree.Map {
	return d.tree
}

func (d *Document) Name() string {
	return doctree.Text(d.value(KeyName))
}

func (d *Document) On() any {
	return d.value(KeyOn)
}

// JobNames returns the job names in document order.
func (d *Document) JobNames() []string {
	jobs, _ := d.value(KeyJobs).(*doctree.Map)
	return jobs.Keys()
}

// Job returns the job node for name. A null job reads as an empty mapping.
func (d *Document) Job(name string) (*doctree.Map, bool) {
	jobs, _ := d.value(KeyJobs).(*doctree.Map)
	value, ok := jobs.Get(name)
	if !ok {
		return nil, false
	}
	job, _ := value.(*doctree.Map)
	if job == nil {
		job = doctree.NewMap()
	}
	return job, true
}

// Steps returns the steps of the named job in execution order.
func (d *Document) Steps(name string) []*doctree.Map {
	job, ok := d.Job(name)
	if !ok {
		return nil
	}
	value, _ := job.Get(KeySteps)
	items, _ := value.([]any)
	steps := make([]*doctree.Map, 0, len(items))
	for _, item := range items {
		steps = append(steps, item.(*doctree.Map))
	}
	return steps
}

func (d *Document) value(key string) any {
	value, _ := d.tree.Get(key)
	return value
}

// IsMetadataKey reports whether key is editor metadata.
func IsMetadataKey(key string) bool {
	return strings.HasPrefix(key, MetadataPrefix)
}
