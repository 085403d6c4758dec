// Package block models the editor's pipeline blocks.
//
// A Block is one of Trigger, Job, Step or Action. The set is closed: only
// this package can add implementations, so a type switch over the four
// kinds is exhaustive.
package block

import (
	"encoding/json"

	"pipemate/api/internal/doctree"
)

type Kind string

const (
	KindTrigger Kind = "trigger"
	KindJob     Kind = "job"
	KindStep    Kind = "step"
	// KindAction has no wire value: action blocks carry no "type" field.
	KindAction Kind = ""
)

// DefaultJobName groups jobs and steps that do not name a job.
const DefaultJobName = "ci-pipeline"

type Block interface {
	Kind() Kind
	isBlock()
}

// Trigger carries the workflow name and trigger spec in Config
// ("name" and "on").
type Trigger struct {
	Name        string
	Description string
	Config      *doctree.Map
}

// Job carries the platform fields of one job in Config.
type Job struct {
	Name        string
	Description string
	JobName     string
	Config      *doctree.Map
}

// Step carries the platform fields of one step in Config. Domain and Task
// are editor-only.
type Step struct {
	Name        string
	Description string
	JobName     string
	Domain      string
	Task        []string
	Config      *doctree.Map
}

// Action is a bare action invocation without a type.
type Action struct {
	Name string
	Uses string
	With any
}

func (Trigger) Kind() Kind { return KindTrigger }
func (Job) Kind() Kind     { return KindJob }
func (Step) Kind() Kind    { return KindStep }
func (Action) Kind() Kind  { return KindAction }

func (Trigger) isBlock() {}
func (Job) isBlock()     {}
func (Step) isBlock()    {}
func (Action) isBlock()  {}

// ResolveJobName applies the default group for a blank job name.
func ResolveJobName(name string) string {
	if name == "" {
		return DefaultJobName
	}
	return name
}

func (b Trigger) MarshalJSON() ([]byte, error) {
	m := doctree.NewMap()
	m.Set("type", string(KindTrigger))
	m.Set("name", b.Name)
	m.Set("description", b.Description)
	m.Set("config", configOrEmpty(b.Config))
	return json.Marshal(m)
}

func (b Job) MarshalJSON() ([]byte, error) {
	m := doctree.NewMap()
	m.Set("type", string(KindJob))
	m.Set("name", b.Name)
	m.Set("description", b.Description)
	m.Set("job-name", b.JobName)
	m.Set("config", configOrEmpty(b.Config))
	return json.Marshal(m)
}

func (b Step) MarshalJSON() ([]byte, error) {
	task := b.Task
	if task == nil {
		task = []string{}
	}
	m := doctree.NewMap()
	m.Set("type", string(KindStep))
	m.Set("name", b.Name)
	m.Set("description", b.Description)
	m.Set("job-name", b.JobName)
	m.Set("domain", b.Domain)
	m.Set("task", task)
	m.Set("config", configOrEmpty(b.Config))
	return json.Marshal(m)
}

func (b Action) MarshalJSON() ([]byte, error) {
	m := doctree.NewMap()
	m.Set("name", b.Name)
	m.Set("uses", b.Uses)
	m.Set("with", b.With)
	return json.Marshal(m)
}

func configOrEmpty(config *doctree.Map) *doctree.Map {
	if config == nil {
		return doctree.NewMap()
	}
	return config
}
