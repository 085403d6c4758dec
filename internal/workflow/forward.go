package workflow

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"pipemate/api/internal/block"
	"pipemate/api/internal/doctree"
)

// builder accumulates one forward conversion. It lives for a single call.
type builder struct {
	root  *doctree.Map
	jobs  *doctree.Map
	steps map[string][]any
}

func newBuilder() *builder {
	root := doctree.NewMap()
	root.Set(KeyName, "")
	root.Set(KeyOn, nil)
	root.Set(KeyXName, "")
	root.Set(KeyXDesc, "")
	return &builder{
		root:  root,
		jobs:  doctree.NewMap(),
		steps: map[string][]any{},
	}
}

// Forward folds an ordered block list into a workflow document.
//
// The last trigger wins. Jobs and steps are grouped by job name; a job block
// replaces the fields of an earlier job with the same name but keeps the
// steps already collected for it. Steps keep their input order. A document
// always has at least one job.
func Forward(blocks []block.Block) (*Document, error) {
	log.Debug().Int("blocks", len(blocks)).Msg("converting blocks to workflow")
	b := newBuilder()
	for i, blk := range blocks {
		switch v := blk.(type) {
		case block.Trigger:
			b.trigger(v)
		case block.Job:
			b.job(v)
		case block.Step:
			b.step(v)
		case block.Action:
			b.action(v)
		default:
			return nil, conversionError(StageForward, fmt.Errorf("block %d: unsupported block %T", i, blk))
		}
	}

	doc, err := NewDocument(b.finish())
	if err != nil {
		return nil, conversionError(StageForward, err)
	}
	log.Debug().Int("blocks", len(blocks)).Int("jobs", len(doc.JobNames())).Msg("workflow converted from blocks")
	return doc, nil
}

// ConvertBlocks decodes an editor block list and folds it into a document.
// Skipped elements are reported alongside the document.
func ConvertBlocks(data []byte) (*Document, []block.Skipped, error) {
	blocks, skipped, err := block.DecodeList(data)
	if err != nil {
		return nil, nil, conversionError(StageForward, err)
	}
	doc, err := Forward(blocks)
	if err != nil {
		return nil, nil, err
	}
	return doc, skipped, nil
}

func (b *builder) trigger(t block.Trigger) {
	name, _ := t.Config.Get(KeyName)
	on, _ := t.Config.Get(KeyOn)
	b.root.Set(KeyName, doctree.Text(name))
	b.root.Set(KeyOn, doctree.Clone(on))
	b.root.Set(KeyXName, t.Name)
	b.root.Set(KeyXDesc, t.Description)
}

func (b *builder) job(j block.Job) {
	name := block.ResolveJobName(j.JobName)
	node := doctree.NewMap()
	for _, key := range j.Config.Keys() {
		if key == KeySteps {
			continue
		}
		value, _ := j.Config.Get(key)
		node.Set(key, doctree.Clone(value))
	}
	node.Set(KeyXName, j.Name)
	node.Set(KeyXDesc, j.Description)

	b.jobs.Set(name, node)
	if _, ok := b.steps[name]; !ok {
		b.steps[name] = []any{}
	}
}

func (b *builder) step(s block.Step) {
	name := block.ResolveJobName(s.JobName)
	b.ensureJob(name)

	node := s.Config.Clone()
	if node == nil {
		node = doctree.NewMap()
	}
	task := make([]any, 0, len(s.Task))
	for _, t := range s.Task {
		task = append(task, t)
	}
	node.Set(KeyXName, s.Name)
	node.Set(KeyXDesc, s.Description)
	node.Set(KeyXDomain, s.Domain)
	node.Set(KeyXTask, task)

	b.steps[name] = append(b.steps[name], node)
}

// action appends a bare action invocation to the first job seen so far.
func (b *builder) action(a block.Action) {
	name := block.DefaultJobName
	if keys := b.jobs.Keys(); len(keys) > 0 {
		name = keys[0]
	}
	b.ensureJob(name)

	node := doctree.NewMap()
	node.Set(KeyName, a.Name)
	node.Set("uses", a.Uses)
	node.Set("with", doctree.Clone(a.With))
	b.steps[name] = append(b.steps[name], node)
}

func (b *builder) ensureJob(name string) {
	if b.jobs.Has(name) {
		return
	}
	b.jobs.Set(name, defaultJob())
	b.steps[name] = []any{}
}

func (b *builder) finish() *doctree.Map {
	if b.jobs.Len() == 0 {
		log.Warn().Str("job", block.DefaultJobName).Msg("no jobs found, using default")
		b.ensureJob(block.DefaultJobName)
	}
	for _, name := range b.jobs.Keys() {
		value, _ := b.jobs.Get(name)
		steps := b.steps[name]
		if steps == nil {
			steps = []any{}
		}
		value.(*doctree.Map).Set(KeySteps, steps)
	}
	b.root.Set(KeyJobs, b.jobs)
	return b.root
}

func defaultJob() *doctree.Map {
	job := doctree.NewMap()
	job.Set(KeyRunsOn, DefaultRunner)
	return job
}
