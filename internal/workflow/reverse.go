package workflow

import (
	"pipemate/api/internal/block"
	"pipemate/api/internal/doctree"
)

// Names given to blocks whose metadata is missing from the document.
const (
	DefaultTriggerName        = "Workflow settings"
	DefaultTriggerDescription = "Sets the GitHub Actions workflow name and trigger conditions."
	DefaultStepName           = "Unnamed step"
)

// Reverse unfolds a document into a block list: one trigger, then each job
// followed by its steps, in document order. Editor metadata is read back
// from the x_ keys and removed from the configs.
func Reverse(doc *Document) []block.Block {
	blocks := []block.Block{reverseTrigger(doc)}
	for _, name := range doc.JobNames() {
		job, _ := doc.Job(name)
		blocks = append(blocks, reverseJob(name, job))
		for _, step := range doc.Steps(name) {
			blocks = append(blocks, reverseStep(name, step))
		}
	}
	return blocks
}

// ParseTree validates tree as a document and unfolds it.
func ParseTree(tree *doctree.Map) ([]block.Block, error) {
	doc, err := NewDocument(tree)
	if err != nil {
		return nil, conversionError(StageReverse, err)
	}
	return Reverse(doc), nil
}

func reverseTrigger(doc *Document) block.Trigger {
	config := doctree.NewMap()
	config.Set(KeyName, doc.Name())
	config.Set(KeyOn, doctree.Clone(doc.On()))

	root := doc.Tree()
	return block.Trigger{
		Name:        textOr(root, KeyXName, DefaultTriggerName),
		Description: textOr(root, KeyXDesc, DefaultTriggerDescription),
		Config:      config,
	}
}

func reverseJob(name string, job *doctree.Map) block.Job {
	config := job.Clone()
	config.Delete(KeySteps)
	config.Delete(KeyXName)
	config.Delete(KeyXDesc)
	return block.Job{
		Name:        textOr(job, KeyXName, name),
		Description: textOr(job, KeyXDesc, ""),
		JobName:     name,
		Config:      config,
	}
}

func reverseStep(jobName string, step *doctree.Map) block.Step {
	config := doctree.NewMap()
	for _, key := range step.Keys() {
		if IsMetadataKey(key) {
			continue
		}
		value, _ := step.Get(key)
		config.Set(key, doctree.Clone(value))
	}

	task, _ := step.Get(KeyXTask)
	tasks := doctree.Strings(task)
	if tasks == nil {
		tasks = []string{}
	}
	return block.Step{
		Name:        textOr(step, KeyXName, textOr(step, KeyName, DefaultStepName)),
		Description: textOr(step, KeyXDesc, ""),
		JobName:     jobName,
		Domain:      textOr(step, KeyXDomain, ""),
		Task:        tasks,
		Config:      config,
	}
}

// textOr reads key as text, falling back when it is missing or null.
func textOr(m *doctree.Map, key, fallback string) string {
	value, ok := m.Get(key)
	if !ok || value == nil {
		return fallback
	}
	return doctree.Text(value)
}
