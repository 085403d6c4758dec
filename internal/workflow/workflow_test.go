package workflow

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipemate/api/internal/block"
	"pipemate/api/internal/doctree"
)

func config(t *testing.T, raw string) *doctree.Map {
	t.Helper()
	value, err := doctree.DecodeJSON([]byte(raw))
	require.NoError(t, err)
	return value.(*doctree.Map)
}

func toJSON(t *testing.T, value any) string {
	t.Helper()
	out, err := json.Marshal(value)
	require.NoError(t, err)
	return string(out)
}

func sampleBlocks(t *testing.T) []block.Block {
	return []block.Block{
		block.Trigger{Name: "Setup", Description: "Triggers", Config: config(t, `{"name":"CI","on":{"push":{"branches":["main"]}}}`)},
		block.Job{Name: "Build", JobName: "build", Config: config(t, `{"runs-on":"ubuntu-latest","timeout-minutes":10}`)},
		block.Step{Name: "Checkout", JobName: "build", Domain: "git", Task: []string{"checkout"}, Config: config(t, `{"uses":"actions/checkout@v4"}`)},
		block.Step{Name: "Test", Description: "runs tests", JobName: "build", Domain: "go", Task: []string{"test", "vet"}, Config: config(t, `{"name":"go test","run":"go vet ./...\ngo test ./...\n"}`)},
		block.Job{Name: "Deploy", JobName: "deploy", Config: config(t, `{"runs-on":"ubuntu-latest","needs":["build"]}`)},
		block.Step{Name: "Ship", JobName: "deploy", Config: config(t, `{"run":"./deploy.sh","env":{"STAGE":"prod"}}`)},
	}
}

func TestForwardBuildsDocument(t *testing.T) {
	doc, err := Forward(sampleBlocks(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "on", "x_name", "x_description", "jobs"}, doc.Tree().Keys())
	assert.Equal(t, "CI", doc.Name())
	assert.Equal(t, []string{"build", "deploy"}, doc.JobNames())

	build, _ := doc.Job("build")
	assert.Equal(t, []string{"runs-on", "timeout-minutes", "x_name", "x_description", "steps"}, build.Keys())
	assert.Equal(t, "Build", build.String(KeyXName))

	steps := doc.Steps("build")
	require.Len(t, steps, 2)
	assert.Equal(t, []string{"uses", "x_name", "x_description", "x_domain", "x_task"}, steps[0].Keys())
	task, _ := steps[1].Get(KeyXTask)
	assert.Equal(t, []any{"test", "vet"}, task)
}

func TestRoundTripJobsAndSteps(t *testing.T) {
	input := sampleBlocks(t)
	doc, err := Forward(input)
	require.NoError(t, err)

	output := Reverse(doc)
	require.Len(t, output, len(input))
	for i := range input {
		assert.Equal(t, input[i].Kind(), output[i].Kind(), "block %d", i)
		switch want := input[i].(type) {
		case block.Trigger:
			got := output[i].(block.Trigger)
			assert.Equal(t, want.Name, got.Name)
			assert.Equal(t, want.Description, got.Description)
			assert.Equal(t, toJSON(t, want.Config), toJSON(t, got.Config))
		case block.Job:
			got := output[i].(block.Job)
			assert.Equal(t, want.JobName, got.JobName)
			assert.Equal(t, want.Name, got.Name)
			assert.Equal(t, toJSON(t, want.Config), toJSON(t, got.Config))
		case block.Step:
			got := output[i].(block.Step)
			assert.Equal(t, want.JobName, got.JobName)
			assert.Equal(t, want.Name, got.Name)
			assert.Equal(t, want.Description, got.Description)
			assert.Equal(t, want.Domain, got.Domain)
			assert.Equal(t, append([]string{}, want.Task...), got.Task)
			assert.Equal(t, toJSON(t, want.Config), toJSON(t, got.Config))
		}
	}
}

func TestRoundTripThroughStoredText(t *testing.T) {
	doc, err := Forward(sampleBlocks(t))
	require.NoError(t, err)

	text, err := Encode(doc)
	require.NoError(t, err)

	parsed, err := Decode(text)
	require.NoError(t, err)
	assert.Equal(t, toJSON(t, doc.Tree()), toJSON(t, parsed.Tree()))
}

func TestEncodeHidesMetadata(t *testing.T) {
	blocks := []block.Block{
		block.Trigger{Name: "Setup", Description: "Triggers", Config: config(t, `{"name":"CI","on":{"push":{"branches":["main"]}}}`)},
		block.Job{Name: "Build", JobName: "build", Config: config(t, `{"runs-on":"ubuntu-latest"}`)},
		block.Step{Name: "Checkout", JobName: "build", Domain: "git", Task: []string{"checkout"}, Config: config(t, `{"uses":"actions/checkout@v4"}`)},
	}
	doc, err := Forward(blocks)
	require.NoError(t, err)

	text, err := Encode(doc)
	require.NoError(t, err)

	want := "name: CI\n" +
		"on:\n" +
		"  push:\n" +
		"    branches:\n" +
		"      - main\n" +
		"# x_name: Setup\n" +
		"# x_description: Triggers\n" +
		"jobs:\n" +
		"  build:\n" +
		"    runs-on: ubuntu-latest\n" +
		"#     x_name: Build\n" +
		"#     x_description: \"\"\n" +
		"    steps:\n" +
		"      - uses: actions/checkout@v4\n" +
		"#         x_name: Checkout\n" +
		"#         x_description: \"\"\n" +
		"#         x_domain: git\n" +
		"#         x_task:\n" +
		"#           - checkout\n"
	assert.Equal(t, want, text)
}

func TestEncodeStepWithEmptyConfig(t *testing.T) {
	blocks := []block.Block{
		block.Job{Name: "Build", JobName: "build", Config: config(t, `{"runs-on":"ubuntu-latest"}`)},
		block.Step{Name: "empty", JobName: "build"},
	}
	doc, err := Forward(blocks)
	require.NoError(t, err)
	text, err := Encode(doc)
	require.NoError(t, err)

	// The first key of the item shares its line with the dash and stays visible.
	assert.Contains(t, text, "\n      - x_name: empty\n")
	assert.Contains(t, text, "\n#         x_description: \"\"\n")

	parsed, err := ParseYAML(text)
	require.NoError(t, err)
	require.Len(t, parsed, 3)
	assert.Equal(t, "empty", parsed[2].(block.Step).Name)
}

func TestDefaultJobAssignment(t *testing.T) {
	blocks := []block.Block{
		block.Step{Name: "one", Config: config(t, `{"run":"echo 1"}`)},
		block.Step{Name: "two", Config: config(t, `{"run":"echo 2"}`)},
		block.Step{Name: "three", Config: config(t, `{"run":"echo 3"}`)},
	}
	doc, err := Forward(blocks)
	require.NoError(t, err)

	assert.Equal(t, []string{block.DefaultJobName}, doc.JobNames())
	job, _ := doc.Job(block.DefaultJobName)
	assert.Equal(t, DefaultRunner, job.String(KeyRunsOn))

	steps := doc.Steps(block.DefaultJobName)
	require.Len(t, steps, 3)
	for i, name := range []string{"one", "two", "three"} {
		assert.Equal(t, name, steps[i].String(KeyXName))
	}
}

func TestLastTriggerWins(t *testing.T) {
	blocks := []block.Block{
		block.Trigger{Name: "first", Config: config(t, `{"name":"A","on":"push"}`)},
		block.Trigger{Name: "second", Config: config(t, `{"name":"B","on":["pull_request"]}`)},
	}
	doc, err := Forward(blocks)
	require.NoError(t, err)

	assert.Equal(t, "B", doc.Name())
	assert.Equal(t, []any{"pull_request"}, doc.On())
	assert.Equal(t, "second", doc.Tree().String(KeyXName))
}

func TestRedeclaredJobKeepsSteps(t *testing.T) {
	blocks := []block.Block{
		block.Step{Name: "early", JobName: "build", Config: config(t, `{"run":"a"}`)},
		block.Job{Name: "Build", JobName: "build", Config: config(t, `{"runs-on":"macos-latest","steps":[{"run":"ignored"}]}`)},
		block.Step{Name: "late", JobName: "build", Config: config(t, `{"run":"b"}`)},
		block.Job{Name: "Build again", JobName: "build", Config: config(t, `{"runs-on":"windows-latest"}`)},
	}
	doc, err := Forward(blocks)
	require.NoError(t, err)

	job, _ := doc.Job("build")
	assert.Equal(t, "windows-latest", job.String(KeyRunsOn))
	assert.Equal(t, "Build again", job.String(KeyXName))

	steps := doc.Steps("build")
	require.Len(t, steps, 2)
	assert.Equal(t, "early", steps[0].String(KeyXName))
	assert.Equal(t, "late", steps[1].String(KeyXName))
}

func TestActionGoesToFirstJob(t *testing.T) {
	blocks := []block.Block{
		block.Job{JobName: "lint", Config: config(t, `{"runs-on":"ubuntu-latest"}`)},
		block.Job{JobName: "test", Config: config(t, `{"runs-on":"ubuntu-latest"}`)},
		block.Action{Name: "Setup Go", Uses: "actions/setup-go@v5", With: config(t, `{"go-version":"1.24"}`)},
	}
	doc, err := Forward(blocks)
	require.NoError(t, err)

	steps := doc.Steps("lint")
	require.Len(t, steps, 1)
	assert.Equal(t, `{"name":"Setup Go","uses":"actions/setup-go@v5","with":{"go-version":"1.24"}}`, toJSON(t, steps[0]))
	assert.Empty(t, doc.Steps("test"))
}

func TestActionWithoutJobsUsesDefaultJob(t *testing.T) {
	doc, err := Forward([]block.Block{block.Action{Name: "cache", Uses: "actions/cache@v4", With: config(t, `{}`)}})
	require.NoError(t, err)

	assert.Equal(t, []string{block.DefaultJobName}, doc.JobNames())
	assert.Len(t, doc.Steps(block.DefaultJobName), 1)
}

func TestUnknownBlockIsSkipped(t *testing.T) {
	with := `[{"type":"job","job-name":"build","config":{"runs-on":"ubuntu-latest"}},{"name":"stray","config":{}},{"type":"step","job-name":"build","config":{"run":"make"}}]`
	without := `[{"type":"job","job-name":"build","config":{"runs-on":"ubuntu-latest"}},{"type":"step","job-name":"build","config":{"run":"make"}}]`

	docWith, skipped, err := ConvertBlocks([]byte(with))
	require.NoError(t, err)
	require.Len(t, skipped, 1)
	assert.Equal(t, 1, skipped[0].Index)

	docWithout, _, err := ConvertBlocks([]byte(without))
	require.NoError(t, err)
	assert.Equal(t, toJSON(t, docWithout.Tree()), toJSON(t, docWith.Tree()))
}

func TestEmptyInput(t *testing.T) {
	doc, skipped, err := ConvertBlocks([]byte(`[]`))
	require.NoError(t, err)
	assert.Empty(t, skipped)

	assert.Equal(t,
		`{"name":"","on":null,"x_name":"","x_description":"","jobs":{"ci-pipeline":{"runs-on":"ubuntu-latest","steps":[]}}}`,
		toJSON(t, doc.Tree()))
}

func TestConvertBlocksStructuralFailure(t *testing.T) {
	_, _, err := ConvertBlocks([]byte(`[{"type":"job","config":["runs-on"]}]`))

	var convErr *ConversionError
	require.True(t, errors.As(err, &convErr))
	assert.Equal(t, StageForward, convErr.Stage)

	var shapeErr *block.ShapeError
	assert.True(t, errors.As(err, &shapeErr))
}

func TestForwardRejectsNilBlock(t *testing.T) {
	_, err := Forward([]block.Block{nil})
	var convErr *ConversionError
	require.True(t, errors.As(err, &convErr))
	assert.Equal(t, StageForward, convErr.Stage)
}

func TestReverseHandWrittenWorkflow(t *testing.T) {
	text := "name: CI\n" +
		"on: [push]\n" +
		"jobs:\n" +
		"  build:\n" +
		"    runs-on: ubuntu-latest\n" +
		"    x_owner: platform\n" +
		"    steps:\n" +
		"      - uses: actions/checkout@v4\n" +
		"      - name: Test\n" +
		"        run: go test ./...\n" +
		"  empty:\n"

	blocks, err := ParseYAML(text)
	require.NoError(t, err)
	require.Len(t, blocks, 5)

	trigger := blocks[0].(block.Trigger)
	assert.Equal(t, DefaultTriggerName, trigger.Name)
	assert.Equal(t, DefaultTriggerDescription, trigger.Description)
	assert.Equal(t, `{"name":"CI","on":["push"]}`, toJSON(t, trigger.Config))

	job := blocks[1].(block.Job)
	assert.Equal(t, "build", job.Name)
	assert.Equal(t, `{"runs-on":"ubuntu-latest","x_owner":"platform"}`, toJSON(t, job.Config))

	assert.Equal(t, DefaultStepName, blocks[2].(block.Step).Name)
	assert.Equal(t, "Test", blocks[3].(block.Step).Name)
	assert.Equal(t, []string{}, blocks[3].(block.Step).Task)

	empty := blocks[4].(block.Job)
	assert.Equal(t, "empty", empty.JobName)
	assert.Equal(t, 0, empty.Config.Len())
}

func TestReverseKeepsHandWrittenScalars(t *testing.T) {
	text := "name: CI\n" +
		"on: push\n" +
		"jobs:\n" +
		"  build:\n" +
		"    runs-on: ubuntu-latest\n" +
		"    steps:\n" +
		"      - uses: x\n" +
		"        with:\n" +
		"          date: 2024-01-01\n" +
		"          hex: 0x1F\n"

	blocks, err := ParseYAML(text)
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	step := blocks[2].(block.Step)
	assert.Equal(t, `{"uses":"x","with":{"date":"2024-01-01","hex":"0x1F"}}`, toJSON(t, step.Config))

	doc, err := Decode(text)
	require.NoError(t, err)
	out, err := Encode(doc)
	require.NoError(t, err)
	assert.Contains(t, out, "hex: 0x1F\n")
	assert.NotContains(t, out, "T00:00:00Z")
}

func TestReverseEmptyMetadataIsKept(t *testing.T) {
	blocks, err := ParseYAML("name: CI\non: push\n# x_name: ''\njobs: {}\n")
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "", blocks[0].(block.Trigger).Name)
}

func TestDecodeRejectsMalformedDocuments(t *testing.T) {
	cases := map[string]string{
		"not a mapping": "- a\n- b\n",
		"jobs list":     "jobs:\n  - build\n",
		"job scalar":    "jobs:\n  build: yes\n",
		"steps mapping": "jobs:\n  build:\n    steps:\n      run: make\n",
		"step scalar":   "jobs:\n  build:\n    steps:\n      - make\n",
		"invalid yaml":  "jobs: [\n",
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(text)
			var convErr *ConversionError
			require.True(t, errors.As(err, &convErr))
			assert.Equal(t, StageReverse, convErr.Stage)
		})
	}
}
