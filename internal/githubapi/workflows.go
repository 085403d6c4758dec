package githubapi

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/go-github/v53/github"
	"github.com/rs/zerolog/log"

	"pipemate/api/internal/doctree"
)

const perPage = 100

type Workflow struct {
	ID                    int64     `json:"id"`
	Name                  string    `json:"name"`
	Path                  string    `json:"path"`
	State                 string    `json:"state"`
	CreatedAt             time.Time `json:"createdAt"`
	UpdatedAt             time.Time `json:"updatedAt"`
	URL                   string    `json:"url"`
	HTMLURL               string    `json:"htmlUrl"`
	BadgeURL              string    `json:"badgeUrl"`
	ManualDispatchEnabled bool      `json:"manualDispatchEnabled"`
	AvailableBranches     []string  `json:"availableBranches"`
}

type WorkflowList struct {
	TotalCount int        `json:"totalCount"`
	Workflows  []Workflow `json:"workflows"`
}

type Run struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	WorkflowID   int64      `json:"workflowId"`
	RunNumber    int        `json:"runNumber"`
	Event        string     `json:"event"`
	Status       string     `json:"status"`
	Conclusion   string     `json:"conclusion"`
	HeadBranch   string     `json:"headBranch"`
	HeadSHA      string     `json:"headSha"`
	Actor        string     `json:"actor"`
	HTMLURL      string     `json:"htmlUrl"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	RunStartedAt *time.Time `json:"runStartedAt,omitempty"`
}

type RunList struct {
	TotalCount int   `json:"totalCount"`
	Runs       []Run `json:"workflowRuns"`
}

// RunFilter narrows a run listing. Zero values are ignored.
type RunFilter struct {
	Branch  string
	Status  string
	Event   string
	Page    int
	PerPage int
}

type JobStep struct {
	Number      int64      `json:"number"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	Conclusion  string     `json:"conclusion"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

type Job struct {
	ID          int64      `json:"id"`
	RunID       int64      `json:"runId"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	Conclusion  string     `json:"conclusion"`
	RunnerName  string     `json:"runnerName"`
	Labels      []string   `json:"labels"`
	HTMLURL     string     `json:"htmlUrl"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Steps       []JobStep  `json:"steps"`
}

// ListWorkflows lists the repository's workflows. Each one is enriched from
// its file: whether it can be dispatched by hand and the branches its push
// trigger lists.
func (c *Client) ListWorkflows(ctx context.Context, owner, repo string) (WorkflowList, error) {
	var out WorkflowList
	opts := &github.ListOptions{PerPage: perPage}
	for {
		page, resp, err := c.gh.Actions.ListWorkflows(ctx, owner, repo, opts)
		if err != nil {
			return WorkflowList{}, fmt.Errorf("list workflows: %w", err)
		}
		out.TotalCount = page.GetTotalCount()
		for _, wf := range page.Workflows {
			item := toWorkflow(wf)
			c.describeWorkflowFile(ctx, owner, repo, &item)
			out.Workflows = append(out.Workflows, item)
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	if out.Workflows == nil {
		out.Workflows = []Workflow{}
	}
	return out, nil
}

func (c *Client) GetWorkflow(ctx context.Context, owner, repo string, workflowID int64) (Workflow, error) {
	wf, _, err := c.gh.Actions.GetWorkflowByID(ctx, owner, repo, workflowID)
	if err != nil {
		return Workflow{}, fmt.Errorf("get workflow %d: %w", workflowID, err)
	}
	item := toWorkflow(wf)
	c.describeWorkflowFile(ctx, owner, repo, &item)
	return item, nil
}

func (c *Client) describeWorkflowFile(ctx context.Context, owner, repo string, item *Workflow) {
	item.AvailableBranches = []string{}
	if item.Path == "" {
		return
	}
	file, _, _, err := c.gh.Repositories.GetContents(ctx, owner, repo, item.Path, nil)
	if err != nil || file == nil {
		log.Warn().Err(err).Str("path", item.Path).Msg("read workflow file")
		return
	}
	text, err := file.GetContent()
	if err != nil {
		log.Warn().Err(err).Str("path", item.Path).Msg("decode workflow file")
		return
	}
	item.ManualDispatchEnabled = strings.Contains(text, "workflow_dispatch")
	item.AvailableBranches = PushBranches(text)
}

// PushBranches returns on.push.branches from workflow YAML, or an empty list
// when the file does not parse or declares no such list.
func PushBranches(text string) []string {
	branches := []string{}
	value, err := doctree.DecodeYAML([]byte(text))
	if err != nil {
		log.Warn().Err(err).Msg("parse workflow branches")
		return branches
	}
	root, _ := value.(*doctree.Map)
	on, _ := root.Get("on")
	onMap, _ := on.(*doctree.Map)
	push, _ := onMap.Get("push")
	pushMap, _ := push.(*doctree.Map)
	list, _ := pushMap.Get("branches")
	items, _ := list.([]any)
	for _, item := range items {
		branches = append(branches, doctree.Text(item))
	}
	return branches
}

func (c *Client) ListRuns(ctx context.Context, owner, repo string, filter RunFilter) (RunList, error) {
	opts := &github.ListWorkflowRunsOptions{
		Branch:      filter.Branch,
		Status:      filter.Status,
		Event:       filter.Event,
		ListOptions: github.ListOptions{Page: filter.Page, PerPage: filter.PerPage},
	}
	runs, _, err := c.gh.Actions.ListRepositoryWorkflowRuns(ctx, owner, repo, opts)
	if err != nil {
		return RunList{}, fmt.Errorf("list workflow runs: %w", err)
	}
	out := RunList{TotalCount: runs.GetTotalCount(), Runs: make([]Run, 0, len(runs.WorkflowRuns))}
	for _, run := range runs.WorkflowRuns {
		out.Runs = append(out.Runs, toRun(run))
	}
	return out, nil
}

func (c *Client) GetRun(ctx context.Context, owner, repo string, runID int64) (Run, error) {
	run, _, err := c.gh.Actions.GetWorkflowRunByID(ctx, owner, repo, runID)
	if err != nil {
		return Run{}, fmt.Errorf("get workflow run %d: %w", runID, err)
	}
	return toRun(run), nil
}

func (c *Client) ListJobs(ctx context.Context, owner, repo string, runID int64) ([]Job, error) {
	out := []Job{}
	opts := &github.ListWorkflowJobsOptions{ListOptions: github.ListOptions{PerPage: perPage}}
	for {
		jobs, resp, err := c.gh.Actions.ListWorkflowJobs(ctx, owner, repo, runID, opts)
		if err != nil {
			return nil, fmt.Errorf("list jobs of run %d: %w", runID, err)
		}
		for _, job := range jobs.Jobs {
			out = append(out, toJob(job))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func (c *Client) GetJob(ctx context.Context, owner, repo string, jobID int64) (Job, error) {
	job, _, err := c.gh.Actions.GetWorkflowJobByID(ctx, owner, repo, jobID)
	if err != nil {
		return Job{}, fmt.Errorf("get job %d: %w", jobID, err)
	}
	return toJob(job), nil
}

// RunLogs downloads the run's log archive and returns the first text file in
// it, by name.
func (c *Client) RunLogs(ctx context.Context, owner, repo string, runID int64) (string, error) {
	archiveURL, _, err := c.gh.Actions.GetWorkflowRunLogs(ctx, owner, repo, runID, true)
	if err != nil {
		return "", fmt.Errorf("locate logs of run %d: %w", runID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, archiveURL.String(), nil)
	if err != nil {
		return "", fmt.Errorf("build log download request: %w", err)
	}
	resp, err := c.download.Do(req)
	if err != nil {
		return "", fmt.Errorf("download logs of run %d: %w", runID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download logs of run %d: unexpected status %d", runID, resp.StatusCode)
	}
	archive, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read log archive: %w", err)
	}
	return firstTextFile(archive)
}

func firstTextFile(archive []byte) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return "", fmt.Errorf("open log archive: %w", err)
	}
	files := make([]*zip.File, 0, len(reader.File))
	for _, f := range reader.File {
		if !f.FileInfo().IsDir() && strings.HasSuffix(f.Name, ".txt") {
			files = append(files, f)
		}
	}
	if len(files) == 0 {
		return "", fmt.Errorf("log archive has no text file")
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	rc, err := files[0].Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", files[0].Name, err)
	}
	defer rc.Close()
	text, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", files[0].Name, err)
	}
	return string(text), nil
}

// Dispatch starts a workflow_dispatch run of the workflow file on ref.
func (c *Client) Dispatch(ctx context.Context, owner, repo, fileName, ref string, inputs map[string]any) error {
	event := github.CreateWorkflowDispatchEventRequest{Ref: ref, Inputs: inputs}
	if _, err := c.gh.Actions.CreateWorkflowDispatchEventByFileName(ctx, owner, repo, fileName, event); err != nil {
		return fmt.Errorf("dispatch workflow %s: %w", fileName, err)
	}
	return nil
}

func (c *Client) CancelRun(ctx context.Context, owner, repo string, runID int64) error {
	if _, err := c.gh.Actions.CancelWorkflowRunByID(ctx, owner, repo, runID); err != nil {
		// GitHub answers 202 Accepted, which go-github reports as an error.
		var accepted *github.AcceptedError
		if errors.As(err, &accepted) {
			return nil
		}
		return fmt.Errorf("cancel workflow run %d: %w", runID, err)
	}
	return nil
}

func toWorkflow(wf *github.Workflow) Workflow {
	return Workflow{
		ID:        wf.GetID(),
		Name:      wf.GetName(),
		Path:      wf.GetPath(),
		State:     wf.GetState(),
		CreatedAt: wf.GetCreatedAt().Time,
		UpdatedAt: wf.GetUpdatedAt().Time,
		URL:       wf.GetURL(),
		HTMLURL:   wf.GetHTMLURL(),
		BadgeURL:  wf.GetBadgeURL(),
	}
}

func toRun(run *github.WorkflowRun) Run {
	out := Run{
		ID:         run.GetID(),
		Name:       run.GetName(),
		WorkflowID: run.GetWorkflowID(),
		RunNumber:  run.GetRunNumber(),
		Event:      run.GetEvent(),
		Status:     run.GetStatus(),
		Conclusion: run.GetConclusion(),
		HeadBranch: run.GetHeadBranch(),
		HeadSHA:    run.GetHeadSHA(),
		Actor:      run.GetActor().GetLogin(),
		HTMLURL:    run.GetHTMLURL(),
		CreatedAt:  run.GetCreatedAt().Time,
		UpdatedAt:  run.GetUpdatedAt().Time,
	}
	if run.RunStartedAt != nil {
		started := run.RunStartedAt.Time
		out.RunStartedAt = &started
	}
	return out
}

func toJob(job *github.WorkflowJob) Job {
	out := Job{
		ID:          job.GetID(),
		RunID:       job.GetRunID(),
		Name:        job.GetName(),
		Status:      job.GetStatus(),
		Conclusion:  job.GetConclusion(),
		RunnerName:  job.GetRunnerName(),
		Labels:      append([]string{}, job.Labels...),
		HTMLURL:     job.GetHTMLURL(),
		StartedAt:   timePtr(job.StartedAt),
		CompletedAt: timePtr(job.CompletedAt),
		Steps:       make([]JobStep, 0, len(job.Steps)),
	}
	for _, step := range job.Steps {
		out.Steps = append(out.Steps, JobStep{
			Number:      step.GetNumber(),
			Name:        step.GetName(),
			Status:      step.GetStatus(),
			Conclusion:  step.GetConclusion(),
			StartedAt:   timePtr(step.StartedAt),
			CompletedAt: timePtr(step.CompletedAt),
		})
	}
	return out
}

func timePtr(ts *github.Timestamp) *time.Time {
	if ts == nil {
		return nil
	}
	t := ts.Time
	return &t
}
