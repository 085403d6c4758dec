package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"pipemate/api/internal/block"
	"pipemate/api/internal/cache"
	"pipemate/api/internal/config"
	"pipemate/api/internal/content"
	"pipemate/api/internal/doctree"
	"pipemate/api/internal/search"
	"pipemate/api/internal/store"
	"pipemate/api/internal/workflow"
)

type dataStore interface {
	Ping(context.Context) error
	ListBlockPresets(context.Context) ([]store.BlockPreset, error)
	ListPipelinePresets(context.Context) ([]store.PipelinePreset, error)
	SavePipelineRecord(context.Context, store.PipelineRecord) (store.PipelineRecord, error)
	GetPipelineRecord(context.Context, string, string, string) (store.PipelineRecord, error)
	DeletePipelineRecord(context.Context, string, string, string) error
}

type presetSearch interface {
	Search(context.Context, search.Query) search.Response
	ReindexAll(context.Context)
}

type Service struct {
	cfg     config.Config
	store   dataStore
	content content.Provider
	github  gitHubFactory
	search  presetSearch
	cache   cache.Cache
	// cacheEnabled reports whether cache is backed by Redis.
	cacheEnabled bool
}

// New wires the service. A nil cache disables caching.
func New(cfg config.Config, records dataStore, contentProvider content.Provider, searchService presetSearch, c cache.Cache) *Service {
	s := &Service{
		cfg:          cfg,
		store:        records,
		content:      contentProvider,
		github:       defaultGitHubFactory(cfg.GitHubAPIURL),
		search:       searchService,
		cache:        c,
		cacheEnabled: c != nil,
	}
	if s.cache == nil {
		s.cache = cache.Noop{}
	}
	if s.cfg.CacheTTL <= 0 {
		s.cfg.CacheTTL = 5 * time.Minute
	}
	return s
}

// Bootstrap rebuilds the preset search index.
func (s *Service) Bootstrap(ctx context.Context) {
	if s.search != nil {
		s.search.ReindexAll(ctx)
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingCache reports false when no cache is configured.
func (s *Service) PingCache(ctx context.Context) (bool, error) {
	if !s.cacheEnabled {
		return false, nil
	}
	return true, s.cache.Ping(ctx)
}

// ConversionResult is a forward conversion preview.
type ConversionResult struct {
	Document *doctree.Map    `json:"document"`
	YAML     string          `json:"yaml"`
	Skipped  []block.Skipped `json:"skipped"`
}

// ConvertBlocks runs the forward conversion without persisting anything.
func (s *Service) ConvertBlocks(ctx context.Context, raw json.RawMessage) (ConversionResult, error) {
	doc, skipped, err := workflow.ConvertBlocks(raw)
	if err != nil {
		return ConversionResult{}, err
	}
	text, err := workflow.Encode(doc)
	if err != nil {
		return ConversionResult{}, err
	}
	if skipped == nil {
		skipped = []block.Skipped{}
	}
	log.Ctx(ctx).Debug().Int("skipped", len(skipped)).Msg("blocks converted")
	return ConversionResult{Document: doc.Tree(), YAML: text, Skipped: skipped}, nil
}

// ParseWorkflow runs the reverse conversion on stored workflow text.
func (s *Service) ParseWorkflow(_ context.Context, text string) ([]block.Block, error) {
	return workflow.ParseYAML(text)
}

type PipelineRequest struct {
	Owner                string          `json:"owner"`
	Repo                 string          `json:"repo"`
	WorkflowName         string          `json:"workflowName"`
	OriginalWorkflowName string          `json:"originalWorkflowName,omitempty"`
	Blocks               json.RawMessage `json:"blocks"`
}

type Pipeline struct {
	Owner        string          `json:"owner"`
	Repo         string          `json:"repo"`
	WorkflowName string          `json:"workflowName"`
	Path         string          `json:"path"`
	YAML         string          `json:"yaml"`
	Blocks       []block.Block   `json:"blocks"`
	Skipped      []block.Skipped `json:"skipped,omitempty"`
}

var workflowNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

func (s *Service) location(owner, repo, name string) (content.Location, error) {
	owner, repo, name = strings.TrimSpace(owner), strings.TrimSpace(repo), strings.TrimSpace(name)
	if owner == "" || repo == "" {
		return content.Location{}, validationError("owner and repo are required", nil)
	}
	if !workflowNamePattern.MatchString(name) || strings.Contains(name, "..") {
		return content.Location{}, validationError("workflowName must be a plain file name without extension", map[string]any{"workflowName": name})
	}
	path := name + ".yml"
	if s.cfg.WorkflowDir != "" {
		path = s.cfg.WorkflowDir + "/" + path
	}
	loc := content.Location{Owner: owner, Repo: repo, Path: path}
	if err := loc.Validate(); err != nil {
		return content.Location{}, validationError(err.Error(), nil)
	}
	return loc, nil
}

func (s *Service) contentStore(token string) (content.Store, error) {
	if s.content == nil {
		return nil, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Workflow storage is not configured", nil)
	}
	return s.content(token)
}

// render converts the request blocks to stored text and to the normalized
// block list the text decodes back to.
func render(raw json.RawMessage) (string, []block.Block, []block.Skipped, error) {
	if len(raw) == 0 {
		return "", nil, nil, validationError("blocks are required", nil)
	}
	doc, skipped, err := workflow.ConvertBlocks(raw)
	if err != nil {
		return "", nil, nil, err
	}
	text, err := workflow.Encode(doc)
	if err != nil {
		return "", nil, nil, err
	}
	return text, workflow.Reverse(doc), skipped, nil
}

func (s *Service) CreatePipeline(ctx context.Context, req PipelineRequest, token string) (Pipeline, error) {
	loc, err := s.location(req.Owner, req.Repo, req.WorkflowName)
	if err != nil {
		return Pipeline{}, err
	}
	text, blocks, skipped, err := render(req.Blocks)
	if err != nil {
		return Pipeline{}, err
	}
	files, err := s.contentStore(token)
	if err != nil {
		return Pipeline{}, err
	}
	if err := files.Create(ctx, loc, text, "Add workflow: "+req.WorkflowName); err != nil {
		return Pipeline{}, err
	}

	s.record(ctx, loc, req.WorkflowName, blocks, text)
	log.Ctx(ctx).Info().Str("location", loc.String()).Msg("pipeline created")
	return Pipeline{
		Owner: loc.Owner, Repo: loc.Repo, WorkflowName: req.WorkflowName, Path: loc.Path,
		YAML: text, Blocks: blocks, Skipped: skipped,
	}, nil
}

func (s *Service) GetPipeline(ctx context.Context, owner, repo, name, token string) (Pipeline, error) {
	loc, err := s.location(owner, repo, name)
	if err != nil {
		return Pipeline{}, err
	}
	files, err := s.contentStore(token)
	if err != nil {
		return Pipeline{}, err
	}
	text, err := files.Read(ctx, loc)
	if err != nil {
		return Pipeline{}, err
	}
	blocks, err := workflow.ParseYAML(text)
	if err != nil {
		return Pipeline{}, err
	}
	return Pipeline{Owner: loc.Owner, Repo: loc.Repo, WorkflowName: name, Path: loc.Path, YAML: text, Blocks: blocks}, nil
}

// UpdatePipeline rewrites an existing workflow. When OriginalWorkflowName
// names a different file the workflow is renamed: the new file is created
// and the old one deleted.
func (s *Service) UpdatePipeline(ctx context.Context, req PipelineRequest, token string) (Pipeline, error) {
	loc, err := s.location(req.Owner, req.Repo, req.WorkflowName)
	if err != nil {
		return Pipeline{}, err
	}
	text, blocks, skipped, err := render(req.Blocks)
	if err != nil {
		return Pipeline{}, err
	}
	files, err := s.contentStore(token)
	if err != nil {
		return Pipeline{}, err
	}

	original := strings.TrimSpace(req.OriginalWorkflowName)
	if original == "" || original == req.WorkflowName {
		if err := files.Update(ctx, loc, text, "Update workflow: "+req.WorkflowName); err != nil {
			return Pipeline{}, err
		}
	} else {
		oldLoc, err := s.location(req.Owner, req.Repo, original)
		if err != nil {
			return Pipeline{}, err
		}
		exists, err := files.Exists(ctx, oldLoc)
		if err != nil {
			return Pipeline{}, err
		}
		if !exists {
			return Pipeline{}, content.ErrNotFound
		}
		if err := files.Create(ctx, loc, text, "Update workflow: "+req.WorkflowName); err != nil {
			return Pipeline{}, err
		}
		if err := files.Delete(ctx, oldLoc, "Delete workflow: "+original); err != nil {
			s.undoCreate(ctx, files, loc, req.WorkflowName)
			return Pipeline{}, fmt.Errorf("remove renamed workflow %s: %w", original, err)
		}
		s.forget(ctx, oldLoc, original)
		log.Ctx(ctx).Info().Str("from", original).Str("to", req.WorkflowName).Msg("pipeline renamed")
	}

	s.record(ctx, loc, req.WorkflowName, blocks, text)
	return Pipeline{
		Owner: loc.Owner, Repo: loc.Repo, WorkflowName: req.WorkflowName, Path: loc.Path,
		YAML: text, Blocks: blocks, Skipped: skipped,
	}, nil
}

func (s *Service) DeletePipeline(ctx context.Context, owner, repo, name, token string) error {
	loc, err := s.location(owner, repo, name)
	if err != nil {
		return err
	}
	files, err := s.contentStore(token)
	if err != nil {
		return err
	}
	if err := files.Delete(ctx, loc, "Delete workflow: "+name); err != nil {
		return err
	}
	s.forget(ctx, loc, name)
	return nil
}

// undoCreate removes a file created by a rename whose second half failed.
// When that fails too both files remain and the new one is logged.
func (s *Service) undoCreate(ctx context.Context, files content.Store, loc content.Location, name string) {
	if err := files.Delete(ctx, loc, "Revert workflow rename: "+name); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("location", loc.String()).Msg("renamed workflow left in place")
	}
}

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// PipelineHistory lists commit messages for the workflow file, newest first.
func (s *Service) PipelineHistory(ctx context.Context, owner, repo, name, token string, limit int) ([]string, error) {
	loc, err := s.location(owner, repo, name)
	if err != nil {
		return nil, err
	}
	files, err := s.contentStore(token)
	if err != nil {
		return nil, err
	}
	historian, ok := files.(content.Historian)
	if !ok {
		return nil, domainError(http.StatusNotImplemented, "HISTORY_UNAVAILABLE", "Workflow storage keeps no history", nil)
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	messages, err := historian.History(ctx, loc, limit)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []string{}
	}
	return messages, nil
}

// record keeps the last saved blocks next to the file. Failures are logged:
// the file is the source of truth.
func (s *Service) record(ctx context.Context, loc content.Location, name string, blocks []block.Block, text string) {
	raw, err := json.Marshal(blocks)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("encode pipeline record")
		return
	}
	_, err = s.store.SavePipelineRecord(ctx, store.PipelineRecord{
		Owner: loc.Owner, Repo: loc.Repo, WorkflowName: name, Blocks: raw, YAML: text,
	})
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("location", loc.String()).Msg("save pipeline record")
	}
}

func (s *Service) forget(ctx context.Context, loc content.Location, name string) {
	if err := s.store.DeletePipelineRecord(ctx, loc.Owner, loc.Repo, name); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("location", loc.String()).Msg("delete pipeline record")
	}
}

// GetPipelineRecord returns the blocks and text last saved through this
// service. The file itself may have changed since.
func (s *Service) GetPipelineRecord(ctx context.Context, owner, repo, name string) (store.PipelineRecord, error) {
	loc, err := s.location(owner, repo, name)
	if err != nil {
		return store.PipelineRecord{}, err
	}
	return s.store.GetPipelineRecord(ctx, loc.Owner, loc.Repo, name)
}

type PipelinePresetView struct {
	ID          int64         `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Blocks      []block.Block `json:"blocks"`
}

func (s *Service) ListBlockPresets(ctx context.Context) ([]block.Block, error) {
	presets, err := s.store.ListBlockPresets(ctx)
	if err != nil {
		return nil, err
	}
	return presetBlocks(presets)
}

func (s *Service) ListPipelinePresets(ctx context.Context) ([]PipelinePresetView, error) {
	pipelines, err := s.store.ListPipelinePresets(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]PipelinePresetView, 0, len(pipelines))
	for _, p := range pipelines {
		blocks, err := presetBlocks(p.Blocks)
		if err != nil {
			return nil, err
		}
		out = append(out, PipelinePresetView{ID: p.ID, Name: p.Name, Description: p.Description, Blocks: blocks})
	}
	return out, nil
}

type PresetSearchResult struct {
	Results []block.Block `json:"results"`
	Total   int           `json:"total"`
	Query   string        `json:"query"`
	Source  string        `json:"source"`
}

func (s *Service) SearchPresets(ctx context.Context, q search.Query) (PresetSearchResult, error) {
	if q.Type != "" {
		switch block.Kind(q.Type) {
		case block.KindTrigger, block.KindJob, block.KindStep:
		default:
			return PresetSearchResult{}, validationError("type must be trigger, job or step", nil)
		}
	}
	if s.search == nil {
		return PresetSearchResult{Results: []block.Block{}, Query: q.Text}, nil
	}
	resp := s.search.Search(ctx, q)
	presets := make([]store.BlockPreset, 0, len(resp.Results))
	for _, r := range resp.Results {
		presets = append(presets, r.Preset())
	}
	blocks, err := presetBlocks(presets)
	if err != nil {
		return PresetSearchResult{}, err
	}
	return PresetSearchResult{Results: blocks, Total: resp.Total, Query: resp.Query, Source: resp.Source}, nil
}

func presetBlocks(presets []store.BlockPreset) ([]block.Block, error) {
	blocks := make([]block.Block, 0, len(presets))
	for _, p := range presets {
		b, err := p.Block()
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}
