package app

import (
	"context"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"pipemate/api/internal/cache"
	"pipemate/api/internal/githubapi"
)

type gitHubAPI interface {
	ListWorkflows(ctx context.Context, owner, repo string) (githubapi.WorkflowList, error)
	GetWorkflow(ctx context.Context, owner, repo string, workflowID int64) (githubapi.Workflow, error)
	ListRuns(ctx context.Context, owner, repo string, filter githubapi.RunFilter) (githubapi.RunList, error)
	GetRun(ctx context.Context, owner, repo string, runID int64) (githubapi.Run, error)
	ListJobs(ctx context.Context, owner, repo string, runID int64) ([]githubapi.Job, error)
	GetJob(ctx context.Context, owner, repo string, jobID int64) (githubapi.Job, error)
	RunLogs(ctx context.Context, owner, repo string, runID int64) (string, error)
	Dispatch(ctx context.Context, owner, repo, fileName, ref string, inputs map[string]any) error
	CancelRun(ctx context.Context, owner, repo string, runID int64) error
	ListSecrets(ctx context.Context, owner, repo string) ([]githubapi.Secret, error)
	PublicKey(ctx context.Context, owner, repo string) (githubapi.PublicKey, error)
	PutSecret(ctx context.Context, owner, repo, name, value string, key githubapi.PublicKey) error
	DeleteSecret(ctx context.Context, owner, repo, name string) error
}

type gitHubFactory func(token string) (gitHubAPI, error)

func defaultGitHubFactory(baseURL string) gitHubFactory {
	return func(token string) (gitHubAPI, error) {
		gh, err := githubapi.NewGitHubClient(token, baseURL)
		if err != nil {
			return nil, err
		}
		return githubapi.New(gh), nil
	}
}

// RepoRef names a repository on behalf of one caller.
type RepoRef struct {
	Owner string
	Repo  string
	Token string
}

func (r RepoRef) validate() error {
	if strings.TrimSpace(r.Token) == "" {
		return unauthorizedError("GitHub token required")
	}
	if strings.TrimSpace(r.Owner) == "" || strings.TrimSpace(r.Repo) == "" {
		return validationError("owner and repo are required", nil)
	}
	return nil
}

func (s *Service) client(ref RepoRef) (gitHubAPI, error) {
	if err := ref.validate(); err != nil {
		return nil, err
	}
	return s.github(ref.Token)
}

func (s *Service) cacheKey(name string, ref RepoRef, ids ...string) string {
	parts := append([]string{name, cache.TokenKey(ref.Token), ref.Owner, ref.Repo}, ids...)
	return cache.Key(parts...)
}

func (s *Service) ListWorkflows(ctx context.Context, ref RepoRef) (githubapi.WorkflowList, error) {
	gh, err := s.client(ref)
	if err != nil {
		return githubapi.WorkflowList{}, err
	}
	return cache.Remember(ctx, s.cache, s.cacheKey(cache.WorkflowFileList, ref), s.cfg.CacheTTL, func() (githubapi.WorkflowList, error) {
		return gh.ListWorkflows(ctx, ref.Owner, ref.Repo)
	})
}

func (s *Service) GetWorkflow(ctx context.Context, ref RepoRef, workflowID int64) (githubapi.Workflow, error) {
	gh, err := s.client(ref)
	if err != nil {
		return githubapi.Workflow{}, err
	}
	return gh.GetWorkflow(ctx, ref.Owner, ref.Repo, workflowID)
}

func (s *Service) ListRuns(ctx context.Context, ref RepoRef, filter githubapi.RunFilter) (githubapi.RunList, error) {
	gh, err := s.client(ref)
	if err != nil {
		return githubapi.RunList{}, err
	}
	return gh.ListRuns(ctx, ref.Owner, ref.Repo, filter)
}

func (s *Service) GetRun(ctx context.Context, ref RepoRef, runID int64) (githubapi.Run, error) {
	gh, err := s.client(ref)
	if err != nil {
		return githubapi.Run{}, err
	}
	key := s.cacheKey(cache.WorkflowRunDetail, ref, strconv.FormatInt(runID, 10))
	return cache.Remember(ctx, s.cache, key, s.cfg.CacheTTL, func() (githubapi.Run, error) {
		return gh.GetRun(ctx, ref.Owner, ref.Repo, runID)
	})
}

func (s *Service) ListJobs(ctx context.Context, ref RepoRef, runID int64) ([]githubapi.Job, error) {
	gh, err := s.client(ref)
	if err != nil {
		return nil, err
	}
	return gh.ListJobs(ctx, ref.Owner, ref.Repo, runID)
}

func (s *Service) GetJob(ctx context.Context, ref RepoRef, jobID int64) (githubapi.Job, error) {
	gh, err := s.client(ref)
	if err != nil {
		return githubapi.Job{}, err
	}
	return gh.GetJob(ctx, ref.Owner, ref.Repo, jobID)
}

func (s *Service) RunLogs(ctx context.Context, ref RepoRef, runID int64) (string, error) {
	gh, err := s.client(ref)
	if err != nil {
		return "", err
	}
	key := s.cacheKey(cache.WorkflowRunLog, ref, strconv.FormatInt(runID, 10))
	return cache.Remember(ctx, s.cache, key, s.cfg.CacheTTL, func() (string, error) {
		return gh.RunLogs(ctx, ref.Owner, ref.Repo, runID)
	})
}

func (s *Service) Dispatch(ctx context.Context, ref RepoRef, fileName, gitRef string) error {
	if strings.TrimSpace(fileName) == "" || strings.TrimSpace(gitRef) == "" {
		return validationError("workflow file and ref are required", nil)
	}
	gh, err := s.client(ref)
	if err != nil {
		return err
	}
	if err := gh.Dispatch(ctx, ref.Owner, ref.Repo, fileName, gitRef, nil); err != nil {
		return err
	}
	log.Ctx(ctx).Info().Str("owner", ref.Owner).Str("repo", ref.Repo).Str("workflow", fileName).Str("ref", gitRef).Msg("workflow dispatched")
	return nil
}

func (s *Service) CancelRun(ctx context.Context, ref RepoRef, runID int64) error {
	gh, err := s.client(ref)
	if err != nil {
		return err
	}
	if err := gh.CancelRun(ctx, ref.Owner, ref.Repo, runID); err != nil {
		return err
	}
	s.evict(ctx, s.cacheKey(cache.WorkflowRunDetail, ref, strconv.FormatInt(runID, 10)))
	return nil
}

func (s *Service) ListSecrets(ctx context.Context, ref RepoRef) ([]githubapi.Secret, error) {
	gh, err := s.client(ref)
	if err != nil {
		return nil, err
	}
	return cache.Remember(ctx, s.cache, s.cacheKey(cache.SecretKeyList, ref), s.cfg.CacheTTL, func() ([]githubapi.Secret, error) {
		return gh.ListSecrets(ctx, ref.Owner, ref.Repo)
	})
}

func (s *Service) GroupedSecrets(ctx context.Context, ref RepoRef) (map[string][]githubapi.Secret, error) {
	secrets, err := s.ListSecrets(ctx, ref)
	if err != nil {
		return nil, err
	}
	return githubapi.GroupSecrets(secrets), nil
}

func (s *Service) PublicKey(ctx context.Context, ref RepoRef) (githubapi.PublicKey, error) {
	gh, err := s.client(ref)
	if err != nil {
		return githubapi.PublicKey{}, err
	}
	return s.publicKey(ctx, gh, ref)
}

func (s *Service) publicKey(ctx context.Context, gh gitHubAPI, ref RepoRef) (githubapi.PublicKey, error) {
	return cache.Remember(ctx, s.cache, s.cacheKey(cache.RepoPublicKey, ref), s.cfg.CacheTTL, func() (githubapi.PublicKey, error) {
		return gh.PublicKey(ctx, ref.Owner, ref.Repo)
	})
}

// PutSecret encrypts value with the repository key. A rejected write drops
// the cached key so a rotated key is fetched on the next attempt.
func (s *Service) PutSecret(ctx context.Context, ref RepoRef, name, value string) error {
	if strings.TrimSpace(name) == "" {
		return validationError("secret name is required", nil)
	}
	gh, err := s.client(ref)
	if err != nil {
		return err
	}
	key, err := s.publicKey(ctx, gh, ref)
	if err != nil {
		return err
	}
	if err := gh.PutSecret(ctx, ref.Owner, ref.Repo, name, value, key); err != nil {
		s.evict(ctx, s.cacheKey(cache.RepoPublicKey, ref))
		return err
	}
	s.evict(ctx, s.cacheKey(cache.SecretKeyList, ref))
	log.Ctx(ctx).Info().Str("owner", ref.Owner).Str("repo", ref.Repo).Str("secret", name).Msg("secret saved")
	return nil
}

func (s *Service) DeleteSecret(ctx context.Context, ref RepoRef, name string) error {
	gh, err := s.client(ref)
	if err != nil {
		return err
	}
	if err := gh.DeleteSecret(ctx, ref.Owner, ref.Repo, name); err != nil {
		return err
	}
	s.evict(ctx, s.cacheKey(cache.SecretKeyList, ref))
	return nil
}

func (s *Service) evict(ctx context.Context, keys ...string) {
	if err := s.cache.Delete(ctx, keys...); err != nil {
		log.Ctx(ctx).Warn().Err(err).Strs("keys", keys).Msg("cache evict failed")
	}
}
