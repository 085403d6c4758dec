package content

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/go-github/v53/github"

	"pipemate/api/internal/githubapi"
)

// GitHub stores files through the repository contents API. Every write is a
// commit on the default branch made as the token's user.
type GitHub struct {
	client *github.Client
}

func NewGitHub(client *github.Client) *GitHub {
	return &GitHub{client: client}
}

// GitHubProvider builds a GitHub store per caller token.
func GitHubProvider(baseURL string) Provider {
	return func(token string) (Store, error) {
		client, err := githubapi.NewGitHubClient(token, baseURL)
		if err != nil {
			return nil, err
		}
		return NewGitHub(client), nil
	}
}

func (s *GitHub) Read(ctx context.Context, loc Location) (string, error) {
	file, err := s.get(ctx, loc)
	if err != nil {
		return "", err
	}
	text, err := file.GetContent()
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", loc, err)
	}
	return text, nil
}

func (s *GitHub) Exists(ctx context.Context, loc Location) (bool, error) {
	_, err := s.get(ctx, loc)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *GitHub) Create(ctx context.Context, loc Location, body, message string) error {
	exists, err := s.Exists(ctx, loc)
	if err != nil {
		return err
	}
	if exists {
		return ErrAlreadyExists
	}
	_, _, err = s.client.Repositories.CreateFile(ctx, loc.Owner, loc.Repo, loc.Path, &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: []byte(body),
	})
	if err != nil {
		if githubapi.IsConflict(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create %s: %w", loc, err)
	}
	return nil
}

func (s *GitHub) Update(ctx context.Context, loc Location, body, message string) error {
	file, err := s.get(ctx, loc)
	if err != nil {
		return err
	}
	_, _, err = s.client.Repositories.UpdateFile(ctx, loc.Owner, loc.Repo, loc.Path, &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: []byte(body),
		SHA:     github.String(file.GetSHA()),
	})
	if err != nil {
		return fmt.Errorf("update %s: %w", loc, err)
	}
	return nil
}

func (s *GitHub) Delete(ctx context.Context, loc Location, message string) error {
	file, err := s.get(ctx, loc)
	if err != nil {
		return err
	}
	_, _, err = s.client.Repositories.DeleteFile(ctx, loc.Owner, loc.Repo, loc.Path, &github.RepositoryContentFileOptions{
		Message: github.String(message),
		SHA:     github.String(file.GetSHA()),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", loc, err)
	}
	return nil
}

// History lists the commit messages that touched the file, newest first.
func (s *GitHub) History(ctx context.Context, loc Location, limit int) ([]string, error) {
	opts := &github.CommitsListOptions{Path: loc.Path}
	if limit > 0 {
		opts.PerPage = limit
	}
	commits, _, err := s.client.Repositories.ListCommits(ctx, loc.Owner, loc.Repo, opts)
	if err != nil {
		if githubapi.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("list commits %s: %w", loc, err)
	}
	messages := make([]string, 0, len(commits))
	for _, c := range commits {
		messages = append(messages, c.GetCommit().GetMessage())
	}
	return messages, nil
}

func (s *GitHub) get(ctx context.Context, loc Location) (*github.RepositoryContent, error) {
	file, _, _, err := s.client.Repositories.GetContents(ctx, loc.Owner, loc.Repo, loc.Path, nil)
	if err != nil {
		if githubapi.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", loc, err)
	}
	if file == nil {
		// the path is a directory
		return nil, ErrNotFound
	}
	return file, nil
}
