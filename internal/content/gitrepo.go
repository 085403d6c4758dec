package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const defaultBranch = "main"

// GitRepo keeps one local git repository per owner/repo under baseDir. Each
// write is a commit on main.
type GitRepo struct {
	baseDir string
	author  string
	email   string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewGitRepo(baseDir, author, email string) *GitRepo {
	return &GitRepo{
		baseDir: baseDir,
		author:  author,
		email:   email,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (s *GitRepo) Read(_ context.Context, loc Location) (string, error) {
	unlock := s.lock(loc)
	defer unlock()

	repo, err := s.open(loc)
	if err != nil {
		return "", err
	}
	return readHeadFile(repo, loc.Path)
}

func (s *GitRepo) Exists(ctx context.Context, loc Location) (bool, error) {
	_, err := s.Read(ctx, loc)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *GitRepo) Create(_ context.Context, loc Location, body, message string) error {
	unlock := s.lock(loc)
	defer unlock()

	repo, err := s.ensureRepo(loc)
	if err != nil {
		return err
	}
	if _, err := readHeadFile(repo, loc.Path); err == nil {
		return ErrAlreadyExists
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	return s.commitFile(repo, loc.Path, body, message)
}

func (s *GitRepo) Update(_ context.Context, loc Location, body, message string) error {
	unlock := s.lock(loc)
	defer unlock()

	repo, err := s.open(loc)
	if err != nil {
		return err
	}
	if _, err := readHeadFile(repo, loc.Path); err != nil {
		return err
	}
	return s.commitFile(repo, loc.Path, body, message)
}

func (s *GitRepo) Delete(_ context.Context, loc Location, message string) error {
	unlock := s.lock(loc)
	defer unlock()

	repo, err := s.open(loc)
	if err != nil {
		return err
	}
	if _, err := readHeadFile(repo, loc.Path); err != nil {
		return err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	if _, err := worktree.Remove(filepath.ToSlash(loc.Path)); err != nil {
		return fmt.Errorf("git rm %s: %w", loc.Path, err)
	}
	return s.commit(worktree, message)
}

// History returns the commit messages that touched the file, newest first.
func (s *GitRepo) History(_ context.Context, loc Location, limit int) ([]string, error) {
	unlock := s.lock(loc)
	defer unlock()

	repo, err := s.open(loc)
	if err != nil {
		return nil, err
	}
	head, err := repo.Head()
	if err != nil {
		return nil, ErrNotFound
	}
	fileName := filepath.ToSlash(loc.Path)
	iter, err := repo.Log(&git.LogOptions{From: head.Hash(), FileName: &fileName})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	var messages []string
	err = iter.ForEach(func(commit *object.Commit) error {
		messages = append(messages, commit.Message)
		if limit > 0 && len(messages) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return messages, nil
}

func (s *GitRepo) repoPath(loc Location) string {
	return filepath.Join(s.baseDir, loc.Owner, loc.Repo)
}

func (s *GitRepo) lock(loc Location) func() {
	key := loc.Owner + "/" + loc.Repo
	s.lockMu.Lock()
	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	s.lockMu.Unlock()

	lock.Lock()
	return lock.Unlock
}

func (s *GitRepo) open(loc Location) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(loc))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (s *GitRepo) ensureRepo(loc Location) (*git.Repository, error) {
	repo, err := s.open(loc)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	path := s.repoPath(loc)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(defaultBranch))
	if err := repo.Storer.SetReference(head); err != nil {
		return nil, fmt.Errorf("set HEAD to %s: %w", defaultBranch, err)
	}
	return repo, nil
}

func (s *GitRepo) commitFile(repo *git.Repository, path, body, message string) error {
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	full := filepath.Join(worktree.Filesystem.Root(), path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}
	if err := os.WriteFile(full, []byte(body), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if _, err := worktree.Add(filepath.ToSlash(path)); err != nil {
		return fmt.Errorf("git add %s: %w", path, err)
	}
	return s.commit(worktree, message)
}

func (s *GitRepo) commit(worktree *git.Worktree, message string) error {
	_, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  s.author,
			Email: s.email,
			When:  time.Now(),
		},
		AllowEmptyCommits: true,
	})
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func readHeadFile(repo *git.Repository, path string) (string, error) {
	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return "", fmt.Errorf("load commit object: %w", err)
	}
	file, err := commit.File(filepath.ToSlash(path))
	if errors.Is(err, object.ErrFileNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load %s from commit: %w", path, err)
	}
	text, err := file.Contents()
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return text, nil
}
