// Package content stores workflow files. Backends are the GitHub contents
// API, local git repositories and an S3 compatible bucket.
package content

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	ErrNotFound      = errors.New("file not found")
	ErrAlreadyExists = errors.New("file already exists")
)

// Location addresses one file inside one repository.
type Location struct {
	Owner string
	Repo  string
	Path  string
}

func (l Location) String() string {
	return l.Owner + "/" + l.Repo + ":" + l.Path
}

func (l Location) Validate() error {
	if strings.TrimSpace(l.Owner) == "" || strings.TrimSpace(l.Repo) == "" {
		return fmt.Errorf("owner and repo are required")
	}
	if strings.Contains(l.Owner, "/") || strings.Contains(l.Repo, "/") || l.Owner == ".." || l.Repo == ".." {
		return fmt.Errorf("invalid owner or repo")
	}
	clean := path.Clean("/" + l.Path)
	if l.Path == "" || clean == "/" || clean[1:] != strings.TrimPrefix(l.Path, "/") {
		return fmt.Errorf("invalid path %q", l.Path)
	}
	return nil
}

// Store reads and writes files. Create fails with ErrAlreadyExists when the
// file is present; Update and Delete fail with ErrNotFound when it is not.
// The message is used as the commit message where the backend keeps history.
type Store interface {
	Read(ctx context.Context, loc Location) (string, error)
	Exists(ctx context.Context, loc Location) (bool, error)
	Create(ctx context.Context, loc Location, body, message string) error
	Update(ctx context.Context, loc Location, body, message string) error
	Delete(ctx context.Context, loc Location, message string) error
}

// Historian is implemented by backends that keep a commit log per file.
type Historian interface {
	History(ctx context.Context, loc Location, limit int) ([]string, error)
}

// Provider returns a Store acting with the caller's token. Backends that do
// not authenticate per caller ignore it.
type Provider func(token string) (Store, error)

// Static adapts a shared Store to a Provider.
func Static(store Store) Provider {
	return func(string) (Store, error) {
		return store, nil
	}
}
