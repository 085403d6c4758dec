package content

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipemate/api/internal/githubapi"
)

var wfLoc = Location{Owner: "acme", Repo: "app", Path: ".github/workflows/ci.yml"}

func TestLocationValidate(t *testing.T) {
	assert.NoError(t, wfLoc.Validate())
	assert.Equal(t, "acme/app:.github/workflows/ci.yml", wfLoc.String())

	for _, loc := range []Location{
		{Owner: "", Repo: "app", Path: "a.yml"},
		{Owner: "acme", Repo: " ", Path: "a.yml"},
		{Owner: "a/b", Repo: "app", Path: "a.yml"},
		{Owner: "acme", Repo: "..", Path: "a.yml"},
		{Owner: "acme", Repo: "app", Path: ""},
		{Owner: "acme", Repo: "app", Path: "../x.yml"},
		{Owner: "acme", Repo: "app", Path: "a//b.yml"},
	} {
		assert.Error(t, loc.Validate(), loc.String())
	}
}

func TestGitRepoLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewGitRepo(t.TempDir(), "pipemate", "pipemate@localhost")

	_, err := store.Read(ctx, wfLoc)
	assert.ErrorIs(t, err, ErrNotFound)
	exists, err := store.Exists(ctx, wfLoc)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.Create(ctx, wfLoc, "name: CI\n", "Add workflow: ci"))
	assert.ErrorIs(t, store.Create(ctx, wfLoc, "name: CI\n", "Add workflow: ci"), ErrAlreadyExists)

	text, err := store.Read(ctx, wfLoc)
	require.NoError(t, err)
	assert.Equal(t, "name: CI\n", text)

	require.NoError(t, store.Update(ctx, wfLoc, "name: CI 2\n", "Update workflow: ci"))
	text, err = store.Read(ctx, wfLoc)
	require.NoError(t, err)
	assert.Equal(t, "name: CI 2\n", text)

	other := wfLoc
	other.Path = ".github/workflows/other.yml"
	assert.ErrorIs(t, store.Update(ctx, other, "x", "Update workflow: other"), ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, other, "Delete workflow: other"), ErrNotFound)

	require.NoError(t, store.Delete(ctx, wfLoc, "Delete workflow: ci"))
	_, err = store.Read(ctx, wfLoc)
	assert.ErrorIs(t, err, ErrNotFound)

	history, err := store.History(ctx, wfLoc, 10)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	assert.Equal(t, "Delete workflow: ci", history[0])
	assert.Contains(t, history, "Update workflow: ci")
}

func TestGitRepoConcurrentCreates(t *testing.T) {
	ctx := context.Background()
	store := NewGitRepo(t.TempDir(), "pipemate", "pipemate@localhost")

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.Create(ctx, wfLoc, "name: CI\n", "Add workflow: ci")
		}()
	}
	wg.Wait()
	close(errs)

	created := 0
	for err := range errs {
		if err == nil {
			created++
			continue
		}
		assert.ErrorIs(t, err, ErrAlreadyExists)
	}
	assert.Equal(t, 1, created)
}

type contentsFake struct {
	mu      sync.Mutex
	files   map[string]string
	commits []string
}

func (f *contentsFake) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		const prefix = "/repos/acme/app/contents/"
		require.Contains(t, r.URL.Path, prefix)
		path := r.URL.Path[len(prefix):]
		w.Header().Set("Content-Type", "application/json")

		body, ok := f.files[path]
		if r.Method == http.MethodGet {
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"message":"Not Found"}`))
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"type": "file", "encoding": "base64", "path": path, "sha": "sha-" + path,
				"content": base64.StdEncoding.EncodeToString([]byte(body)),
			})
			return
		}

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.commits = append(f.commits, req["message"].(string))
		switch r.Method {
		case http.MethodPut:
			if ok {
				assert.Equal(t, "sha-"+path, req["sha"])
			}
			raw, err := base64.StdEncoding.DecodeString(req["content"].(string))
			require.NoError(t, err)
			f.files[path] = string(raw)
			w.WriteHeader(http.StatusCreated)
		case http.MethodDelete:
			assert.Equal(t, "sha-"+path, req["sha"])
			delete(f.files, path)
		}
		_, _ = w.Write([]byte(`{}`))
	})
}

func TestGitHubStore(t *testing.T) {
	ctx := context.Background()
	fake := &contentsFake{files: map[string]string{}}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	gh, err := githubapi.NewGitHubClient("token", srv.URL)
	require.NoError(t, err)
	store := NewGitHub(gh)

	exists, err := store.Exists(ctx, wfLoc)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.ErrorIs(t, store.Update(ctx, wfLoc, "x", "Update workflow: ci"), ErrNotFound)

	require.NoError(t, store.Create(ctx, wfLoc, "name: CI\n", "Add workflow: ci"))
	assert.ErrorIs(t, store.Create(ctx, wfLoc, "name: CI\n", "Add workflow: ci"), ErrAlreadyExists)

	text, err := store.Read(ctx, wfLoc)
	require.NoError(t, err)
	assert.Equal(t, "name: CI\n", text)

	require.NoError(t, store.Update(ctx, wfLoc, "name: CI 2\n", "Update workflow: ci"))
	assert.Equal(t, "name: CI 2\n", fake.files[wfLoc.Path])

	require.NoError(t, store.Delete(ctx, wfLoc, "Delete workflow: ci"))
	assert.Empty(t, fake.files)
	assert.Equal(t, []string{"Add workflow: ci", "Update workflow: ci", "Delete workflow: ci"}, fake.commits)
}

func TestGitHubHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/app/commits", r.URL.Path)
		assert.Equal(t, wfLoc.Path, r.URL.Query().Get("path"))
		assert.Equal(t, "5", r.URL.Query().Get("per_page"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"sha":"b","commit":{"message":"Update workflow: ci"}},{"sha":"a","commit":{"message":"Add workflow: ci"}}]`))
	}))
	t.Cleanup(srv.Close)

	gh, err := githubapi.NewGitHubClient("token", srv.URL)
	require.NoError(t, err)

	var store Store = NewGitHub(gh)
	historian, ok := store.(Historian)
	require.True(t, ok)
	history, err := historian.History(context.Background(), wfLoc, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"Update workflow: ci", "Add workflow: ci"}, history)
}

func TestObjectStoreKeepsNoHistory(t *testing.T) {
	var store Store = &ObjectStore{}
	_, ok := store.(Historian)
	assert.False(t, ok)
}

func TestObjectKeyAndErrorMapping(t *testing.T) {
	assert.Equal(t, "acme/app/.github/workflows/ci.yml", objectKey(wfLoc))

	notFound := minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound}
	assert.ErrorIs(t, mapObjectError(wfLoc, notFound), ErrNotFound)

	denied := minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}
	err := mapObjectError(wfLoc, denied)
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "acme/app")
}

func TestStaticProvider(t *testing.T) {
	store := NewGitRepo(t.TempDir(), "a", "b")
	got, err := Static(store)("any-token")
	require.NoError(t, err)
	assert.Same(t, store, got)
}
