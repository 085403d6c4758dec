package search

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipemate/api/internal/block"
	"pipemate/api/internal/store"
)

type fakeEngine struct {
	healthy   bool
	results   []Record
	total     int
	err       error
	queries   []Query
	indexed   []Record
	indexErr  error
	loadErr   error
	loadCalls int
}

func (f *fakeEngine) Search(_ context.Context, q Query) ([]Record, int, error) {
	f.queries = append(f.queries, q)
	return f.results, f.total, f.err
}

func (f *fakeEngine) Healthy() bool { return f.healthy }

func (f *fakeEngine) IndexBlocks(records []Record) error {
	f.indexed = append(f.indexed, records...)
	return f.indexErr
}

func (f *fakeEngine) LoadAllRecords(context.Context) ([]Record, error) {
	f.loadCalls++
	return f.results, f.loadErr
}

func TestSearchPrefersHealthyMeili(t *testing.T) {
	primary := &fakeEngine{healthy: true, results: []Record{{ID: 1, Name: "Checkout"}}, total: 1}
	fallback := &fakeEngine{healthy: true}
	svc := &Service{meili: primary, fallback: fallback}

	resp := svc.Search(context.Background(), Query{Text: "checkout", Type: "step"})
	assert.Equal(t, SourceMeili, resp.Source)
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "checkout", resp.Query)
	assert.Len(t, primary.queries, 1)
	assert.Empty(t, fallback.queries)
}

func TestSearchFallsBackOnMeiliError(t *testing.T) {
	primary := &fakeEngine{healthy: true, err: errors.New("down")}
	fallback := &fakeEngine{results: []Record{{ID: 2}}, total: 1}
	svc := &Service{meili: primary, fallback: fallback}

	resp := svc.Search(context.Background(), Query{Text: "go"})
	assert.Equal(t, SourcePgFTS, resp.Source)
	assert.Equal(t, []Record{{ID: 2}}, resp.Results)
}

func TestSearchSkipsUnhealthyMeili(t *testing.T) {
	primary := &fakeEngine{healthy: false}
	fallback := &fakeEngine{}
	svc := &Service{meili: primary, fallback: fallback}

	resp := svc.Search(context.Background(), Query{Text: "go"})
	assert.Empty(t, primary.queries)
	assert.Equal(t, []Record{}, resp.Results)
}

func TestSearchFallbackErrorYieldsEmptyResponse(t *testing.T) {
	svc := &Service{fallback: &fakeEngine{err: errors.New("db gone")}}
	resp := svc.Search(context.Background(), Query{Text: "go"})
	assert.Equal(t, []Record{}, resp.Results)
	assert.Equal(t, 0, resp.Total)
}

func TestReindexAll(t *testing.T) {
	loader := &fakeEngine{results: []Record{{ID: 1}, {ID: 2}}}
	primary := &fakeEngine{healthy: true}
	svc := &Service{meili: primary, fallback: loader, loader: loader}

	svc.ReindexAll(context.Background())
	assert.Equal(t, []Record{{ID: 1}, {ID: 2}}, primary.indexed)

	primary.healthy = false
	svc.ReindexAll(context.Background())
	assert.Equal(t, 1, loader.loadCalls)

	noMeili := &Service{fallback: loader, loader: loader}
	noMeili.ReindexAll(context.Background())
	assert.Equal(t, 1, loader.loadCalls)
}

func TestQueryLimit(t *testing.T) {
	assert.Equal(t, 20, Query{}.limit())
	assert.Equal(t, 5, Query{Limit: 5}.limit())
	assert.Equal(t, 100, Query{Limit: 1000}.limit())
}

func TestRecordPresetRoundTrip(t *testing.T) {
	preset := store.BlockPreset{
		ID: 7, Type: "step", Name: "Go test", JobName: "build", Domain: "go",
		Config: json.RawMessage(`{"run":"go test ./..."}`),
	}
	record := RecordFromPreset(preset)
	assert.Equal(t, []string{}, record.Task)

	b, err := record.Preset().Block()
	require.NoError(t, err)
	assert.Equal(t, "build", b.(block.Step).JobName)
}

func TestHitToRecord(t *testing.T) {
	hit := map[string]json.RawMessage{
		"id":          json.RawMessage(`3`),
		"type":        json.RawMessage(`"job"`),
		"name":        json.RawMessage(`"Build"`),
		"jobName":     json.RawMessage(`"build"`),
		"config":      json.RawMessage(`{"runs-on":"ubuntu-latest"}`),
		"_formatted":  json.RawMessage(`{"name":"<em>Build</em>"}`),
		"description": json.RawMessage(`"Runs the build"`),
	}
	record, err := hitToRecord(hit)
	require.NoError(t, err)
	assert.Equal(t, int64(3), record.ID)
	assert.Equal(t, "Build", record.Name)
	assert.Equal(t, []string{}, record.Task)
	assert.JSONEq(t, `{"runs-on":"ubuntu-latest"}`, string(record.Config))
}
