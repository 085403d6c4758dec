package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog/log"
)

const idxBlocks = "pipemate_blocks"

// Meili searches preset blocks in Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the preset index.
// An unreachable server is not an error: the health loop picks it up later.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Warn().Err(err).Str("url", url).Msg("meilisearch unavailable")
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxBlocks,
		PrimaryKey: "id",
	}); err != nil {
		log.Debug().Err(err).Str("index", idxBlocks).Msg("create index (may already exist)")
	}

	index := m.client.Index(idxBlocks)
	filterable := []interface{}{"type", "domain"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Warn().Err(err).Str("index", idxBlocks).Msg("update filterable attributes")
	}
	searchable := []string{"name", "description", "domain", "task"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Warn().Err(err).Str("index", idxBlocks).Msg("update searchable attributes")
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Info().Msg("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(_ context.Context, q Query) ([]Record, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	sr := &meili.SearchRequest{
		IndexUID: idxBlocks,
		Query:    q.Text,
		Limit:    int64(q.limit()),
	}
	if q.Type != "" {
		sr.Filter = []string{fmt.Sprintf("type = %q", q.Type)}
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{sr},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	var (
		results []Record
		total   int
	)
	for _, res := range resp.Results {
		total += int(res.EstimatedTotalHits)
		for _, hit := range res.Hits {
			record, err := hitToRecord(hit)
			if err != nil {
				log.Warn().Err(err).Msg("skip undecodable search hit")
				continue
			}
			results = append(results, record)
		}
	}
	return results, total, nil
}

func hitToRecord(hit meili.Hit) (Record, error) {
	raw, err := json.Marshal(hit)
	if err != nil {
		return Record{}, err
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return Record{}, fmt.Errorf("decode hit: %w", err)
	}
	if record.Task == nil {
		record.Task = []string{}
	}
	return record, nil
}

// IndexBlocks adds or replaces records in the preset index.
func (m *Meili) IndexBlocks(records []Record) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxBlocks).AddDocuments(records, nil)
	return err
}
