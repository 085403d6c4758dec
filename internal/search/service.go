package search

import (
	"context"

	"github.com/rs/zerolog/log"
)

const (
	SourceMeili = "meilisearch"
	SourcePgFTS = "postgres"
)

// Indexer can push preset records into a search index.
type Indexer interface {
	IndexBlocks(records []Record) error
	Healthy() bool
}

// Loader reads every preset record from the system of record.
type Loader interface {
	LoadAllRecords(ctx context.Context) ([]Record, error)
}

type primary interface {
	Searcher
	Indexer
}

// Service tries Meilisearch first and falls back to Postgres full-text search.
type Service struct {
	meili    primary
	fallback Searcher
	loader   Loader
}

// NewService creates a search service. meili may be nil when Meilisearch is
// not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	s := &Service{fallback: pgfts, loader: pgfts}
	if meili != nil {
		s.meili = meili
	}
	return s
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: SourceMeili}
		}
		log.Warn().Err(err).Msg("meilisearch error, falling back to postgres")
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		log.Error().Err(err).Msg("postgres search failed")
		return Response{Results: []Record{}, Total: 0, Query: q.Text, Source: SourcePgFTS}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: SourcePgFTS}
}

// ReindexAll loads every preset block and pushes it to Meilisearch. It is a
// no-op when Meilisearch is absent or unhealthy.
func (s *Service) ReindexAll(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.loader == nil {
		return
	}
	records, err := s.loader.LoadAllRecords(ctx)
	if err != nil {
		log.Error().Err(err).Msg("reindex: load presets failed")
		return
	}
	if err := s.meili.IndexBlocks(records); err != nil {
		log.Error().Err(err).Msg("reindex: index presets failed")
		return
	}
	log.Info().Int("blocks", len(records)).Msg("preset index rebuilt")
}

func nonNil(r []Record) []Record {
	if r == nil {
		return []Record{}
	}
	return r
}
