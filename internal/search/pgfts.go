package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"pipemate/api/internal/store"
)

// PgFTS searches preset blocks with PostgreSQL full-text search.
type PgFTS struct {
	db    *sql.DB
	store *store.PostgresStore
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db, store: store.NewPostgresStore(db)}
}

// Healthy always returns true; without Postgres the service does not start.
func (p *PgFTS) Healthy() bool {
	return true
}

const blockDocument = `to_tsvector('english',
	b.name || ' ' || b.description || ' ' || b.domain || ' ' || array_to_string(b.task, ' '))`

// Search ranks blocks with plainto_tsquery and ts_rank. An empty text lists
// blocks in id order.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Record, int, error) {
	var (
		where []string
		args  []any
		order = "b.id"
	)
	if text := strings.TrimSpace(q.Text); text != "" {
		args = append(args, text)
		where = append(where, fmt.Sprintf("%s @@ plainto_tsquery('english', $%d)", blockDocument, len(args)))
		order = fmt.Sprintf("ts_rank(%s, plainto_tsquery('english', $1)) DESC, b.id", blockDocument)
	}
	if q.Type != "" {
		args = append(args, q.Type)
		where = append(where, fmt.Sprintf("b.type = $%d", len(args)))
	}

	query := `
		SELECT b.id, b.type, b.name, b.description, b.job_name, b.domain,
			COALESCE(to_jsonb(b.task), '[]'::jsonb)::text, b.config::text,
			count(*) OVER () AS total
		FROM blocks b`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf("\n\t\tORDER BY %s\n\t\tLIMIT %d", order, q.limit())

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	results := make([]Record, 0)
	total := 0
	for rows.Next() {
		var (
			r      Record
			task   string
			config string
		)
		if err := rows.Scan(&r.ID, &r.Type, &r.Name, &r.Description, &r.JobName, &r.Domain, &task, &config, &total); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		if err := json.Unmarshal([]byte(task), &r.Task); err != nil {
			return nil, 0, fmt.Errorf("pgfts decode task: %w", err)
		}
		r.Config = []byte(config)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every preset block for reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]Record, error) {
	presets, err := p.store.ListBlockPresets(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(presets))
	for _, preset := range presets {
		records = append(records, RecordFromPreset(preset))
	}
	return records, nil
}
