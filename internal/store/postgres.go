package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"pipemate/api/internal/util"
)

var ErrNotFound = errors.New("not found")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const blockColumns = `b.id, b.type, b.name, b.description, b.job_name, b.domain,
	COALESCE(to_jsonb(b.task), '[]'::jsonb), b.config, b.created_at, b.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBlock(row rowScanner, extra ...any) (BlockPreset, error) {
	var (
		item   BlockPreset
		task   []byte
		config []byte
	)
	dest := append([]any{
		&item.ID, &item.Type, &item.Name, &item.Description, &item.JobName, &item.Domain,
		&task, &config, &item.CreatedAt, &item.UpdatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return BlockPreset{}, err
	}
	item.Config = json.RawMessage(config)
	if err := json.Unmarshal(task, &item.Task); err != nil {
		return BlockPreset{}, fmt.Errorf("decode task of block %d: %w", item.ID, err)
	}
	return item, nil
}

func (s *PostgresStore) ListBlockPresets(ctx context.Context) ([]BlockPreset, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+blockColumns+` FROM blocks b ORDER BY b.id`)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	defer rows.Close()

	items := make([]BlockPreset, 0)
	for rows.Next() {
		item, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListPipelinePresets returns every pipeline with its blocks in position
// order. Pipelines without blocks are included with an empty list.
func (s *PostgresStore) ListPipelinePresets(ctx context.Context) ([]PipelinePreset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM pipelines
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	defer rows.Close()

	pipelines := make([]PipelinePreset, 0)
	index := map[int64]int{}
	for rows.Next() {
		var p PipelinePreset
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan pipeline: %w", err)
		}
		p.Blocks = []BlockPreset{}
		index[p.ID] = len(pipelines)
		pipelines = append(pipelines, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pipelines: %w", err)
	}

	blockRows, err := s.db.QueryContext(ctx, `
		SELECT `+blockColumns+`, pb.pipeline_id
		FROM pipeline_blocks pb
		JOIN blocks b ON b.id = pb.block_id
		ORDER BY pb.pipeline_id, pb.position
	`)
	if err != nil {
		return nil, fmt.Errorf("list pipeline blocks: %w", err)
	}
	defer blockRows.Close()

	for blockRows.Next() {
		var pipelineID int64
		item, err := scanBlock(blockRows, &pipelineID)
		if err != nil {
			return nil, fmt.Errorf("scan pipeline block: %w", err)
		}
		if i, ok := index[pipelineID]; ok {
			pipelines[i].Blocks = append(pipelines[i].Blocks, item)
		}
	}
	return pipelines, blockRows.Err()
}

// SavePipelineRecord upserts the record for owner/repo/workflow name.
func (s *PostgresStore) SavePipelineRecord(ctx context.Context, record PipelineRecord) (PipelineRecord, error) {
	if record.ID == "" {
		record.ID = util.NewID("pl")
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO pipeline_records (id, owner, repo, workflow_name, blocks, yaml)
		VALUES ($1, $2, $3, $4, $5::json, $6)
		ON CONFLICT (owner, repo, workflow_name) DO UPDATE
		SET blocks = EXCLUDED.blocks, yaml = EXCLUDED.yaml, updated_at = NOW()
		RETURNING id, created_at, updated_at
	`, record.ID, record.Owner, record.Repo, record.WorkflowName, string(record.Blocks), record.YAML).
		Scan(&record.ID, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return PipelineRecord{}, fmt.Errorf("save pipeline record: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) GetPipelineRecord(ctx context.Context, owner, repo, workflowName string) (PipelineRecord, error) {
	var (
		record PipelineRecord
		blocks []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner, repo, workflow_name, blocks, yaml, created_at, updated_at
		FROM pipeline_records
		WHERE owner = $1 AND repo = $2 AND workflow_name = $3
	`, owner, repo, workflowName).Scan(
		&record.ID, &record.Owner, &record.Repo, &record.WorkflowName,
		&blocks, &record.YAML, &record.CreatedAt, &record.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return PipelineRecord{}, ErrNotFound
	}
	if err != nil {
		return PipelineRecord{}, fmt.Errorf("get pipeline record: %w", err)
	}
	record.Blocks = json.RawMessage(blocks)
	return record, nil
}

func (s *PostgresStore) DeletePipelineRecord(ctx context.Context, owner, repo, workflowName string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM pipeline_records
		WHERE owner = $1 AND repo = $2 AND workflow_name = $3
	`, owner, repo, workflowName)
	if err != nil {
		return fmt.Errorf("delete pipeline record: %w", err)
	}
	return nil
}
