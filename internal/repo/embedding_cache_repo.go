package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"

	"github.com/hyeon-dev/ragserver/internal/model"
)

type EmbeddingCacheRepo struct {
	db *sqlx.DB
}

func NewEmbeddingCacheRepo(db *sqlx.DB) *EmbeddingCacheRepo {
	return &EmbeddingCacheRepo{db: db}
}

func (r *EmbeddingCacheRepo) Get(ctx context.Context, modelName string, taskType string, contentHash string) ([]float32, bool, error) {
	const query = `
		SELECT embedding FROM embedding_cache
		WHERE model_name = $1 AND task_type = $2 AND content_hash = $3
	`
	var vec pgvector.Vector
	if err := r.db.QueryRowContext(ctx, query, modelName, taskType, contentHash).Scan(&vec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return vec.Slice(), true, nil
}

func (r *EmbeddingCacheRepo) Save(ctx context.Context, item *model.EmbeddingCache) error {
	const query = `
		INSERT INTO embedding_cache (model_name, task_type, content_hash, embedding, ctime)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (model_name, task_type, content_hash) DO UPDATE
		SET embedding = EXCLUDED.embedding, ctime = EXCLUDED.ctime
	`
	ctime := item.Ctime
	if ctime == 0 {
		ctime = time.Now().Unix()
	}
	_, err := r.db.ExecContext(ctx, query, item.ModelName, item.TaskType, item.ContentHash, pgvector.NewVector(item.Embedding), ctime)
	return err
}

// DeleteBefore removes cache entries older than the given unix timestamp and
// returns how many rows were deleted.
func (r *EmbeddingCacheRepo) DeleteBefore(ctx context.Context, before int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM embedding_cache WHERE ctime < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
