package embedcache

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/hyeon-dev/ragserver/internal/ai"
	"github.com/hyeon-dev/ragserver/internal/model"
)

// CacheRepo is the persistence surface the DB-backed layer needs; satisfied
// by repo.EmbeddingCacheRepo.
type CacheRepo interface {
	Get(ctx context.Context, modelName, taskType, contentHash string) ([]float32, bool, error)
	Save(ctx context.Context, item *model.EmbeddingCache) error
}

func WrapDBCacheToEmbedder(e ai.IEmbedder, repo CacheRepo) ai.IEmbedder {
	if e == nil || repo == nil {
		return e
	}
	return &dbEmbedder{next: e, repo: repo}
}

type dbEmbedder struct {
	next ai.IEmbedder
	repo CacheRepo
}

func (d *dbEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	logger := logutil.GetLogger(ctx)
	_, contentHash := buildCacheKey(d.next.ModelName(), taskType, text)
	cached, ok, err := d.repo.Get(ctx, d.next.ModelName(), taskType, contentHash)
	if err != nil {
		logger.Warn("embedding cache read failed", zap.Error(err))
	} else if ok {
		logger.Debug("embedding cache hit (db)", zap.String("task_type", taskType))
		return cloneEmbedding(cached), nil
	}
	res, err := d.next.Embed(ctx, text, taskType)
	if err != nil {
		return nil, err
	}
	if err := d.repo.Save(ctx, &model.EmbeddingCache{
		ModelName:   d.next.ModelName(),
		TaskType:    taskType,
		ContentHash: contentHash,
		Embedding:   cloneEmbedding(res),
		Ctime:       time.Now().Unix(),
	}); err != nil {
		logger.Warn("embedding cache write failed", zap.Error(err))
	}
	return res, nil
}

func (d *dbEmbedder) ModelName() string {
	return d.next.ModelName()
}
