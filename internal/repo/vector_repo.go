package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/didi/gendry/builder"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/hyeon-dev/ragserver/internal/model"
	"github.com/hyeon-dev/ragserver/internal/pkg/dbutil"
	appErr "github.com/hyeon-dev/ragserver/internal/pkg/errors"
)

// DimensionMismatchError reports an embedding whose dimensionality differs
// from the collection's. Recovery is destructive: drop and re-ingest.
type DimensionMismatchError struct {
	Collection string
	Want       int
	Got        int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("collection %s expects %d dimensions, not %d", e.Collection, e.Want, e.Got)
}

// IsDimensionMismatch reports whether err is a dimensionality conflict,
// either detected locally or raised by pgvector itself.
func IsDimensionMismatch(err error) bool {
	if err == nil {
		return false
	}
	var mismatch *DimensionMismatchError
	if errors.As(err, &mismatch) {
		return true
	}
	var pgErr *pq.Error
	if errors.As(err, &pgErr) {
		// class 22 is data exception; pgvector uses it for dimension errors
		if strings.HasPrefix(string(pgErr.Code), "22") && strings.Contains(pgErr.Message, "dimensions") {
			return true
		}
	}
	return strings.Contains(err.Error(), "different vector dimensions")
}

type VectorRepo struct {
	db *sqlx.DB
}

func NewVectorRepo(db *sqlx.DB) *VectorRepo {
	return &VectorRepo{db: db}
}

func (r *VectorRepo) GetCollection(ctx context.Context, name string) (*model.Collection, error) {
	where := map[string]interface{}{
		"name": name,
	}
	sqlStr, args, err := builder.BuildSelect("rag_collections", where, []string{"id", "name", "dim", "ctime"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	var col model.Collection
	if err := r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&col.ID, &col.Name, &col.Dim, &col.Ctime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	return &col, nil
}

func (r *VectorRepo) createCollection(ctx context.Context, name string, dim int) (*model.Collection, error) {
	const query = `
		INSERT INTO rag_collections (name, dim, ctime)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, name, dim, time.Now().Unix()); err != nil {
		return nil, err
	}
	return r.GetCollection(ctx, name)
}

// Upsert persists documents with their embeddings, creating the collection on
// first write. A dimensionality conflict with an existing collection drops the
// collection and recreates it with the new dimensionality; prior rows are not
// preserved.
func (r *VectorRepo) Upsert(ctx context.Context, collection string, docs []model.Document, embeddings [][]float32) error {
	if len(docs) == 0 {
		return nil
	}
	if len(docs) != len(embeddings) {
		return fmt.Errorf("%w: %d documents but %d embeddings", appErr.ErrInvalid, len(docs), len(embeddings))
	}
	dim := len(embeddings[0])
	if dim == 0 {
		return fmt.Errorf("%w: empty embedding", appErr.ErrInvalid)
	}
	for i, emb := range embeddings {
		if len(emb) != dim {
			return fmt.Errorf("%w: embedding %d has %d dimensions, not %d", appErr.ErrInvalid, i, len(emb), dim)
		}
	}

	col, err := r.GetCollection(ctx, collection)
	if errors.Is(err, appErr.ErrNotFound) {
		col, err = r.createCollection(ctx, collection, dim)
	}
	if err != nil {
		return err
	}
	if col.Dim != dim {
		mismatch := &DimensionMismatchError{Collection: collection, Want: col.Dim, Got: dim}
		logutil.GetLogger(ctx).Warn("dimension mismatch, dropping collection",
			zap.String("collection", collection),
			zap.Int("want", col.Dim),
			zap.Int("got", dim),
			zap.Error(mismatch),
		)
		if err := r.DropCollection(ctx, collection); err != nil {
			return fmt.Errorf("drop mismatched collection: %w", err)
		}
		col, err = r.createCollection(ctx, collection, dim)
		if err != nil {
			return err
		}
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const insertQuery = `
		INSERT INTO rag_embeddings (collection_id, content, metadata, embedding, ctime)
		VALUES ($1, $2, $3, $4, $5)
	`
	now := time.Now().Unix()
	for i, doc := range docs {
		metadata := doc.Metadata
		if metadata == nil {
			metadata = map[string]interface{}{}
		}
		blob, err := json.Marshal(metadata)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, insertQuery, col.ID, doc.Content, blob, pgvector.NewVector(embeddings[i]), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Search returns the k nearest documents by vector distance, nearest first.
func (r *VectorRepo) Search(ctx context.Context, collection string, query []float32, k int) ([]model.SearchResult, error) {
	col, err := r.GetCollection(ctx, collection)
	if errors.Is(err, appErr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if col.Dim != len(query) {
		return nil, &DimensionMismatchError{Collection: collection, Want: col.Dim, Got: len(query)}
	}

	const searchQuery = `
		SELECT content, metadata, embedding <-> $1 AS score
		FROM rag_embeddings
		WHERE collection_id = $2
		ORDER BY embedding <-> $1 ASC
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, searchQuery, pgvector.NewVector(query), col.ID, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.SearchResult
	for rows.Next() {
		var item model.SearchResult
		var blob []byte
		if err := rows.Scan(&item.Document.Content, &blob, &item.Score); err != nil {
			return nil, err
		}
		if len(blob) > 0 {
			if err := json.Unmarshal(blob, &item.Document.Metadata); err != nil {
				return nil, err
			}
		}
		results = append(results, item)
	}
	return results, rows.Err()
}

func (r *VectorRepo) Count(ctx context.Context, collection string) (int64, error) {
	col, err := r.GetCollection(ctx, collection)
	if errors.Is(err, appErr.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	const query = `SELECT COUNT(*) FROM rag_embeddings WHERE collection_id = $1`
	var count int64
	if err := r.db.QueryRowContext(ctx, query, col.ID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *VectorRepo) ListCollections(ctx context.Context) ([]model.Collection, error) {
	sqlStr, args, err := builder.BuildSelect("rag_collections", map[string]interface{}{"_orderby": "name asc"}, []string{"id", "name", "dim", "ctime"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cols []model.Collection
	for rows.Next() {
		var col model.Collection
		if err := rows.Scan(&col.ID, &col.Name, &col.Dim, &col.Ctime); err != nil {
			return nil, err
		}
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

// DropCollection deletes the collection rows and then the collection record.
// Deliberately not transactional: this mirrors the documented destructive
// recovery path where a partial delete leaves the store re-ingestable.
func (r *VectorRepo) DropCollection(ctx context.Context, collection string) error {
	col, err := r.GetCollection(ctx, collection)
	if errors.Is(err, appErr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM rag_embeddings WHERE collection_id = $1`, col.ID); err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `DELETE FROM rag_collections WHERE id = $1`, col.ID)
	return err
}
