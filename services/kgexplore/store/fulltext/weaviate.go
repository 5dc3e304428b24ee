// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fulltext

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/kgexplore/pkg/logging"
)

// DefaultClassName is the Weaviate class holding resource documents.
const DefaultClassName = "KGResource"

// BatchSize is the number of documents imported per batch request.
const BatchSize = 100

// objectNamespace seeds deterministic object IDs.
var objectNamespace = uuid.MustParse("6f1d7c52-3a0e-4c8e-9b44-1d3c2a7e5b90")

// NewClient creates a Weaviate client from a URL with optional scheme.
func NewClient(rawURL string) (*weaviate.Client, error) {
	cfg := weaviate.Config{Host: rawURL, Scheme: "http"}
	switch {
	case strings.HasPrefix(rawURL, "https://"):
		cfg.Scheme = "https"
		cfg.Host = strings.TrimPrefix(rawURL, "https://")
	case strings.HasPrefix(rawURL, "http://"):
		cfg.Host = strings.TrimPrefix(rawURL, "http://")
	}
	cfg.Host = strings.TrimSuffix(cfg.Host, "/")

	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return client, nil
}

// Schema returns the class definition for resource documents.
func Schema(className string) *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       className,
		Description: "Labels and comments of knowledge graph resources",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:            "resourceId",
				DataType:        []string{"text"},
				Description:     "Resource IRI or blank node label",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "label",
				DataType:     []string{"text"},
				Description:  "First rdfs:label of the resource",
				Tokenization: "word",
			},
			{
				Name:         "text",
				DataType:     []string{"text"},
				Description:  "All labels and comments",
				Tokenization: "word",
			},
			{
				Name:            "generation",
				DataType:        []string{"text"},
				Description:     "Rebuild that wrote the object",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
		},
	}
}

// WeaviateIndex stores documents in a Weaviate class and searches with BM25.
//
// Rebuild writes a new generation, switches searches to it, then deletes
// older generations, so searches never see a half-written index.
//
// Thread Safety: Safe for concurrent use. Rebuilds must not overlap; the
// full-text facade serializes them.
type WeaviateIndex struct {
	client     *weaviate.Client
	className  string
	logger     *slog.Logger
	generation atomic.Pointer[string]
	size       atomic.Int64
}

// NewWeaviateIndex creates an index over className. An empty className uses
// DefaultClassName.
func NewWeaviateIndex(client *weaviate.Client, className string, logger *slog.Logger) *WeaviateIndex {
	if className == "" {
		className = DefaultClassName
	}
	return &WeaviateIndex{
		client:    client,
		className: className,
		logger:    logging.OrNop(logger).With(slog.String("component", "fulltext_weaviate")),
	}
}

// EnsureSchema creates the class if it does not exist.
func (w *WeaviateIndex) EnsureSchema(ctx context.Context) error {
	exists, err := w.client.Schema().ClassExistenceChecker().WithClassName(w.className).Do(ctx)
	if err != nil {
		return fmt.Errorf("checking class %s: %w", w.className, err)
	}
	if exists {
		return nil
	}
	if err := w.client.Schema().ClassCreator().WithClass(Schema(w.className)).Do(ctx); err != nil {
		return fmt.Errorf("creating class %s: %w", w.className, err)
	}
	w.logger.Info("created weaviate class", slog.String("class", w.className))
	return nil
}

func (w *WeaviateIndex) Rebuild(ctx context.Context, docs []Document) error {
	if err := w.EnsureSchema(ctx); err != nil {
		return err
	}

	gen := uuid.NewString()
	indexed, err := w.importGeneration(ctx, gen, docs)
	if err != nil {
		// searches stay on the previous generation; drop what was written
		if _, derr := w.deleteGeneration(context.WithoutCancel(ctx), filters.Equal, gen); derr != nil {
			w.logger.Warn("deleting failed generation failed",
				slog.String("generation", gen),
				slog.String("error", derr.Error()))
		}
		return err
	}

	w.generation.Store(&gen)
	w.size.Store(int64(indexed))

	if _, err := w.deleteGeneration(ctx, filters.NotEqual, gen); err != nil {
		// Searches filter by generation, so leftovers are invisible.
		w.logger.Warn("deleting stale generations failed", slog.String("error", err.Error()))
	}

	w.logger.Debug("fulltext index rebuilt",
		slog.String("generation", gen),
		slog.Int("documents", indexed))
	return nil
}

func (w *WeaviateIndex) importGeneration(ctx context.Context, gen string, docs []Document) (int, error) {
	indexed := 0
	for i := 0; i < len(docs); i += BatchSize {
		if err := ctx.Err(); err != nil {
			return indexed, err
		}
		end := min(i+BatchSize, len(docs))

		result, err := w.client.Batch().ObjectsBatcher().
			WithObjects(w.objects(gen, docs[i:end])...).
			Do(ctx)
		if err != nil {
			return indexed, fmt.Errorf("batch import failed: %w", err)
		}
		for _, obj := range result {
			if obj.Result != nil && obj.Result.Errors != nil && len(obj.Result.Errors.Error) > 0 {
				return indexed, fmt.Errorf("batch import object %s: %s", obj.ID, obj.Result.Errors.Error[0].Message)
			}
			indexed++
		}
	}
	return indexed, nil
}

// deleteGeneration removes the objects whose generation compares to gen
// with op and returns how many matched.
func (w *WeaviateIndex) deleteGeneration(ctx context.Context, op filters.WhereOperator, gen string) (int64, error) {
	where := filters.Where().
		WithPath([]string{"generation"}).
		WithOperator(op).
		WithValueString(gen)
	resp, err := w.client.Batch().ObjectsBatchDeleter().
		WithClassName(w.className).
		WithWhere(where).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if resp == nil || resp.Results == nil {
		return 0, nil
	}
	return resp.Results.Matches, nil
}

func (w *WeaviateIndex) objects(gen string, docs []Document) []*models.Object {
	objects := make([]*models.Object, len(docs))
	for i, doc := range docs {
		objects[i] = &models.Object{
			Class: w.className,
			ID:    ObjectID(gen, doc.ID),
			Properties: map[string]interface{}{
				"resourceId": doc.ID,
				"label":      doc.Label,
				"text":       doc.Text,
				"generation": gen,
			},
		}
	}
	return objects
}

// ObjectID derives a stable object ID for a resource within a generation.
func ObjectID(generation, resourceID string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(objectNamespace, []byte(generation+"\x00"+resourceID)).String())
}

func (w *WeaviateIndex) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = 10
	}
	gen := w.generation.Load()
	if gen == nil {
		return []Hit{}, nil
	}

	where := filters.Where().
		WithPath([]string{"generation"}).
		WithOperator(filters.Equal).
		WithValueString(*gen)

	result, err := w.client.GraphQL().Get().
		WithClassName(w.className).
		WithFields(
			graphql.Field{Name: "resourceId"},
			graphql.Field{Name: "label"},
			graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "score"}}},
		).
		WithBM25(w.client.GraphQL().Bm25ArgBuilder().WithQuery(query)).
		WithWhere(where).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("search error: %s", result.Errors[0].Message)
	}
	return parseHits(result.Data, w.className), nil
}

func (w *WeaviateIndex) Size() int {
	return int(w.size.Load())
}

// parseHits extracts hits from a GraphQL Get response.
func parseHits(data map[string]models.JSONObject, className string) []Hit {
	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return []Hit{}
	}
	objects, ok := get[className].([]interface{})
	if !ok {
		return []Hit{}
	}

	hits := make([]Hit, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		hit := Hit{ID: getString(m, "resourceId"), Label: getString(m, "label")}
		if extra, ok := m["_additional"].(map[string]interface{}); ok {
			hit.Score = getScore(extra["score"])
		}
		hits = append(hits, hit)
	}
	return hits
}

func getString(m map[string]interface{}, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// BM25 scores arrive as strings.
func getScore(v interface{}) float64 {
	switch s := v.(type) {
	case string:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		return f
	case float64:
		return s
	}
	return 0
}
