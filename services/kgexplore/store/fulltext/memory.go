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
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
)

// memoryBatchSize is how many documents go into one bleve batch.
const memoryBatchSize = 1000

// MemoryIndex is an in-process bleve index over document text.
//
// Thread Safety: Safe for concurrent use. Rebuild fills a fresh index and
// swaps it in, so a failed rebuild leaves the previous one searchable.
type MemoryIndex struct {
	mu   sync.RWMutex
	idx  bleve.Index
	size int
}

// NewMemoryIndex creates an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{}
}

func memoryMapping() mapping.IndexMapping {
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	text.Store = false

	label := bleve.NewTextFieldMapping()
	label.Index = false

	doc := bleve.NewDocumentMapping()
	doc.Dynamic = false
	doc.AddFieldMappingsAt("text", text)
	doc.AddFieldMappingsAt("label", label)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	m.DefaultAnalyzer = standard.Name
	return m
}

type memoryDoc struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

func (m *MemoryIndex) Rebuild(ctx context.Context, docs []Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	idx, err := bleve.NewMemOnly(memoryMapping())
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	if err := fill(ctx, idx, docs); err != nil {
		idx.Close()
		return err
	}

	m.mu.Lock()
	old := m.idx
	m.idx = idx
	m.size = len(docs)
	m.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

func fill(ctx context.Context, idx bleve.Index, docs []Document) error {
	batch := idx.NewBatch()
	for _, d := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := batch.Index(d.ID, memoryDoc{Label: d.Label, Text: d.Text}); err != nil {
			return fmt.Errorf("index %s: %w", d.ID, err)
		}
		if batch.Size() >= memoryBatchSize {
			if err := idx.Batch(batch); err != nil {
				return fmt.Errorf("write batch: %w", err)
			}
			batch.Reset()
		}
	}
	if batch.Size() > 0 {
		if err := idx.Batch(batch); err != nil {
			return fmt.Errorf("write batch: %w", err)
		}
	}
	return nil
}

func (m *MemoryIndex) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	if len(Tokenize(query)) == 0 {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = 10
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.idx == nil {
		return []Hit{}, nil
	}

	q := bleve.NewMatchQuery(query)
	q.SetField("text")
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.Fields = []string{"label"}
	req.SortBy([]string{"-_score", "_id"})

	res, err := m.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		label, _ := h.Fields["label"].(string)
		hits = append(hits, Hit{ID: h.ID, Label: label, Score: h.Score})
	}
	return hits, nil
}

func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

// Close releases the current index.
func (m *MemoryIndex) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.idx == nil {
		return nil
	}
	err := m.idx.Close()
	m.idx = nil
	m.size = 0
	return err
}
