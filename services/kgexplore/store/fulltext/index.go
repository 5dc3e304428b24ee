// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fulltext is the full-text facade's index over resource labels and
// comments. Two backends exist: an in-process BM25 index and Weaviate.
package fulltext

import (
	"context"
	"errors"
	"slices"
	"strings"
	"unicode"

	"github.com/AleutianAI/kgexplore/services/kgexplore/store/triplestore"
)

// ErrEmptyQuery is returned by Search for a blank query.
var ErrEmptyQuery = errors.New("search query must not be empty")

// Document is the indexed text of one resource.
type Document struct {
	// ID is the resource IRI or blank node label.
	ID string `json:"id"`

	// Label is the first rdfs:label seen, used for display.
	Label string `json:"label,omitempty"`

	// Text is every label and comment, space separated.
	Text string `json:"text"`
}

// Hit is one search result.
type Hit struct {
	ID    string  `json:"id"`
	Label string  `json:"label,omitempty"`
	Score float64 `json:"score"`
}

// Index is a searchable collection of documents.
type Index interface {
	// Rebuild replaces the indexed documents.
	Rebuild(ctx context.Context, docs []Document) error

	// Search returns up to limit hits, best first.
	Search(ctx context.Context, query string, limit int) ([]Hit, error)

	// Size returns the number of indexed documents.
	Size() int
}

// DocumentsFromStore collects labels and comments per resource.
func DocumentsFromStore(ctx context.Context, store *triplestore.Store) ([]Document, error) {
	byID := make(map[string]*Document)
	var order []string

	for _, pred := range []string{triplestore.RDFSLabel, triplestore.RDFSComment} {
		isLabel := pred == triplestore.RDFSLabel
		err := store.Each(ctx, triplestore.Pattern{Predicate: triplestore.IRI(pred)}, func(t triplestore.Triple) error {
			if t.Object.Kind != triplestore.KindLiteral || !t.Subject.IsResource() {
				return nil
			}
			id := t.Subject.Value
			doc, ok := byID[id]
			if !ok {
				doc = &Document{ID: id}
				byID[id] = doc
				order = append(order, id)
			}
			if isLabel && doc.Label == "" {
				doc.Label = t.Object.Value
			}
			if doc.Text == "" {
				doc.Text = t.Object.Value
			} else {
				doc.Text += " " + t.Object.Value
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	slices.Sort(order)
	docs := make([]Document, 0, len(order))
	for _, id := range order {
		docs = append(docs, *byID[id])
	}
	return docs, nil
}

// Tokenize lowercases s and splits it on anything that is not a letter or
// digit.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
