// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package triplestore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kgbadger "github.com/AleutianAI/kgexplore/services/kgexplore/storage/badger"
)

const sample = `# tiny ontology
<http://ex.org/Animal> <http://www.w3.org/1999/02/22-rdf-syntax-ns#type> <http://www.w3.org/2002/07/owl#Class> .
<http://ex.org/Dog> <http://www.w3.org/2000/01/rdf-schema#subClassOf> <http://ex.org/Animal> .
<http://ex.org/Dog> <http://www.w3.org/2000/01/rdf-schema#label> "Dog"@en .
<http://ex.org/rex> <http://www.w3.org/1999/02/22-rdf-syntax-ns#type> <http://ex.org/Dog> .
<http://ex.org/rex> <http://ex.org/age> "7"^^<http://www.w3.org/2001/XMLSchema#integer> .
_:b1 <http://ex.org/knows> <http://ex.org/rex> . # trailing comment
<http://ex.org/rex> <http://www.w3.org/2000/01/rdf-schema#comment> "says \"woof\"\né" .
`

func openStore(t *testing.T) *Store {
	t.Helper()
	db, err := kgbadger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := New(context.Background(), db, nil)
	require.NoError(t, err)
	return s
}

func TestParseNTriples(t *testing.T) {
	triples, err := ParseNTriples(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, triples, 7)

	assert.Equal(t, LangLiteral("Dog", "EN"), triples[2].Object)
	assert.Equal(t, TypedLiteral("7", "http://www.w3.org/2001/XMLSchema#integer"), triples[4].Object)
	assert.Equal(t, Blank("b1"), triples[5].Subject)
	assert.Equal(t, Literal("says \"woof\"\né"), triples[6].Object)
}

func TestParseNTriples_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"literal subject", `"x" <http://p> <http://o> .`},
		{"missing dot", `<http://s> <http://p> <http://o>`},
		{"unterminated iri", `<http://s <http://p> <http://o> .`},
		{"unterminated literal", `<http://s> <http://p> "abc .`},
		{"blank predicate", `<http://s> _:p <http://o> .`},
		{"junk after dot", `<http://s> <http://p> <http://o> . extra`},
		{"two statements", `<http://s> <http://p> <http://o> . <http://s> <http://p> <http://o2> .`},
		{"bad escape", `<http://s> <http://p> "\q" .`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseNTriples(strings.NewReader("\n" + tt.input))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrSyntax)

			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, 2, pe.Line)
		})
	}
}

func TestTermRoundTrip(t *testing.T) {
	for _, term := range []Term{
		IRI("http://ex.org/a"),
		Blank("n0"),
		Literal("line\nbreak \"quoted\" \\ tab\t"),
		LangLiteral("chat", "fr"),
		TypedLiteral("1.5", "http://www.w3.org/2001/XMLSchema#decimal"),
	} {
		got, err := ParseTerm(term.String())
		require.NoError(t, err, term.String())
		assert.Equal(t, term, got)
	}
	assert.Equal(t, Literal("x"), TypedLiteral("x", XSDString), "xsd:string is the plain literal")
}

func TestStore_ReplaceAndMatch(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	triples, err := ParseNTriples(strings.NewReader(sample))
	require.NoError(t, err)

	n, err := s.Replace(ctx, append(triples, triples[0]))
	require.NoError(t, err)
	assert.Equal(t, 7, n, "duplicates are stored once")
	assert.Equal(t, 7, s.Count())

	rex := IRI("http://ex.org/rex")
	tests := []struct {
		name    string
		pattern Pattern
		want    int
	}{
		{"all", Pattern{}, 7},
		{"subject", Pattern{Subject: rex}, 3},
		{"subject+predicate", Pattern{Subject: rex, Predicate: IRI(RDFType)}, 1},
		{"subject+object", Pattern{Subject: rex, Object: IRI("http://ex.org/Dog")}, 1},
		{"predicate", Pattern{Predicate: IRI(RDFType)}, 2},
		{"predicate+object", Pattern{Predicate: IRI(RDFSSubClassOf), Object: IRI("http://ex.org/Animal")}, 1},
		{"object", Pattern{Object: rex}, 1},
		{"fully bound", Pattern{Subject: rex, Predicate: IRI(RDFType), Object: IRI("http://ex.org/Dog")}, 1},
		{"no match", Pattern{Subject: IRI("http://ex.org/re")}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Match(ctx, tt.pattern)
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
			for _, tr := range got {
				assert.True(t, tt.pattern.Matches(tr))
			}
		})
	}

	// replacing drops the previous graph
	n, err = s.Replace(ctx, triples[:2])
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	all, err := s.Match(ctx, Pattern{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStore_ReplaceFailureKeepsGraph(t *testing.T) {
	s := openStore(t)
	triples, err := ParseNTriples(strings.NewReader(sample))
	require.NoError(t, err)
	_, err = s.Replace(context.Background(), triples)
	require.NoError(t, err)
	gen := s.Generation()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Replace(ctx, triples[:2])
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, 7, s.Count())
	assert.Equal(t, gen, s.Generation())
	all, err := s.Match(context.Background(), Pattern{})
	require.NoError(t, err)
	assert.Len(t, all, 7)

	// the next successful replace still works
	n, err := s.Replace(context.Background(), triples[:3])
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	all, err = s.Match(context.Background(), Pattern{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStore_AddSkipsExisting(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	a := Triple{Subject: IRI("http://s"), Predicate: IRI("http://p"), Object: LangLiteral("x", "en")}
	b := Triple{Subject: IRI("http://s"), Predicate: IRI("http://p"), Object: LangLiteral("x", "en-us")}

	n, err := s.Add(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.Add(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the new triple is added")
	assert.Equal(t, 2, s.Count())
}

func TestStore_CountSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := kgbadger.DefaultConfig()
	cfg.Path = dir
	cfg.GCInterval = 0
	ctx := context.Background()

	db, err := kgbadger.Open(cfg)
	require.NoError(t, err)
	s, err := New(ctx, db, nil)
	require.NoError(t, err)
	_, err = s.Add(ctx, Triple{Subject: IRI("http://s"), Predicate: IRI("http://p"), Object: IRI("http://o")})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = kgbadger.Open(cfg)
	require.NoError(t, err)
	s, err = New(ctx, db, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Count())

	triples, err := ParseNTriples(strings.NewReader(sample))
	require.NoError(t, err)
	_, err = s.Replace(ctx, triples)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = kgbadger.Open(cfg)
	require.NoError(t, err)
	defer db.Close()
	s, err = New(ctx, db, nil)
	require.NoError(t, err)
	assert.Equal(t, 7, s.Count(), "the switched generation is the one reopened")
	got, err := s.Match(ctx, Pattern{Subject: IRI("http://ex.org/rex")})
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestStore_LoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.nt"), []byte(sample), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.NT"),
		[]byte("<http://ex.org/Cat> <http://www.w3.org/2000/01/rdf-schema#subClassOf> <http://ex.org/Animal> .\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".hidden"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden", "c.nt"), []byte("garbage"), 0o644))

	s := openStore(t)
	stats, err := s.LoadDir(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Files)
	assert.Equal(t, 8, stats.Triples)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.nt"), []byte("<http://s> oops"), 0o644))
	_, err = s.LoadDir(context.Background(), dir)
	require.ErrorIs(t, err, ErrSyntax)
	assert.Equal(t, 8, s.Count(), "a failed load keeps the previous graph")
}
