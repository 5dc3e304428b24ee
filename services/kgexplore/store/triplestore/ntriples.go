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
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/knakk/rdf"
)

// ErrSyntax is wrapped by every N-Triples parse error.
var ErrSyntax = errors.New("n-triples syntax error")

// ParseError locates a syntax error.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

func (e *ParseError) Unwrap() error {
	return ErrSyntax
}

// maxLine bounds a single N-Triples line.
const maxLine = 4 << 20

// ParseNTriples reads every statement from r.
//
// Blank lines and # comments are skipped. Parsing stops at the first
// malformed line with a *ParseError.
func ParseNTriples(r io.Reader) ([]Triple, error) {
	var out []Triple
	err := ScanNTriples(r, func(t Triple) error {
		out = append(out, t)
		return nil
	})
	return out, err
}

// ScanNTriples calls fn for each statement in r.
//
// Each line is decoded on its own so errors carry the line number and a
// line holding more than one statement is rejected.
func ScanNTriples(r io.Reader, fn func(Triple) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)

	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}

		t, err := decodeOne(line)
		if err != nil {
			return &ParseError{Line: lineNo, Msg: err.Error()}
		}
		if err := fn(t); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read n-triples: %w", err)
	}
	return nil
}

// ParseTerm parses a single term in N-Triples syntax.
func ParseTerm(s string) (Term, error) {
	t, err := decodeOne("_:s <urn:kgexplore:term> " + s + " .")
	if err != nil {
		return Term{}, &ParseError{Line: 1, Msg: err.Error()}
	}
	return t.Object, nil
}

// decodeOne decodes exactly one statement from line.
func decodeOne(line string) (Triple, error) {
	dec := rdf.NewTripleDecoder(strings.NewReader(line), rdf.NTriples)
	rt, err := dec.Decode()
	if err == io.EOF {
		return Triple{}, errors.New("no statement")
	}
	if err != nil {
		return Triple{}, err
	}
	if _, err := dec.Decode(); err != io.EOF {
		if err == nil {
			return Triple{}, errors.New("more than one statement on the line")
		}
		return Triple{}, err
	}
	return fromRDF(rt)
}

func fromRDF(rt rdf.Triple) (Triple, error) {
	s, err := termFromRDF(rt.Subj)
	if err != nil {
		return Triple{}, err
	}
	p, err := termFromRDF(rt.Pred)
	if err != nil {
		return Triple{}, err
	}
	o, err := termFromRDF(rt.Obj)
	if err != nil {
		return Triple{}, err
	}
	switch {
	case !s.IsResource():
		return Triple{}, errors.New("subject must be an IRI or blank node")
	case p.Kind != KindIRI:
		return Triple{}, errors.New("predicate must be an IRI")
	}
	return Triple{Subject: s, Predicate: p, Object: o}, nil
}

func termFromRDF(t rdf.Term) (Term, error) {
	switch v := t.(type) {
	case rdf.IRI:
		return IRI(v.String()), nil
	case rdf.Blank:
		return Blank(strings.TrimPrefix(v.String(), "_:")), nil
	case rdf.Literal:
		if lang := v.Lang(); lang != "" {
			return LangLiteral(v.String(), lang), nil
		}
		dt := v.DataType.String()
		if dt == RDFLangString {
			dt = ""
		}
		return TypedLiteral(v.String(), dt), nil
	default:
		return Term{}, fmt.Errorf("unsupported term %T", t)
	}
}
