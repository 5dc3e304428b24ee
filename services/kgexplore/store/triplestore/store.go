// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package triplestore is the query facade's backing store: an RDF triple
// store on BadgerDB with subject, predicate and object indexes, loaded from
// N-Triples files.
package triplestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/kgexplore/pkg/logging"
	kgbadger "github.com/AleutianAI/kgexplore/services/kgexplore/storage/badger"
)

// Key layout. Each triple is written three times with an empty value under
// the prefix of the graph generation it belongs to:
//
//	t/<gen>/spo/<s>\x00<p>\x00<o>
//	t/<gen>/pos/<p>\x00<o>\x00<s>
//	t/<gen>/osp/<o>\x00<s>\x00<p>
//
// graphKey records the live generation. Terms are stored in N-Triples
// syntax, which never contains a raw NUL.
var graphKey = []byte("m/graph")

const sep = 0x00

// errStop ends a scan early without reporting an error.
var errStop = errors.New("stop scan")

// layout holds the key prefixes of one graph generation.
type layout struct {
	gen  uint64
	root []byte
	spo  []byte
	pos  []byte
	osp  []byte
}

func newLayout(gen uint64) *layout {
	root := fmt.Sprintf("t/%016x/", gen)
	return &layout{
		gen:  gen,
		root: []byte(root),
		spo:  []byte(root + "spo/"),
		pos:  []byte(root + "pos/"),
		osp:  []byte(root + "osp/"),
	}
}

type graphPointer struct {
	Generation uint64 `json:"generation"`
}

// Store is a BadgerDB-backed triple store.
//
// Thread Safety: Safe for concurrent use. Writers are serialized. Replace
// writes the new graph under a fresh generation and switches to it only
// once every key is flushed, so readers keep seeing the previous graph
// until then and a failed Replace leaves it untouched.
type Store struct {
	db     *kgbadger.DB
	logger *slog.Logger

	writeMu sync.Mutex
	cur     atomic.Pointer[layout]
	count   atomic.Int64
}

// New opens a store over db and counts the triples already present.
func New(ctx context.Context, db *kgbadger.DB, logger *slog.Logger) (*Store, error) {
	s := &Store{
		db:     db,
		logger: logging.OrNop(logger).With(slog.String("component", "triplestore")),
	}
	var ptr graphPointer
	if err := db.GetJSON(ctx, graphKey, &ptr); err != nil && !errors.Is(err, kgbadger.ErrNotFound) {
		return nil, fmt.Errorf("read graph generation: %w", err)
	}
	l := newLayout(ptr.Generation)
	s.cur.Store(l)

	n := 0
	if err := db.ScanPrefix(ctx, l.spo, true, func(_, _ []byte) error {
		n++
		return nil
	}); err != nil {
		return nil, fmt.Errorf("count triples: %w", err)
	}
	s.count.Store(int64(n))
	return s, nil
}

// Count returns the number of stored triples.
func (s *Store) Count() int {
	return int(s.count.Load())
}

// Generation returns the live graph generation.
func (s *Store) Generation() uint64 {
	return s.cur.Load().gen
}

// Replace swaps the whole graph for triples. Duplicates are stored once.
// On error the previous graph stays live.
//
// Outputs:
//
//	int - Number of distinct triples stored.
func (s *Store) Replace(ctx context.Context, triples []Triple) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	old := s.cur.Load()
	next := newLayout(old.gen + 1)

	// a crash during an earlier Replace may have left keys behind
	if err := s.db.DropPrefix(next.root); err != nil {
		return 0, fmt.Errorf("clear staging graph: %w", err)
	}

	n, err := s.write(ctx, next, triples)
	if err != nil {
		if derr := s.db.DropPrefix(next.root); derr != nil {
			s.logger.Warn("staging graph not cleared", slog.String("error", derr.Error()))
		}
		return 0, err
	}

	// the new keys are durable; finish the switch even if ctx ends now
	if err := s.db.PutJSON(context.WithoutCancel(ctx), graphKey, graphPointer{Generation: next.gen}); err != nil {
		if derr := s.db.DropPrefix(next.root); derr != nil {
			s.logger.Warn("staging graph not cleared", slog.String("error", derr.Error()))
		}
		return 0, fmt.Errorf("switch graph generation: %w", err)
	}
	s.cur.Store(next)
	s.count.Store(int64(n))

	if err := s.db.DropPrefix(old.root); err != nil {
		s.logger.Warn("previous graph not dropped",
			slog.Uint64("generation", old.gen),
			slog.String("error", err.Error()),
		)
	}
	s.logger.Info("graph replaced", slog.Int("triples", n), slog.Uint64("generation", next.gen))
	return n, nil
}

// Add inserts triples into the current graph and returns how many were new.
func (s *Store) Add(ctx context.Context, triples ...Triple) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	fresh := make([]Triple, 0, len(triples))
	for _, t := range triples {
		exists, err := s.has(ctx, t)
		if err != nil {
			return 0, err
		}
		if !exists {
			fresh = append(fresh, t)
		}
	}
	n, err := s.write(ctx, s.cur.Load(), fresh)
	if err != nil {
		return 0, err
	}
	s.count.Add(int64(n))
	return n, nil
}

// write stores triples under l and returns how many distinct ones it saw.
func (s *Store) write(ctx context.Context, l *layout, triples []Triple) (int, error) {
	seen := make(map[string]struct{}, len(triples))
	batch := s.db.NewBatch()

	for _, t := range triples {
		if err := ctx.Err(); err != nil {
			batch.Cancel()
			return 0, err
		}
		sub, pred, obj := t.Subject.String(), t.Predicate.String(), t.Object.String()
		spo := joinKey(l.spo, sub, pred, obj)
		if _, dup := seen[string(spo)]; dup {
			continue
		}
		seen[string(spo)] = struct{}{}

		for _, k := range [][]byte{spo, joinKey(l.pos, pred, obj, sub), joinKey(l.osp, obj, sub, pred)} {
			if err := batch.Set(k, nil); err != nil {
				batch.Cancel()
				return 0, fmt.Errorf("queue triple: %w", err)
			}
		}
	}
	if err := batch.Flush(); err != nil {
		return 0, fmt.Errorf("write triples: %w", err)
	}
	return len(seen), nil
}

func (s *Store) has(ctx context.Context, t Triple) (bool, error) {
	key := joinKey(s.cur.Load().spo, t.Subject.String(), t.Predicate.String(), t.Object.String())
	found := false
	err := s.db.ScanPrefix(ctx, key, true, func(k, _ []byte) error {
		if bytes.Equal(k, key) {
			found = true
			return errStop
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return false, err
	}
	return found, nil
}

// Match returns every triple matching p, choosing the index that covers the
// bound positions.
func (s *Store) Match(ctx context.Context, p Pattern) ([]Triple, error) {
	var out []Triple
	err := s.Each(ctx, p, func(t Triple) error {
		out = append(out, t)
		return nil
	})
	return out, err
}

// Each streams the triples matching p to fn. Returning an error from fn
// stops the scan and is returned.
func (s *Store) Each(ctx context.Context, p Pattern, fn func(Triple) error) error {
	prefix, decode := s.plan(p)
	err := s.db.ScanPrefix(ctx, prefix, true, func(key, _ []byte) error {
		t, err := decode(key)
		if err != nil {
			return err
		}
		if !p.Matches(t) {
			return nil
		}
		return fn(t)
	})
	return err
}

// plan picks the scan prefix and key decoder for p.
func (s *Store) plan(p Pattern) ([]byte, func([]byte) (Triple, error)) {
	l := s.cur.Load()
	sb, pb, ob := !p.Subject.IsZero(), !p.Predicate.IsZero(), !p.Object.IsZero()

	switch {
	case sb && pb:
		return joinPrefix(l.spo, p.Subject.String(), p.Predicate.String()), l.decodeSPO
	case sb && ob:
		return joinPrefix(l.osp, p.Object.String(), p.Subject.String()), l.decodeOSP
	case sb:
		return joinPrefix(l.spo, p.Subject.String()), l.decodeSPO
	case pb && ob:
		return joinPrefix(l.pos, p.Predicate.String(), p.Object.String()), l.decodePOS
	case pb:
		return joinPrefix(l.pos, p.Predicate.String()), l.decodePOS
	case ob:
		return joinPrefix(l.osp, p.Object.String()), l.decodeOSP
	default:
		return l.spo, l.decodeSPO
	}
}

func joinKey(prefix []byte, a, b, c string) []byte {
	k := make([]byte, 0, len(prefix)+len(a)+len(b)+len(c)+2)
	k = append(k, prefix...)
	k = append(k, a...)
	k = append(k, sep)
	k = append(k, b...)
	k = append(k, sep)
	k = append(k, c...)
	return k
}

// joinPrefix builds a scan prefix ending in a separator, so "<a>" never
// matches "<ab>".
func joinPrefix(prefix []byte, parts ...string) []byte {
	k := append([]byte(nil), prefix...)
	for _, p := range parts {
		k = append(k, p...)
		k = append(k, sep)
	}
	return k
}

func splitKey(key, prefix []byte) ([3]Term, error) {
	var out [3]Term
	parts := bytes.SplitN(key[len(prefix):], []byte{sep}, 3)
	if len(parts) != 3 {
		return out, fmt.Errorf("corrupt triple key %q", key)
	}
	for i, raw := range parts {
		t, err := ParseTerm(string(raw))
		if err != nil {
			return out, fmt.Errorf("corrupt triple key %q: %w", key, err)
		}
		out[i] = t
	}
	return out, nil
}

func (l *layout) decodeSPO(key []byte) (Triple, error) {
	t, err := splitKey(key, l.spo)
	return Triple{Subject: t[0], Predicate: t[1], Object: t[2]}, err
}

func (l *layout) decodePOS(key []byte) (Triple, error) {
	t, err := splitKey(key, l.pos)
	return Triple{Subject: t[2], Predicate: t[0], Object: t[1]}, err
}

func (l *layout) decodeOSP(key []byte) (Triple, error) {
	t, err := splitKey(key, l.osp)
	return Triple{Subject: t[1], Predicate: t[2], Object: t[0]}, err
}
