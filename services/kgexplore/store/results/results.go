// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package results keeps the last successful result of every analysis service.
package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/kgexplore/pkg/logging"
	"github.com/AleutianAI/kgexplore/services/kgexplore/analysis"
	"github.com/AleutianAI/kgexplore/services/kgexplore/facade"
	kgbadger "github.com/AleutianAI/kgexplore/services/kgexplore/storage/badger"
)

// ErrNotFound is returned when a service has no stored result.
var ErrNotFound = errors.New("no result stored for service")

var keyPrefix = []byte("r/")

// Record is a stored analysis result.
type Record struct {
	Service    string          `json:"service"`
	RunID      facade.RunID    `json:"run_id"`
	Items      int             `json:"items"`
	Value      json.RawMessage `json:"value,omitempty"`
	ComputedAt time.Time       `json:"computed_at"`
	StoredAt   time.Time       `json:"stored_at"`
}

// Store persists records in badger under the "r/" prefix.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db     *kgbadger.DB
	logger *slog.Logger
	now    func() time.Time
}

// New creates a result store on db.
func New(db *kgbadger.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logging.OrNop(logger).With(slog.String("component", "results")),
		now:    time.Now,
	}
}

func key(service string) []byte {
	return append(append([]byte(nil), keyPrefix...), service...)
}

// StoreResult records result as the latest for service.
func (s *Store) StoreResult(ctx context.Context, runID facade.RunID, service string, result analysis.Result) error {
	value, err := json.Marshal(result.Value)
	if err != nil {
		return fmt.Errorf("encode result of %s: %w", service, err)
	}
	rec := Record{
		Service:    service,
		RunID:      runID,
		Items:      result.Items,
		Value:      value,
		ComputedAt: result.ComputedAt,
		StoredAt:   s.now().UTC(),
	}
	if err := s.db.PutJSON(ctx, key(service), rec); err != nil {
		return fmt.Errorf("store result of %s: %w", service, err)
	}
	s.logger.Debug("result stored",
		slog.String("service", service),
		slog.String("run_id", string(runID)),
		slog.Int("items", result.Items))
	return nil
}

// Get returns the latest record for service.
func (s *Store) Get(ctx context.Context, service string) (Record, error) {
	var rec Record
	err := s.db.GetJSON(ctx, key(service), &rec)
	if errors.Is(err, kgbadger.ErrNotFound) {
		return Record{}, fmt.Errorf("%s: %w", service, ErrNotFound)
	}
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// List returns the latest record of every service, ordered by service name.
// Values are omitted.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	var out []Record
	err := s.db.ScanPrefix(ctx, keyPrefix, false, func(k, v []byte) error {
		var rec Record
		if err := json.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("decode %s: %w", strings.TrimPrefix(string(k), string(keyPrefix)), err)
		}
		rec.Value = nil
		out = append(out, rec)
		return nil
	})
	return out, err
}

// Clear removes every stored record.
func (s *Store) Clear() error {
	return s.db.DropPrefix(keyPrefix)
}
