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
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Extension is the file suffix of N-Triples data files.
const Extension = ".nt"

// LoadStats summarizes a directory load.
type LoadStats struct {
	Files    int           `json:"files"`
	Triples  int           `json:"triples"`
	Duration time.Duration `json:"duration"`
}

// DataFiles lists the N-Triples files under dir, recursively, sorted.
func DataFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), Extension) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list data files in %s: %w", dir, err)
	}
	slices.Sort(files)
	return files, nil
}

// LoadDir parses every data file under dir and replaces the graph with their
// union. Nothing is replaced if any file fails to parse.
func (s *Store) LoadDir(ctx context.Context, dir string) (LoadStats, error) {
	start := time.Now()
	files, err := DataFiles(dir)
	if err != nil {
		return LoadStats{}, err
	}

	var all []Triple
	for _, path := range files {
		triples, err := parseFile(path)
		if err != nil {
			return LoadStats{}, err
		}
		all = append(all, triples...)
	}

	n, err := s.Replace(ctx, all)
	if err != nil {
		return LoadStats{}, err
	}
	stats := LoadStats{Files: len(files), Triples: n, Duration: time.Since(start)}
	s.logger.Info("data directory loaded",
		slog.String("dir", dir),
		slog.Int("files", stats.Files),
		slog.Int("triples", stats.Triples),
		slog.Duration("duration", stats.Duration),
	)
	return stats, nil
}

func parseFile(path string) ([]Triple, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	triples, err := ParseNTriples(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return triples, nil
}
