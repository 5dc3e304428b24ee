// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command kgexplore serves incremental analytics over an RDF knowledge graph.
//
// The data directory is loaded into the query facade; the full-text and
// traversal facades follow it, and every registered analysis runs once per
// update as soon as its requirements are met.
//
// Usage:
//
//	kgexplore serve --config kgexplore.yaml
//	kgexplore check
//	kgexplore version
//
// Example requests:
//
//	# Facade statuses
//	curl http://localhost:12250/v1/explore/facades | jq
//
//	# Reload the data directory
//	curl -X POST http://localhost:12250/v1/explore/refresh
//
//	# Latest PageRank result
//	curl http://localhost:12250/v1/explore/results/pagerank | jq
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
