// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import "context"

// ComputeFunc is the signature of FuncService's body.
type ComputeFunc func(ctx context.Context) (Result, error)

// FuncService adapts a function into a Service.
type FuncService struct {
	name string
	caps []Requirement
	fn   ComputeFunc
}

// NewFunc creates a FuncService. A nil fn computes an empty result.
func NewFunc(name string, fn ComputeFunc, capabilities ...Requirement) *FuncService {
	return &FuncService{name: name, caps: capabilities, fn: fn}
}

func (s *FuncService) Name() string { return s.name }

// Capabilities implements CapabilityProvider.
func (s *FuncService) Capabilities() []Requirement { return s.caps }

func (s *FuncService) Compute(ctx context.Context) (Result, error) {
	if s.fn == nil {
		return Result{}, nil
	}
	return s.fn(ctx)
}
