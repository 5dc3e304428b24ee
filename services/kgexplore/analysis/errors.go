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

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the analysis package.
var (
	// ErrNilService is returned when a registration has no service.
	ErrNilService = errors.New("service must not be nil")

	// ErrEmptyName is returned when a service reports an empty name.
	ErrEmptyName = errors.New("service name must not be empty")

	// ErrReservedCapability is returned when a service name, capability, or
	// required service collides with a facade ID.
	ErrReservedCapability = errors.New("requirement name is reserved for a facade")

	// ErrUnknownFacade is returned for a facade requirement that names no
	// facade.
	ErrUnknownFacade = errors.New("unknown facade")

	// ErrSelfRequirement is returned when a service requires a capability it
	// implements itself.
	ErrSelfRequirement = errors.New("service requires its own capability")

	// ErrCycleDetected is returned when declared requirements form a cycle.
	ErrCycleDetected = errors.New("cyclic requirement declaration")
)

// RegistrationError wraps a registration failure with the service name.
type RegistrationError struct {
	Name string
	Err  error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("register analysis %q: %v", e.Name, e.Err)
}

func (e *RegistrationError) Unwrap() error {
	return e.Err
}

// CycleError describes one cycle in the requirement graph. Path lists
// service names and starts and ends with the same service.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "cyclic requirement declaration: " + strings.Join(e.Path, " -> ")
}

func (e *CycleError) Unwrap() error {
	return ErrCycleDetected
}
