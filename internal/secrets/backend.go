// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package secrets resolves credentials for pipeline steps from layered
// backends: environment variables first, then the OS keychain.
package secrets

import (
	"errors"
)

var (
	// ErrSecretNotFound is returned when a key does not exist in a backend.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrBackendUnavailable is returned when a backend cannot be used in
	// the current environment.
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// Backend provides read access to stored credentials. Backends are queried
// in priority order by the Resolver; values never reach logs.
type Backend interface {
	// Name returns the backend identifier (e.g., "env", "keychain").
	Name() string

	// Get retrieves a secret by key. Returns ErrSecretNotFound if absent.
	Get(key string) (string, error)

	// Available returns true if this backend is usable right now.
	Available() bool

	// Priority returns the resolution priority (higher = checked first).
	// Standard priorities: env (100), keychain (50).
	Priority() int
}
