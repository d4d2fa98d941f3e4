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

package secrets

import (
	"errors"
	"sort"
)

// Resolver queries backends in priority order. It implements the pipeline's
// CredentialSource contract.
type Resolver struct {
	backends []Backend
}

// NewResolver creates a resolver over the given backends, highest priority
// first. Unavailable backends are skipped at resolution time.
func NewResolver(backends ...Backend) *Resolver {
	sorted := make([]Backend, len(backends))
	copy(sorted, backends)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() > sorted[j].Priority()
	})
	return &Resolver{backends: sorted}
}

// DefaultResolver builds the standard chain: environment (allowlisted),
// then the OS keychain.
func DefaultResolver() *Resolver {
	return NewResolver(
		NewEnvBackend(DefaultAllowlist),
		NewKeychainBackend(),
	)
}

// Lookup implements pipeline.CredentialSource.
func (r *Resolver) Lookup(id string) (string, bool) {
	for _, backend := range r.backends {
		if !backend.Available() {
			continue
		}
		value, err := backend.Get(id)
		if err == nil {
			return value, true
		}
		if !errors.Is(err, ErrSecretNotFound) {
			continue
		}
	}
	return "", false
}
