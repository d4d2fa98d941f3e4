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
	"os"
)

// DefaultAllowlist is the set of environment variables built-in steps may
// consume; they propagate into step env unchanged unless overridden.
var DefaultAllowlist = []string{
	"GIT_USERNAME",
	"GIT_PASSWORD",
	"GIT_TOKEN",
	"JAVA_HOME",
	"M2_HOME",
	"PATH",
}

// EnvBackend resolves credentials from the engine's environment, restricted
// to an allowlist. An empty allowlist grants access to every variable.
type EnvBackend struct {
	allowlist map[string]bool
}

// NewEnvBackend creates an environment-backed credential source.
func NewEnvBackend(allowlist []string) *EnvBackend {
	b := &EnvBackend{}
	if len(allowlist) > 0 {
		b.allowlist = make(map[string]bool, len(allowlist))
		for _, name := range allowlist {
			b.allowlist[name] = true
		}
	}
	return b
}

// Name implements Backend.
func (b *EnvBackend) Name() string { return "env" }

// Get implements Backend.
func (b *EnvBackend) Get(key string) (string, error) {
	if b.allowlist != nil && !b.allowlist[key] {
		return "", ErrSecretNotFound
	}
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", ErrSecretNotFound
	}
	return value, nil
}

// Available implements Backend.
func (b *EnvBackend) Available() bool { return true }

// Priority implements Backend.
func (b *EnvBackend) Priority() int { return 100 }
