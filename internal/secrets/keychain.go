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

	"github.com/zalando/go-keyring"
)

// keychainService is the service name credentials are stored under in the
// OS keychain.
const keychainService = "conveyor"

// KeychainBackend resolves credentials from the operating system keychain
// (macOS Keychain, Secret Service on Linux, Windows Credential Manager).
type KeychainBackend struct {
	service string
}

// NewKeychainBackend creates a keychain-backed credential source.
func NewKeychainBackend() *KeychainBackend {
	return &KeychainBackend{service: keychainService}
}

// Name implements Backend.
func (b *KeychainBackend) Name() string { return "keychain" }

// Get implements Backend.
func (b *KeychainBackend) Get(key string) (string, error) {
	value, err := keyring.Get(b.service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrSecretNotFound
		}
		return "", ErrBackendUnavailable
	}
	return value, nil
}

// Available implements Backend: probes the keyring with a lookup that is
// expected to miss. An unsupported platform reports unavailable.
func (b *KeychainBackend) Available() bool {
	_, err := keyring.Get(b.service, "conveyor-availability-probe")
	return err == nil || errors.Is(err, keyring.ErrNotFound)
}

// Priority implements Backend.
func (b *KeychainBackend) Priority() int { return 50 }
