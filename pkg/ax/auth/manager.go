package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	TokenStoreKeychain = "keychain"
	TokenStoreFile     = "file"

	keyringService = "ax"
)

// TokenManager persists granted tokens per context. With no StorageMode set
// it tries the OS keychain first and falls back to the file cache.
type TokenManager struct {
	CachePath   string
	StorageMode string
}

func ValidateStorageMode(mode string) error {
	switch strings.ToLower(mode) {
	case "", TokenStoreKeychain, TokenStoreFile:
		return nil
	default:
		return fmt.Errorf("unknown token storage %q: use keychain or file", mode)
	}
}

func (m *TokenManager) mode() string {
	return strings.ToLower(m.StorageMode)
}

func (m *TokenManager) GetToken(key string) (StoredToken, bool, error) {
	if err := ValidateStorageMode(m.StorageMode); err != nil {
		return StoredToken{}, false, err
	}
	if m.mode() != TokenStoreFile {
		token, ok, err := getKeychainToken(key)
		if err == nil && ok {
			return token, true, nil
		}
		if m.mode() == TokenStoreKeychain {
			return token, ok, err
		}
	}
	return m.getFileToken(key)
}

func (m *TokenManager) SaveToken(key string, token StoredToken) error {
	if err := ValidateStorageMode(m.StorageMode); err != nil {
		return err
	}
	if m.mode() != TokenStoreFile {
		err := saveKeychainToken(key, token)
		if err == nil || m.mode() == TokenStoreKeychain {
			return err
		}
	}
	return m.saveFileToken(key, token)
}

// DeleteToken removes the token from every backend the mode covers. A token
// that was never stored is not an error.
func (m *TokenManager) DeleteToken(key string) error {
	if err := ValidateStorageMode(m.StorageMode); err != nil {
		return err
	}
	var errs []error
	if m.mode() != TokenStoreFile {
		if err := keyring.Delete(keyringService, key); err != nil && !errors.Is(err, keyring.ErrNotFound) && m.mode() == TokenStoreKeychain {
			errs = append(errs, err)
		}
	}
	if m.mode() != TokenStoreKeychain {
		if err := m.deleteFileToken(key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *TokenManager) getFileToken(key string) (StoredToken, bool, error) {
	cache, err := LoadTokenCache(m.CachePath)
	if err != nil {
		if os.IsNotExist(err) {
			return StoredToken{}, false, nil
		}
		return StoredToken{}, false, err
	}
	token, ok := cache.Tokens[key]
	return token, ok, nil
}

func (m *TokenManager) saveFileToken(key string, token StoredToken) error {
	if m.CachePath == "" {
		return errors.New("token cache path is required")
	}
	cache, err := LoadTokenCache(m.CachePath)
	if err != nil {
		cache = &TokenCache{Tokens: map[string]StoredToken{}}
	}
	cache.Tokens[key] = token
	return SaveTokenCache(m.CachePath, cache)
}

func (m *TokenManager) deleteFileToken(key string) error {
	cache, err := LoadTokenCache(m.CachePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if _, ok := cache.Tokens[key]; !ok {
		return nil
	}
	delete(cache.Tokens, key)
	return SaveTokenCache(m.CachePath, cache)
}

func getKeychainToken(key string) (StoredToken, bool, error) {
	secret, err := keyring.Get(keyringService, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return StoredToken{}, false, nil
		}
		return StoredToken{}, false, fmt.Errorf("failed to read keychain: %w", err)
	}
	var token StoredToken
	if err := json.Unmarshal([]byte(secret), &token); err != nil {
		return StoredToken{}, false, fmt.Errorf("failed to parse keychain token: %w", err)
	}
	return token, true, nil
}

func saveKeychainToken(key string, token StoredToken) error {
	content, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	if err := keyring.Set(keyringService, key, string(content)); err != nil {
		return fmt.Errorf("failed to write keychain: %w", err)
	}
	return nil
}
