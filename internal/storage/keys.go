package storage

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

// Flat key namespace shared by every backend.
const (
	KeyToken         = "auth.token"
	KeyRefreshToken  = "auth.refresh_token"
	KeyIdentity      = "auth.user"
	KeyIdentityID    = "auth.user_id"
	KeyIdentitySlug  = "auth.user_slug"
	KeySettings      = "auth.settings"
	KeySavedAccounts = "auth.saved_accounts"
	KeySchemaVersion = "auth.schema_version"
)

// SessionKeys are cleared by sign-out and switch-user. The saved accounts
// list and the schema stamp survive both.
var SessionKeys = []string{
	KeyToken,
	KeyRefreshToken,
	KeyIdentity,
	KeyIdentityID,
	KeyIdentitySlug,
	KeySettings,
}

const maxKeyLength = 128

func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("storage key cannot be empty")
	}

	if len(key) > maxKeyLength {
		return fmt.Errorf("storage key %q exceeds %d bytes", key, maxKeyLength)
	}

	if strings.HasPrefix(key, ".") || strings.Contains(key, "..") {
		return fmt.Errorf("storage key %q must not start with a dot or contain '..'", key)
	}

	if strings.ContainsAny(key, `/\`) {
		return fmt.Errorf("storage key %q must not contain path separators", key)
	}

	for _, char := range key {
		if unicode.IsControl(char) || unicode.IsSpace(char) {
			return fmt.Errorf("storage key %q contains invalid characters", key)
		}
	}

	return nil
}

// keyFilePath maps a key to a file directly under dir.
func keyFilePath(dir string, key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}

	dirAbs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve store directory: %w", err)
	}

	resolved := filepath.Join(dirAbs, key)
	if filepath.Dir(resolved) != dirAbs {
		return "", fmt.Errorf("storage key %q resolves outside the store directory", key)
	}

	return resolved, nil
}
