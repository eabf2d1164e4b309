package storage

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	saltFileName = ".salt"
	saltLength   = 16

	kdfTime    = 1
	kdfMemory  = 64 * 1024
	kdfThreads = 4
)

// EncryptedFileBackend is the secure backend for hosts without an OS
// keychain. Values are sealed with XChaCha20-Poly1305 under a key derived
// from a passphrase; the key name is bound as associated data so a
// ciphertext copied to another key fails to open.
type EncryptedFileBackend struct {
	files *FileBackend
	aead  cipher.AEAD
}

func NewEncryptedFileBackend(dir string, passphrase string) (*EncryptedFileBackend, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("%w: encrypted file backend requires a passphrase", ErrUnavailable)
	}

	files, err := NewFileBackend(dir)
	if err != nil {
		return nil, err
	}

	salt, err := loadOrCreateSalt(dir)
	if err != nil {
		return nil, err
	}

	key := argon2.IDKey([]byte(passphrase), salt, kdfTime, kdfMemory, kdfThreads, chacha20poly1305.KeySize)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}

	return &EncryptedFileBackend{files: files, aead: aead}, nil
}

func (e *EncryptedFileBackend) Name() string { return "encrypted-file" }

func (e *EncryptedFileBackend) Get(ctx context.Context, key string) (string, bool, error) {
	encoded, ok, err := e.files.Get(ctx, key)
	if err != nil || !ok {
		return "", ok, err
	}

	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", false, fmt.Errorf("%w: %q is not valid base64", ErrCorrupted, key)
	}

	nonceSize := e.aead.NonceSize()
	if len(sealed) < nonceSize+e.aead.Overhead() {
		return "", false, fmt.Errorf("%w: %q is truncated", ErrCorrupted, key)
	}

	plain, err := e.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], []byte(key))
	if err != nil {
		return "", false, fmt.Errorf("%w: %q failed authentication", ErrCorrupted, key)
	}

	return string(plain), true, nil
}

func (e *EncryptedFileBackend) Set(ctx context.Context, key string, value string) error {
	nonce := make([]byte, e.aead.NonceSize(), e.aead.NonceSize()+len(value)+e.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	sealed := e.aead.Seal(nonce, nonce, []byte(value), []byte(key))
	return e.files.Set(ctx, key, base64.StdEncoding.EncodeToString(sealed))
}

func (e *EncryptedFileBackend) Remove(ctx context.Context, key string) error {
	return e.files.Remove(ctx, key)
}

func loadOrCreateSalt(dir string) ([]byte, error) {
	path := filepath.Join(dir, saltFileName)

	salt, err := os.ReadFile(path)
	if err == nil {
		if len(salt) != saltLength {
			return nil, fmt.Errorf("%w: salt file has %d bytes", ErrCorrupted, len(salt))
		}
		return salt, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read salt: %w", err)
	}

	salt = make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	if err := writeFileAtomic(path, salt, 0o600); err != nil {
		return nil, fmt.Errorf("write salt: %w", err)
	}

	return salt, nil
}
