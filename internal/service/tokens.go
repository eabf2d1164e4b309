package service

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"marketplace-client/internal/model"
	"marketplace-client/internal/storage"
)

// TokenStore owns the credential record. It keeps no copy of the token:
// every read goes back to the credential store.
type TokenStore struct {
	store *storage.CredentialStore
	now   func() time.Time
}

func NewTokenStore(store *storage.CredentialStore) *TokenStore {
	return &TokenStore{store: store, now: time.Now}
}

func (t *TokenStore) Credential(ctx context.Context) (model.Credential, bool) {
	var credential model.Credential
	if !t.store.GetJSON(ctx, storage.KeyToken, &credential) {
		return model.Credential{}, false
	}
	if strings.TrimSpace(credential.Token) == "" {
		return model.Credential{}, false
	}
	return credential, true
}

// CurrentToken implements transport.TokenSource.
func (t *TokenStore) CurrentToken(ctx context.Context) (string, bool) {
	credential, ok := t.Credential(ctx)
	if !ok {
		return "", false
	}
	return credential.Token, true
}

func (t *TokenStore) SetToken(ctx context.Context, token string) bool {
	issuedAt := t.now().UTC()
	return t.store.SetJSON(ctx, storage.KeyToken, model.Credential{Token: token, IssuedAt: &issuedAt})
}

// ClearToken implements transport.TokenSource. Only the bearer token is
// removed; the identity snapshot stays until sign-out.
func (t *TokenStore) ClearToken(ctx context.Context) bool {
	return t.store.Remove(ctx, storage.KeyToken)
}

func (t *TokenStore) RefreshToken(ctx context.Context) (string, bool) {
	value, ok := t.store.Get(ctx, storage.KeyRefreshToken)
	if !ok || strings.TrimSpace(value) == "" {
		return "", false
	}
	return value, true
}

// SetRefreshToken stores value, or removes the key when value is empty so
// a previous identity's refresh credential cannot outlive it.
func (t *TokenStore) SetRefreshToken(ctx context.Context, value string) bool {
	if value == "" {
		return t.store.Remove(ctx, storage.KeyRefreshToken)
	}
	return t.store.Set(ctx, storage.KeyRefreshToken, value)
}

// TokenValidAt decodes the expiry claim of token without verifying its
// signature. A token that does not parse is invalid; a token without an
// expiry claim is valid.
func TokenValidAt(token string, now time.Time) bool {
	if strings.TrimSpace(token) == "" {
		return false
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}

	expiresAt, err := claims.GetExpirationTime()
	if err != nil {
		return false
	}
	if expiresAt == nil {
		return true
	}

	return now.Before(expiresAt.Time)
}
