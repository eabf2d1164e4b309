package model

import "time"

// Identity is the denormalized user snapshot cached next to the credential.
// It is a display cache only and must never back an authorization decision.
type Identity struct {
	ID       string   `json:"_id"`
	Slug     string   `json:"slug"`
	Name     string   `json:"name"`
	Role     string   `json:"role"`
	Settings Settings `json:"settings"`
}

type Settings struct {
	Locale        string `json:"locale,omitempty"`
	Currency      string `json:"currency,omitempty"`
	Notifications bool   `json:"notifications"`
}

type Credential struct {
	Token    string     `json:"token"`
	IssuedAt *time.Time `json:"issued_at,omitempty"`
}

// SavedAuthentication is one entry of the device-local account registry.
// Its token is a convenience cache and is re-validated before use.
type SavedAuthentication struct {
	IdentitySlug string    `json:"identity_slug"`
	Token        string    `json:"token"`
	LastSignInAt time.Time `json:"last_sign_in_at"`
}

type AuthClaims struct {
	Subject   string    `json:"sub"`
	Slug      string    `json:"slug"`
	Role      string    `json:"role"`
	Type      string    `json:"typ"`
	ExpiresAt time.Time `json:"exp"`
}

type TokenPair struct {
	Token        string   `json:"token"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	TokenType    string   `json:"token_type,omitempty"`
	ExpiresIn    int64    `json:"expires_in,omitempty"`
	User         Identity `json:"user"`
}
