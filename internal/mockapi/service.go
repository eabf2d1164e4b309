package mockapi

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"marketplace-client/internal/model"
	"marketplace-client/pkg/apierror"
)

type user struct {
	identity     model.Identity
	passwordHash string
}

// AuthService issues and validates HS256 tokens for the development
// backend. Refresh tokens rotate on use; sign-out revokes both tokens.
type AuthService struct {
	jwtSecret  []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	bcryptCost int

	mu            sync.RWMutex
	usersBySlug   map[string]*user
	usersByID     map[string]*user
	refreshTokens map[string]string
	revokedJTIs   map[string]struct{}
	generation    int64
	refreshCalls  int
}

func NewAuthService(cfg Config) (*AuthService, error) {
	cost := cfg.BcryptCost
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}

	s := &AuthService{
		jwtSecret:     []byte(cfg.JWTSecret),
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		bcryptCost:    cost,
		usersBySlug:   map[string]*user{},
		usersByID:     map[string]*user{},
		refreshTokens: map[string]string{},
		revokedJTIs:   map[string]struct{}{},
	}

	for _, slug := range cfg.SeedUsers {
		slug = strings.TrimSpace(slug)
		if slug == "" {
			continue
		}
		if _, err := s.Register(slug, cfg.SeedPassword, strings.ToUpper(slug[:1])+slug[1:]); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *AuthService) Login(identifier string, secret string) (model.TokenPair, error) {
	s.mu.RLock()
	u, exists := s.usersBySlug[normalizeSlug(identifier)]
	s.mu.RUnlock()
	if !exists {
		return model.TokenPair{}, apierror.New("UNAUTHORIZED", "invalid credentials", "", http.StatusUnauthorized)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.passwordHash), []byte(secret)); err != nil {
		return model.TokenPair{}, apierror.New("UNAUTHORIZED", "invalid credentials", "", http.StatusUnauthorized)
	}

	return s.issueTokenPair(u.identity)
}

func (s *AuthService) Register(identifier string, secret string, name string) (model.TokenPair, error) {
	slug := normalizeSlug(identifier)
	secret = strings.TrimSpace(secret)
	if slug == "" || secret == "" {
		return model.TokenPair{}, apierror.New("BAD_REQUEST", "identifier and secret are required", "", http.StatusBadRequest)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.bcryptCost)
	if err != nil {
		return model.TokenPair{}, err
	}

	if strings.TrimSpace(name) == "" {
		name = slug
	}

	s.mu.Lock()
	if _, exists := s.usersBySlug[slug]; exists {
		s.mu.Unlock()
		return model.TokenPair{}, apierror.New("ALREADY_EXISTS", "identifier already registered", slug, http.StatusConflict)
	}

	u := &user{
		identity: model.Identity{
			ID:       uuid.NewString(),
			Slug:     slug,
			Name:     name,
			Role:     "buyer",
			Settings: model.Settings{Locale: "en", Currency: "USD", Notifications: true},
		},
		passwordHash: string(hash),
	}
	s.usersBySlug[slug] = u
	s.usersByID[u.identity.ID] = u
	s.mu.Unlock()

	return s.issueTokenPair(u.identity)
}

func (s *AuthService) Refresh(refreshToken string) (model.TokenPair, error) {
	s.mu.Lock()
	s.refreshCalls++
	s.mu.Unlock()

	claims, err := s.ValidateToken(refreshToken, "refresh")
	if err != nil {
		return model.TokenPair{}, err
	}

	s.mu.Lock()
	ownerID, exists := s.refreshTokens[refreshToken]
	if !exists || ownerID != claims.Subject {
		s.mu.Unlock()
		return model.TokenPair{}, apierror.New("UNAUTHORIZED", "refresh token is invalid", "", http.StatusUnauthorized)
	}
	delete(s.refreshTokens, refreshToken)
	u, userExists := s.usersByID[claims.Subject]
	s.mu.Unlock()

	if !userExists {
		return model.TokenPair{}, apierror.New("UNAUTHORIZED", "user not found", "", http.StatusUnauthorized)
	}

	return s.issueTokenPair(u.identity)
}

// Logout revokes the presented access token and, when given, the refresh token.
func (s *AuthService) Logout(accessJTI string, refreshToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if accessJTI != "" {
		s.revokedJTIs[accessJTI] = struct{}{}
	}
	delete(s.refreshTokens, refreshToken)
}

// RevokeAll invalidates every token issued so far, as a server-side
// session purge would.
func (s *AuthService) RevokeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refreshTokens = map[string]string{}
	s.generation++
}

func (s *AuthService) RefreshCalls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshCalls
}

type tokenClaims struct {
	model.AuthClaims
	TokenID string
}

func (s *AuthService) ValidateToken(tokenString string, expectedType string) (*tokenClaims, error) {
	parsed, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apierror.New("UNAUTHORIZED", "invalid token signing method", "", http.StatusUnauthorized)
		}
		return s.jwtSecret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, apierror.New("UNAUTHORIZED", "invalid or expired token", "", http.StatusUnauthorized)
	}

	claimsMap, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, apierror.New("UNAUTHORIZED", "invalid token claims", "", http.StatusUnauthorized)
	}

	claims := &tokenClaims{}
	claims.Type, _ = claimsMap["typ"].(string)
	if expectedType != "" && claims.Type != expectedType {
		return nil, apierror.New("UNAUTHORIZED", "invalid token type", "", http.StatusUnauthorized)
	}

	claims.Subject, _ = claimsMap["sub"].(string)
	claims.Slug, _ = claimsMap["slug"].(string)
	claims.Role, _ = claimsMap["role"].(string)
	claims.TokenID, _ = claimsMap["jti"].(string)
	if exp, err := claimsMap.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}

	if claims.Subject == "" {
		return nil, apierror.New("UNAUTHORIZED", "invalid token subject", "", http.StatusUnauthorized)
	}

	generation, _ := claimsMap["gen"].(float64)

	s.mu.RLock()
	_, revoked := s.revokedJTIs[claims.TokenID]
	purged := int64(generation) != s.generation
	s.mu.RUnlock()
	if revoked || purged {
		return nil, apierror.New("UNAUTHORIZED", "token revoked", "", http.StatusUnauthorized)
	}

	return claims, nil
}

func (s *AuthService) IdentityByID(userID string) (model.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, exists := s.usersByID[userID]
	if !exists {
		return model.Identity{}, apierror.New("NOT_FOUND", "user not found", userID, http.StatusNotFound)
	}

	return u.identity, nil
}

func (s *AuthService) issueTokenPair(identity model.Identity) (model.TokenPair, error) {
	now := time.Now().UTC()

	s.mu.RLock()
	generation := s.generation
	s.mu.RUnlock()

	accessToken, err := s.signToken(jwt.MapClaims{
		"sub":  identity.ID,
		"slug": identity.Slug,
		"role": identity.Role,
		"typ":  "access",
		"gen":  generation,
		"jti":  uuid.NewString(),
		"iat":  now.Unix(),
		"exp":  now.Add(s.accessTTL).Unix(),
	})
	if err != nil {
		return model.TokenPair{}, err
	}

	refreshToken, err := s.signToken(jwt.MapClaims{
		"sub": identity.ID,
		"typ": "refresh",
		"gen": generation,
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": now.Add(s.refreshTTL).Unix(),
	})
	if err != nil {
		return model.TokenPair{}, err
	}

	s.mu.Lock()
	s.refreshTokens[refreshToken] = identity.ID
	s.mu.Unlock()

	return model.TokenPair{
		Token:        accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.accessTTL.Seconds()),
		User:         identity,
	}, nil
}

func (s *AuthService) signToken(claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func normalizeSlug(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}
