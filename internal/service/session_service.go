package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"marketplace-client/internal/event"
	"marketplace-client/internal/metrics"
	"marketplace-client/internal/model"
	"marketplace-client/internal/storage"
	"marketplace-client/pkg/apierror"
)

type State string

const (
	StateAnonymous      State = "anonymous"
	StateAuthenticating State = "authenticating"
	StateAuthenticated  State = "authenticated"
	StateExpiring       State = "expiring"
)

// AuthAPI is the slice of the marketplace backend the session needs.
type AuthAPI interface {
	SignIn(ctx context.Context, identifier string, secret string) (model.TokenPair, error)
	SignUp(ctx context.Context, req model.SignUpRequest) (model.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (model.TokenPair, error)
	SignOut(ctx context.Context, refreshToken string) error
	Profile(ctx context.Context) (model.Identity, error)
	ProfileWithToken(ctx context.Context, token string) (model.Identity, error)
}

// SessionCache is any session-scoped cache that must be emptied when the
// current identity goes away.
type SessionCache interface {
	Clear(ctx context.Context)
}

type SignInResult struct {
	Identity model.Identity
	Token    string
}

type Options struct {
	Store       *storage.CredentialStore
	Tokens      *TokenStore
	Registry    *AccountRegistry
	Timer       *SessionTimer
	Broadcaster event.Broadcaster
	API         AuthAPI
	Metrics     *metrics.Recorder
	Caches      []SessionCache

	// RefreshDedup collapses concurrent Refresh calls onto one request.
	RefreshDedup       bool
	SignInRateLimitRPM int
	// SignOutTimeout bounds the sign-out run by the session timer and any
	// local credential writes that outlive the caller's context.
	SignOutTimeout time.Duration
}

// SessionService is the token lifecycle manager: it signs identities in
// and out, keeps the credential record, and runs the expiry protocol for
// local expiry, refresh failure and session timeout.
type SessionService struct {
	store       *storage.CredentialStore
	tokens      *TokenStore
	registry    *AccountRegistry
	timer       *SessionTimer
	broadcaster event.Broadcaster
	api         AuthAPI
	metrics     *metrics.Recorder
	caches      []SessionCache
	limiter     *rate.Limiter
	dedup       bool
	refreshes   singleflight.Group
	signOutWait time.Duration
	now         func() time.Time

	phaseMu sync.Mutex
	phase   State
}

func NewSessionService(opts Options) (*SessionService, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: credential store is required", model.ErrInvalidInput)
	}
	if opts.API == nil {
		return nil, fmt.Errorf("%w: auth api is required", model.ErrInvalidInput)
	}

	s := &SessionService{
		store:       opts.Store,
		tokens:      opts.Tokens,
		registry:    opts.Registry,
		timer:       opts.Timer,
		broadcaster: opts.Broadcaster,
		api:         opts.API,
		metrics:     opts.Metrics,
		caches:      opts.Caches,
		dedup:       opts.RefreshDedup,
		signOutWait: opts.SignOutTimeout,
		now:         time.Now,
	}

	if s.tokens == nil {
		s.tokens = NewTokenStore(opts.Store)
	}
	if s.registry == nil {
		s.registry = NewAccountRegistry(opts.Store)
	}
	if s.timer == nil {
		s.timer = NewSessionTimer("", 0)
	}
	if s.broadcaster == nil {
		s.broadcaster = event.NewBroadcaster()
	}
	if s.signOutWait <= 0 {
		s.signOutWait = 10 * time.Second
	}
	if opts.SignInRateLimitRPM > 0 {
		s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.SignInRateLimitRPM)), opts.SignInRateLimitRPM)
	}

	s.timer.OnFire(s.onTimeout)

	return s, nil
}

func (s *SessionService) Tokens() *TokenStore {
	return s.tokens
}

func (s *SessionService) Registry() *AccountRegistry {
	return s.registry
}

func (s *SessionService) SignIn(ctx context.Context, identifier string, secret string) (SignInResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || secret == "" {
		return SignInResult{}, fmt.Errorf("%w: identifier and secret are required", model.ErrInvalidInput)
	}

	if err := s.allowSignIn(); err != nil {
		return SignInResult{}, err
	}

	s.setPhase(StateAuthenticating)
	defer s.setPhase("")

	pair, err := s.api.SignIn(ctx, identifier, secret)
	if err != nil {
		s.metrics.SignIn(signInOutcome(err))
		return SignInResult{}, err
	}

	return s.establish(ctx, pair)
}

func (s *SessionService) SignUp(ctx context.Context, req model.SignUpRequest) (SignInResult, error) {
	req.Identifier = strings.TrimSpace(req.Identifier)
	if req.Identifier == "" || req.Secret == "" {
		return SignInResult{}, fmt.Errorf("%w: identifier and secret are required", model.ErrInvalidInput)
	}

	if err := s.allowSignIn(); err != nil {
		return SignInResult{}, err
	}

	s.setPhase(StateAuthenticating)
	defer s.setPhase("")

	pair, err := s.api.SignUp(ctx, req)
	if err != nil {
		s.metrics.SignIn(signInOutcome(err))
		return SignInResult{}, err
	}

	return s.establish(ctx, pair)
}

// establish persists a freshly issued session: token, refresh credential,
// identity snapshot, registry entry, then the session timer. If any write
// fails the session keys are rolled back so the device is never left
// looking signed in without a retrievable token.
func (s *SessionService) establish(ctx context.Context, pair model.TokenPair) (SignInResult, error) {
	ctx, cancel := s.localContext(ctx)
	defer cancel()

	steps := []struct {
		name string
		run  func() bool
	}{
		{"token", func() bool { return s.tokens.SetToken(ctx, pair.Token) }},
		{"refresh_token", func() bool { return s.tokens.SetRefreshToken(ctx, pair.RefreshToken) }},
		{"identity", func() bool { return s.writeSnapshot(ctx, pair.User) }},
		{"saved_account", func() bool { return s.registry.Save(ctx, pair.User.Slug, pair.Token) }},
	}

	for _, step := range steps {
		if step.run() {
			continue
		}

		slog.Error("sign-in succeeded remotely but could not be persisted", "step", step.name, "slug", pair.User.Slug)
		s.store.RemoveAll(ctx, storage.SessionKeys...)
		s.metrics.SignIn("persistence_failed")
		return SignInResult{}, fmt.Errorf("%w: %s", model.ErrPersistence, step.name)
	}

	s.timer.Start()
	s.broadcaster.Dismiss()
	s.metrics.SignIn("success")
	slog.Info("signed in", "slug", pair.User.Slug)

	return SignInResult{Identity: pair.User, Token: pair.Token}, nil
}

func (s *SessionService) writeSnapshot(ctx context.Context, identity model.Identity) bool {
	return s.store.SetJSON(ctx, storage.KeyIdentity, identity) &&
		s.store.Set(ctx, storage.KeyIdentityID, identity.ID) &&
		s.store.Set(ctx, storage.KeyIdentitySlug, identity.Slug) &&
		s.store.SetJSON(ctx, storage.KeySettings, identity.Settings)
}

func (s *SessionService) allowSignIn() error {
	if s.limiter == nil || s.limiter.Allow() {
		return nil
	}
	s.metrics.SignIn("rate_limited")
	return model.ErrRateLimited
}

// IsValid reports whether token has not expired. It never calls the network.
func (s *SessionService) IsValid(token string) bool {
	return TokenValidAt(token, s.now())
}

// EnsureAuthenticated reports whether a usable token is stored, refreshing
// an expired one first. It is safe to call concurrently.
func (s *SessionService) EnsureAuthenticated(ctx context.Context) bool {
	token, ok := s.tokens.CurrentToken(ctx)
	if !ok {
		return false
	}
	if s.IsValid(token) {
		return true
	}

	s.setPhase(StateExpiring)
	defer s.setPhase("")

	refreshed, err := s.Refresh(ctx)
	if err != nil || refreshed == "" {
		return false
	}
	return s.IsValid(refreshed)
}

// Refresh exchanges the stored refresh credential for a new token. With no
// refresh credential it returns "" and no error. A failed exchange signs
// the session out and is never retried.
func (s *SessionService) Refresh(ctx context.Context) (string, error) {
	if !s.dedup {
		return s.refresh(ctx)
	}

	result, err, shared := s.refreshes.Do("refresh", func() (any, error) {
		return s.refresh(ctx)
	})
	if shared {
		slog.Debug("joined in-flight token refresh")
	}

	token, _ := result.(string)
	return token, err
}

func (s *SessionService) refresh(ctx context.Context) (string, error) {
	refreshToken, ok := s.tokens.RefreshToken(ctx)
	if !ok {
		s.metrics.Refresh("no_credential")
		return "", nil
	}

	pair, err := s.api.Refresh(ctx, refreshToken)
	if err != nil {
		slog.Warn("token refresh rejected; signing out", "error", err)
		s.metrics.Refresh("failed")
		s.expire(ctx, "refresh_failed", event.MessageRefreshFailed)
		return "", fmt.Errorf("%w: %w", model.ErrRefreshFailed, err)
	}

	// The server has already rotated the credentials, so the writes below
	// outlive the caller.
	ctx, cancel := s.localContext(ctx)
	defer cancel()

	// Concurrent refreshes each overwrite the stored token; the last one wins.
	if !s.tokens.SetToken(ctx, pair.Token) {
		s.metrics.Refresh("persistence_failed")
		return "", fmt.Errorf("%w: token", model.ErrPersistence)
	}
	if pair.RefreshToken != "" && !s.tokens.SetRefreshToken(ctx, pair.RefreshToken) {
		s.metrics.Refresh("persistence_failed")
		return "", fmt.Errorf("%w: refresh_token", model.ErrPersistence)
	}

	if slug, ok := s.store.Get(ctx, storage.KeyIdentitySlug); ok && !s.registry.Save(ctx, slug, pair.Token) {
		slog.Warn("saved account keeps its previous token after refresh", "slug", slug)
	}

	s.timer.Touch()
	s.metrics.Refresh("success")
	return pair.Token, nil
}

// SignOut ends the session. The remote call is best effort; local state is
// always cleared. Calling it again is harmless.
func (s *SessionService) SignOut(ctx context.Context) error {
	s.timer.Stop()

	local, cancel := s.localContext(ctx)
	defer cancel()

	if _, ok := s.tokens.CurrentToken(local); ok {
		refreshToken, _ := s.tokens.RefreshToken(local)
		if err := s.api.SignOut(ctx, refreshToken); err != nil {
			slog.Warn("remote sign-out failed; clearing local session anyway", "error", err)
		}
	}

	if !s.clearSession(local) {
		return fmt.Errorf("%w: could not clear session", model.ErrPersistence)
	}

	slog.Info("signed out")
	return nil
}

// SwitchUser clears the current session but keeps the saved accounts so
// another identity can be picked. It makes no remote call.
func (s *SessionService) SwitchUser(ctx context.Context) error {
	s.timer.Stop()

	ctx, cancel := s.localContext(ctx)
	defer cancel()

	if !s.clearSession(ctx) {
		return fmt.Errorf("%w: could not clear session", model.ErrPersistence)
	}

	slog.Info("session cleared for account switch", "saved_accounts", len(s.registry.List(ctx)))
	return nil
}

// localContext detaches ctx from the caller's cancellation. Local credential
// writes and removals must finish even when the request that triggered them
// was abandoned.
func (s *SessionService) localContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.signOutWait)
}

func (s *SessionService) clearSession(ctx context.Context) bool {
	ok := s.store.RemoveAll(ctx, storage.SessionKeys...)
	for _, cache := range s.caches {
		cache.Clear(ctx)
	}
	return ok
}

// ResumeAccount makes a saved account current again after checking its
// token locally and against the profile endpoint.
func (s *SessionService) ResumeAccount(ctx context.Context, slug string) (model.Identity, error) {
	entry, ok := s.registry.Find(ctx, slug)
	if !ok {
		return model.Identity{}, fmt.Errorf("%w: %s", model.ErrAccountNotFound, slug)
	}
	if !s.IsValid(entry.Token) {
		return model.Identity{}, fmt.Errorf("%w: %s", model.ErrSavedTokenExpired, slug)
	}

	s.setPhase(StateAuthenticating)
	defer s.setPhase("")

	identity, err := s.api.ProfileWithToken(ctx, entry.Token)
	if err != nil {
		if apierror.IsUnauthorized(err) {
			return model.Identity{}, fmt.Errorf("%w: %s", model.ErrSavedTokenExpired, slug)
		}
		return model.Identity{}, err
	}

	s.timer.Stop()
	local, cancel := s.localContext(ctx)
	s.clearSession(local)
	cancel()

	result, err := s.establish(ctx, model.TokenPair{Token: entry.Token, User: identity})
	if err != nil {
		return model.Identity{}, err
	}
	return result.Identity, nil
}

// ForgetAccount removes slug from the saved accounts.
func (s *SessionService) ForgetAccount(ctx context.Context, slug string) error {
	if _, ok := s.registry.Find(ctx, slug); !ok {
		return fmt.Errorf("%w: %s", model.ErrAccountNotFound, slug)
	}
	if !s.registry.Remove(ctx, slug) {
		return fmt.Errorf("%w: saved accounts", model.ErrPersistence)
	}
	return nil
}

func (s *SessionService) Accounts(ctx context.Context) []model.SavedAuthentication {
	return s.registry.List(ctx)
}

// CheckAuth reports token presence only. It does not check expiry.
func (s *SessionService) CheckAuth(ctx context.Context) bool {
	_, ok := s.tokens.CurrentToken(ctx)
	return ok
}

// CurrentUser returns the cached identity snapshot, or nil when signed
// out. The snapshot is for display only.
func (s *SessionService) CurrentUser(ctx context.Context) *model.Identity {
	var identity model.Identity
	if !s.store.GetJSON(ctx, storage.KeyIdentity, &identity) {
		return nil
	}
	return &identity
}

// RefreshProfile fetches the profile and rewrites the snapshot.
func (s *SessionService) RefreshProfile(ctx context.Context) (model.Identity, error) {
	if !s.CheckAuth(ctx) {
		return model.Identity{}, model.ErrNotAuthenticated
	}

	identity, err := s.api.Profile(ctx)
	if err != nil {
		return model.Identity{}, err
	}

	if !s.writeSnapshot(ctx, identity) {
		return model.Identity{}, fmt.Errorf("%w: identity", model.ErrPersistence)
	}
	return identity, nil
}

// Touch records user activity for the idle timeout.
func (s *SessionService) Touch() {
	s.timer.Touch()
}

func (s *SessionService) Subscribe(listener event.Listener) func() {
	return s.broadcaster.Subscribe(listener)
}

func (s *SessionService) State(ctx context.Context) State {
	s.phaseMu.Lock()
	phase := s.phase
	s.phaseMu.Unlock()

	if phase != "" {
		return phase
	}
	if s.CheckAuth(ctx) {
		return StateAuthenticated
	}
	return StateAnonymous
}

func (s *SessionService) setPhase(phase State) {
	s.phaseMu.Lock()
	defer s.phaseMu.Unlock()
	s.phase = phase
}

func (s *SessionService) onTimeout() {
	ctx, cancel := context.WithTimeout(context.Background(), s.signOutWait)
	defer cancel()

	if !s.CheckAuth(ctx) {
		return
	}

	slog.Info("session timed out", "mode", s.timer.Mode())
	s.expire(ctx, "timeout", event.MessageSessionTimedOut)
}

// expire signs out and tells subscribers why.
func (s *SessionService) expire(ctx context.Context, reason string, message string) {
	if err := s.SignOut(ctx); err != nil {
		slog.Error("sign-out after session expiry failed", "reason", reason, "error", err)
	}
	s.metrics.SessionExpired(reason)
	s.broadcaster.Publish(true, message)
}

func signInOutcome(err error) string {
	var apiErr *apierror.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.HTTPStatus < 500:
		return "rejected"
	case errors.Is(err, model.ErrMalformedResponse):
		return "malformed"
	default:
		return "error"
	}
}
