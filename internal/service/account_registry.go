package service

import (
	"context"
	"strings"
	"time"

	"marketplace-client/internal/model"
	"marketplace-client/internal/storage"
)

const MaxSavedAccounts = 10

// AccountRegistry is the device-local list of previously signed-in
// identities, most recent first. It never calls the network; a saved
// token is re-validated by whoever uses it.
type AccountRegistry struct {
	store *storage.CredentialStore
	now   func() time.Time
}

func NewAccountRegistry(store *storage.CredentialStore) *AccountRegistry {
	return &AccountRegistry{store: store, now: time.Now}
}

func (r *AccountRegistry) List(ctx context.Context) []model.SavedAuthentication {
	var entries []model.SavedAuthentication
	if !r.store.GetJSON(ctx, storage.KeySavedAccounts, &entries) {
		return []model.SavedAuthentication{}
	}
	if entries == nil {
		return []model.SavedAuthentication{}
	}
	return entries
}

func (r *AccountRegistry) Find(ctx context.Context, slug string) (model.SavedAuthentication, bool) {
	slug = strings.TrimSpace(slug)
	for _, entry := range r.List(ctx) {
		if entry.IdentitySlug == slug {
			return entry, true
		}
	}
	return model.SavedAuthentication{}, false
}

// Save upserts the entry for slug at the front of the list and truncates
// the list to MaxSavedAccounts.
func (r *AccountRegistry) Save(ctx context.Context, slug string, token string) bool {
	slug = strings.TrimSpace(slug)
	if slug == "" || token == "" {
		return false
	}

	existing := r.List(ctx)
	entries := make([]model.SavedAuthentication, 0, len(existing)+1)
	entries = append(entries, model.SavedAuthentication{
		IdentitySlug: slug,
		Token:        token,
		LastSignInAt: r.now().UTC(),
	})
	for _, entry := range existing {
		if entry.IdentitySlug == slug {
			continue
		}
		entries = append(entries, entry)
	}

	if len(entries) > MaxSavedAccounts {
		entries = entries[:MaxSavedAccounts]
	}

	return r.store.SetJSON(ctx, storage.KeySavedAccounts, entries)
}

// Remove forgets slug. Removing an unknown slug succeeds.
func (r *AccountRegistry) Remove(ctx context.Context, slug string) bool {
	slug = strings.TrimSpace(slug)

	existing := r.List(ctx)
	entries := make([]model.SavedAuthentication, 0, len(existing))
	for _, entry := range existing {
		if entry.IdentitySlug != slug {
			entries = append(entries, entry)
		}
	}

	if len(entries) == len(existing) {
		return true
	}

	return r.store.SetJSON(ctx, storage.KeySavedAccounts, entries)
}
