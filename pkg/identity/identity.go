// Package identity selects and mutates the scraper accounts used to
// authenticate against Instagram.
//
// Identities are provisioned out of band (see `igfeed identity add`). A run
// picks the first active identity, marks it used after a successful login and
// deactivates it when the login stage reports a ban or credential signal.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zalando/go-keyring"

	"igfeed/pkg/models"
)

// KeyringService is the OS keyring service igfeed stores its secrets under
const KeyringService = "igfeed"

// secretPrefix marks an identity secret that lives in the OS keyring
const secretPrefix = "keyring:"

var (
	ErrNoActiveIdentity = errors.New("no active identity available")
	ErrNotFound         = errors.New("identity not found")
)

// Store is the persistence surface the run needs for identities
type Store interface {
	// FindActive returns the first active identity ordered by id
	FindActive(ctx context.Context) (*models.Identity, error)
	Update(ctx context.Context, identity *models.Identity) error
}

// MarkUsed records a successful authentication
func MarkUsed(identity *models.Identity, now time.Time) {
	t := now.UTC()
	identity.LastUsedAt = &t
	identity.UpdatedAt = t
}

// Deactivate takes the identity out of rotation and appends the reason to its notes
func Deactivate(identity *models.Identity, reason string, now time.Time) {
	if strings.TrimSpace(reason) == "" {
		reason = "unspecified"
	}

	line := fmt.Sprintf("Deactivated: %s at %s", reason, now.UTC().Format(time.RFC3339))
	if identity.Notes == "" {
		identity.Notes = line
	} else {
		identity.Notes = identity.Notes + "\n" + line
	}
	identity.Active = false
	identity.UpdatedAt = now.UTC()
}

// Activate puts a previously deactivated identity back into rotation
func Activate(identity *models.Identity, now time.Time) {
	identity.Active = true
	identity.UpdatedAt = now.UTC()
}

// KeyringRef returns the secret value that points at a keyring entry
func KeyringRef(handle string) string {
	return secretPrefix + handle
}

// StoreSecret writes a password to the OS keyring and returns the reference to persist
func StoreSecret(handle, password string) (string, error) {
	if err := keyring.Set(KeyringService, handle, password); err != nil {
		return "", fmt.Errorf("failed to store secret in keyring: %w", err)
	}
	return KeyringRef(handle), nil
}

// ResolveSecret returns the password for an identity. Secrets written as
// "keyring:<name>" are read from the OS keyring.
func ResolveSecret(identity *models.Identity) (string, error) {
	name, ok := strings.CutPrefix(identity.Secret, secretPrefix)
	if !ok {
		if identity.Secret == "" {
			return "", fmt.Errorf("identity %s has no secret", identity.Handle)
		}
		return identity.Secret, nil
	}

	secret, err := keyring.Get(KeyringService, name)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("keyring entry %q for identity %s not found", name, identity.Handle)
		}
		return "", fmt.Errorf("failed to read keyring entry %q: %w", name, err)
	}
	return secret, nil
}
