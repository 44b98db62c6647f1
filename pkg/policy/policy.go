// Package policy classifies failures raised while authenticating and
// iterating a feed, and decides how the run continues.
//
// Decide is a pure function of (stage, kind). Login failures are treated as
// account-level signals and abort the run, deactivating the identity when they
// indicate bad credentials or a ban. Per-item failures are recovered locally so
// that one bad item never ends a run, except for an invalidated session.
package policy

import (
	"fmt"

	errs "igfeed/pkg/errors"
)

// Stage is the part of a run an error was raised in
type Stage string

const (
	StageLogin   Stage = "login"
	StageProfile Stage = "profile"
	StageFetch   Stage = "fetch"
)

// Kind is the policy-level classification of an error
type Kind int

const (
	Unclassified Kind = iota
	CredentialFatal
	ThrottleAtLogin
	ThrottleAtFetch
	ItemNotFound
	SessionInvalidated
	PersistenceDuplicate
)

func (k Kind) String() string {
	switch k {
	case CredentialFatal:
		return "credential_fatal"
	case ThrottleAtLogin:
		return "throttle_at_login"
	case ThrottleAtFetch:
		return "throttle_at_fetch"
	case ItemNotFound:
		return "item_not_found"
	case SessionInvalidated:
		return "session_invalidated"
	case PersistenceDuplicate:
		return "persistence_duplicate"
	default:
		return "unclassified"
	}
}

type Action int

const (
	// Continue with the next item
	Continue Action = iota
	// Pause the whole run for the cooldown, then continue
	Pause
	// SkipDuplicate treats the item as already ingested
	SkipDuplicate
	// Abort ends the run
	Abort
)

func (a Action) String() string {
	switch a {
	case Pause:
		return "pause"
	case SkipDuplicate:
		return "skip_duplicate"
	case Abort:
		return "abort"
	default:
		return "continue"
	}
}

// Decision is what the run does about one classified failure
type Decision struct {
	Action     Action
	Deactivate bool
	CountError bool
}

// Classify maps an error raised in stage to a Kind
func Classify(stage Stage, err error) Kind {
	if err == nil {
		return Unclassified
	}
	if errs.IsDuplicate(err) {
		return PersistenceDuplicate
	}

	switch errs.TypeOf(err) {
	case errs.ErrorTypeBadCredentials, errs.ErrorTypeTwoFactor, errs.ErrorTypeCheckpoint:
		return CredentialFatal
	case errs.ErrorTypeRateLimit, errs.ErrorTypeNetwork, errs.ErrorTypeServerError:
		if stage == StageLogin {
			return ThrottleAtLogin
		}
		return ThrottleAtFetch
	case errs.ErrorTypeNotFound:
		return ItemNotFound
	case errs.ErrorTypeLoginRequired:
		return SessionInvalidated
	default:
		return Unclassified
	}
}

// Decide returns the action for a failure of kind raised in stage
func Decide(stage Stage, kind Kind) Decision {
	switch stage {
	case StageLogin:
		switch kind {
		case CredentialFatal, ThrottleAtLogin:
			return Decision{Action: Abort, Deactivate: true}
		default:
			return Decision{Action: Abort}
		}

	case StageProfile:
		return Decision{Action: Abort}

	default:
		switch kind {
		case ThrottleAtFetch, ThrottleAtLogin:
			return Decision{Action: Pause, CountError: true}
		case PersistenceDuplicate:
			return Decision{Action: SkipDuplicate}
		case SessionInvalidated, CredentialFatal:
			return Decision{Action: Abort}
		default:
			return Decision{Action: Continue, CountError: true}
		}
	}
}

// Reason renders the deactivation note for a login-stage failure
func Reason(kind Kind, err error) string {
	switch kind {
	case CredentialFatal:
		switch errs.TypeOf(err) {
		case errs.ErrorTypeTwoFactor:
			return "two-factor authentication required"
		case errs.ErrorTypeCheckpoint:
			return "security checkpoint required"
		default:
			return "invalid credentials"
		}
	case ThrottleAtLogin:
		if errs.TypeOf(err) == errs.ErrorTypeRateLimit {
			return fmt.Sprintf("rate limited at login: %v", err)
		}
		return fmt.Sprintf("connection error at login: %v", err)
	default:
		if err == nil {
			return kind.String()
		}
		return fmt.Sprintf("%s: %v", kind, err)
	}
}
