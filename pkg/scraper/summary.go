package scraper

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"igfeed/pkg/identity"
	"igfeed/pkg/models"
	"igfeed/pkg/policy"
)

// Summary tallies one run
type Summary struct {
	RunID      uuid.UUID
	Identity   string
	Target     string
	MaxItems   int
	Status     models.RunStatus
	Considered int
	Inserted   int
	Duplicates int
	Errors     int
	Aborted    bool
	AbortKind  policy.Kind
	Error      string
	StartedAt  time.Time
	Duration   time.Duration
}

// Message is the one-line outcome stored with the run log
func (s *Summary) Message() string {
	return fmt.Sprintf("considered %d of max %d: %d inserted, %d duplicates, %d errors",
		s.Considered, s.MaxItems, s.Inserted, s.Duplicates, s.Errors)
}

func (s *Summary) record() *models.Run {
	run := &models.Run{
		ID:             s.RunID,
		Target:         s.Target,
		IdentityHandle: s.Identity,
		Status:         s.Status,
		Considered:     s.Considered,
		Inserted:       s.Inserted,
		Duplicates:     s.Duplicates,
		Errors:         s.Errors,
		ErrorMessage:   s.Error,
		StartedAt:      s.StartedAt,
	}
	if s.Status != models.RunRunning {
		done := s.StartedAt.Add(s.Duration)
		run.CompletedAt = &done
		run.Message = s.Message()
	}
	return run
}

// RunError ends a run before the feed is exhausted. Its message is the
// operator facing diagnostic.
type RunError struct {
	Stage       policy.Stage
	Kind        policy.Kind
	Identity    string
	Deactivated bool
	Reason      string
	Err         error
}

func (e *RunError) Error() string {
	switch {
	case errors.Is(e.Err, identity.ErrNoActiveIdentity):
		return "no active identity: add one with `igfeed identity add <handle>` or activate an existing one with `igfeed identity activate <handle>`"
	case e.Deactivated:
		return fmt.Sprintf("identity %s was deactivated: %s. Supply a new identity (`igfeed identity add`) or wait before retrying", e.Identity, e.Reason)
	case e.Kind == policy.SessionInvalidated:
		return fmt.Sprintf("session of %s is no longer accepted (%v). Re-authenticate with `igfeed session reset %s` and run again", e.Identity, e.Err, e.Identity)
	case e.Stage == policy.StageLogin:
		return fmt.Sprintf("authentication of %s failed: %v", e.Identity, e.Err)
	case e.Stage == policy.StageProfile:
		return fmt.Sprintf("could not resolve target profile: %v", e.Err)
	default:
		return fmt.Sprintf("run aborted while fetching with identity %s (%s): %v. Supply a new identity or wait before retrying", e.Identity, e.Kind, e.Err)
	}
}

func (e *RunError) Unwrap() error {
	return e.Err
}
