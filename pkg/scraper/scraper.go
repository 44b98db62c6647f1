package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"igfeed/pkg/config"
	"igfeed/pkg/dedup"
	"igfeed/pkg/feed"
	"igfeed/pkg/identity"
	"igfeed/pkg/ingest"
	"igfeed/pkg/logger"
	"igfeed/pkg/models"
	"igfeed/pkg/policy"
	"igfeed/pkg/retry"
	"igfeed/pkg/session"
	"igfeed/pkg/storage"
	"igfeed/pkg/telemetry"
)

// DefaultMaxItems is the iteration cap used when none is given
const DefaultMaxItems = 50

// Items is the persistence used for dedup and inserts
type Items interface {
	dedup.Source
	ingest.ItemWriter
}

// RunLog records run start and finish
type RunLog interface {
	StartRun(ctx context.Context, run *models.Run) error
	FinishRun(ctx context.Context, run *models.Run) error
}

// Authenticator is implemented by session.Manager
type Authenticator interface {
	Authenticate(ctx context.Context, id *models.Identity) (session.AuthResult, error)
}

// Notifier receives run level alerts
type Notifier interface {
	IdentityDeactivated(handle, reason string)
	RunFinished(summary *Summary)
}

// Observer is told about every considered slot
type Observer interface {
	Item(externalID string, outcome ingest.Outcome, err error)
}

// RunContext carries every collaborator of a run. Runs, Notifier, Observer
// and Logger are optional.
type RunContext struct {
	Pacing     config.PacingConfig
	SkipVideos bool

	Identities identity.Store
	Items      Items
	Runs       RunLog
	Sessions   Authenticator
	Source     feed.Source
	Fetcher    ingest.Fetcher
	Files      *storage.Manager
	Sleeper    retry.Sleeper
	Notifier   Notifier
	Observer   Observer
	Logger     logger.Logger
}

// Scraper runs one target at a time, sequentially
type Scraper struct {
	rc  RunContext
	now func() time.Time
}

// New validates rc and fills optional collaborators
func New(rc RunContext) (*Scraper, error) {
	var missing []string
	if rc.Identities == nil {
		missing = append(missing, "identities")
	}
	if rc.Items == nil {
		missing = append(missing, "items")
	}
	if rc.Sessions == nil {
		missing = append(missing, "sessions")
	}
	if rc.Source == nil {
		missing = append(missing, "source")
	}
	if rc.Fetcher == nil {
		missing = append(missing, "fetcher")
	}
	if rc.Files == nil {
		missing = append(missing, "files")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("run context is missing %v", missing)
	}

	if rc.Sleeper == nil {
		rc.Sleeper = retry.ContextSleeper{}
	}
	if rc.Logger == nil {
		rc.Logger = logger.NewNopLogger()
	}
	return &Scraper{rc: rc, now: time.Now}, nil
}

// Run authenticates the active identity and ingests up to maxItems posts of
// target. The summary is always returned. Aborted runs also return a
// *RunError; interrupted runs return the context error.
func (s *Scraper) Run(ctx context.Context, target string, maxItems int) (*Summary, error) {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}

	ctx, span := telemetry.Tracer().Start(ctx, "scraper.run")
	defer span.End()
	span.SetAttributes(attribute.String("igfeed.target", target), attribute.Int("igfeed.max_items", maxItems))

	started := s.now().UTC()
	sum := &Summary{
		RunID:     uuid.New(),
		Target:    target,
		MaxItems:  maxItems,
		Status:    models.RunRunning,
		StartedAt: started,
	}
	log := s.rc.Logger.WithFields(map[string]interface{}{
		"run_id": sum.RunID.String(),
		"target": target,
	})

	s.startRunLog(ctx, sum, log)
	err := s.run(ctx, sum, log)

	switch {
	case err == nil:
		sum.Status = models.RunCompleted
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		sum.Status = models.RunInterrupted
		err = ctx.Err()
	default:
		sum.Status = models.RunFailed
		var runErr *RunError
		if errors.As(err, &runErr) {
			sum.Aborted = true
			sum.AbortKind = runErr.Kind
		}
	}
	if err != nil {
		sum.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	sum.Duration = s.now().UTC().Sub(started)

	s.finishRunLog(ctx, sum, log)
	log.InfoWithFields("Run finished", map[string]interface{}{
		"identity":   sum.Identity,
		"status":     string(sum.Status),
		"considered": sum.Considered,
		"inserted":   sum.Inserted,
		"duplicates": sum.Duplicates,
		"errors":     sum.Errors,
	})
	if s.rc.Notifier != nil {
		s.rc.Notifier.RunFinished(sum)
	}
	return sum, err
}

func (s *Scraper) run(ctx context.Context, sum *Summary, log logger.Logger) error {
	id, err := s.rc.Identities.FindActive(ctx)
	if err != nil {
		if errors.Is(err, identity.ErrNoActiveIdentity) {
			return &RunError{Stage: policy.StageLogin, Err: err}
		}
		return fmt.Errorf("select identity: %w", err)
	}
	sum.Identity = id.Handle
	log = log.WithField("identity", id.Handle)

	if err := s.authenticate(ctx, id, log); err != nil {
		return err
	}

	profile, err := s.rc.Source.ResolveProfile(ctx, sum.Target)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		kind := policy.Classify(policy.StageProfile, err)
		log.WithError(err).WithField("kind", kind.String()).Error("Profile resolution failed")
		return &RunError{Stage: policy.StageProfile, Kind: kind, Identity: id.Handle, Err: err}
	}
	if profile.Private {
		log.Warn("Target profile is private; only followed accounts can be read")
	}

	return s.iterate(ctx, feed.New(s.rc.Source, profile, sum.MaxItems), sum, log)
}

// authenticate applies the login stage of the failure policy
func (s *Scraper) authenticate(ctx context.Context, id *models.Identity, log logger.Logger) error {
	res, err := s.rc.Sessions.Authenticate(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("authenticate %s: %w", id.Handle, err)
	}
	if res.State == session.Authenticated {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	kind := policy.Classify(policy.StageLogin, res.Err)
	decision := policy.Decide(policy.StageLogin, kind)
	runErr := &RunError{Stage: policy.StageLogin, Kind: kind, Identity: id.Handle, Err: res.Err}

	log.WithError(res.Err).WithFields(map[string]interface{}{
		"kind":   kind.String(),
		"action": decision.Action.String(),
	}).Error("Authentication failed")

	if decision.Deactivate {
		runErr.Reason = policy.Reason(kind, res.Err)
		identity.Deactivate(id, runErr.Reason, s.now())
		if err := s.rc.Identities.Update(ctx, id); err != nil {
			log.WithError(err).Error("Failed to persist identity deactivation")
			return errors.Join(runErr, fmt.Errorf("deactivate %s: %w", id.Handle, err))
		}
		runErr.Deactivated = true
		logger.LogDeactivation(log, id.Handle, runErr.Reason)
		if s.rc.Notifier != nil {
			s.rc.Notifier.IdentityDeactivated(id.Handle, runErr.Reason)
		}
	}
	return runErr
}

// iterate drives the feed through the ingestion pipeline, applying the fetch
// stage of the failure policy to every failed slot
func (s *Scraper) iterate(ctx context.Context, it *feed.Iterator, sum *Summary, log logger.Logger) error {
	var opts []ingest.Option
	if !s.rc.SkipVideos {
		opts = append(opts, ingest.WithVideoPayloads())
	}
	pipeline := ingest.New(dedup.New(s.rc.Items), s.rc.Fetcher, s.rc.Files, s.rc.Items, log, opts...)
	defer func() { sum.Considered = it.Considered() }()

	for {
		d, err := it.Next(ctx)
		if errors.Is(err, feed.ErrExhausted) {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		outcome := ingest.SkippedError
		externalID := ""
		if err == nil {
			externalID = d.ExternalID
			outcome, err = pipeline.Ingest(ctx, d, sum.Target)
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		if s.rc.Observer != nil {
			s.rc.Observer.Item(externalID, outcome, err)
		}

		if err == nil {
			switch outcome {
			case ingest.Inserted:
				sum.Inserted++
				if it.Considered() < sum.MaxItems {
					if err := s.rc.Sleeper.Sleep(ctx, retry.Uniform(s.rc.Pacing.MinDelay, s.rc.Pacing.MaxDelay)); err != nil {
						return err
					}
				}
			case ingest.SkippedDuplicate:
				sum.Duplicates++
			}
			continue
		}

		kind := policy.Classify(policy.StageFetch, err)
		decision := policy.Decide(policy.StageFetch, kind)
		log.WithError(err).WithFields(map[string]interface{}{
			"shortcode": externalID,
			"kind":      kind.String(),
			"action":    decision.Action.String(),
		}).Warn("Item failed")

		if decision.CountError {
			sum.Errors++
		}
		switch decision.Action {
		case policy.SkipDuplicate:
			sum.Duplicates++
		case policy.Pause:
			if it.Considered() >= sum.MaxItems {
				continue
			}
			logger.LogPause(log, "fetch", s.rc.Pacing.Cooldown)
			if err := s.rc.Sleeper.Sleep(ctx, s.rc.Pacing.Cooldown); err != nil {
				return err
			}
		case policy.Abort:
			return &RunError{Stage: policy.StageFetch, Kind: kind, Identity: sum.Identity, Err: err}
		}
	}
}

func (s *Scraper) startRunLog(ctx context.Context, sum *Summary, log logger.Logger) {
	if s.rc.Runs == nil {
		return
	}
	if err := s.rc.Runs.StartRun(ctx, sum.record()); err != nil {
		log.WithError(err).Warn("Failed to record run start")
	}
}

func (s *Scraper) finishRunLog(ctx context.Context, sum *Summary, log logger.Logger) {
	if s.rc.Runs == nil {
		return
	}
	// interrupted runs are still recorded
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.rc.Runs.FinishRun(ctx, sum.record()); err != nil {
		log.WithError(err).Warn("Failed to record run finish")
	}
}
