// Package scraper runs one ingestion pass over a target profile.
//
// A run selects the first active identity, authenticates it through the
// session manager, resolves the target and walks its timeline with a capped
// feed iterator. Every considered slot goes through the ingestion pipeline;
// failures are classified by the policy package, which decides whether the
// run pauses, skips, continues or aborts. Login-stage credential failures and
// throttling deactivate the identity.
//
// Collaborators are passed explicitly in a RunContext:
//
//	s, err := scraper.New(scraper.RunContext{
//	    Pacing:     cfg.Pacing,
//	    SkipVideos: cfg.Download.SkipVideos,
//	    Identities: db,
//	    Items:      db,
//	    Runs:       db,
//	    Sessions:   sessions,
//	    Source:     client,
//	    Fetcher:    client,
//	    Files:      files,
//	})
//	summary, err := s.Run(ctx, "alice", 50)
//
// Runs are strictly sequential. The pacing delay after each insert and the
// cooldown after a throttled fetch block the run; cancelling ctx ends it with
// status interrupted.
package scraper
