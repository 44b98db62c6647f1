package models

import (
	"time"

	"github.com/google/uuid"
)

// Identity is a scraper account stored in sc_bot_accounts
type Identity struct {
	ID         int64      `json:"id"`
	Handle     string     `json:"handle"`
	Secret     string     `json:"-"`
	Active     bool       `json:"active"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	Notes      string     `json:"notes,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Item is one ingested post stored in sc_raw_news_feeds
type Item struct {
	ID            int64     `json:"id"`
	ExternalID    string    `json:"external_id"`
	SourceHandle  string    `json:"source_handle"`
	Caption       string    `json:"caption"`
	PayloadPaths  []string  `json:"payload_paths"`
	LikesCount    int       `json:"likes_count"`
	CommentsCount int       `json:"comments_count"`
	PostedAt      time.Time `json:"posted_at"`
	ScrapedAt     time.Time `json:"scraped_at"`
	Processed     bool      `json:"processed"`
	ErrorNote     string    `json:"error_note,omitempty"`
}

type RunStatus string

const (
	RunRunning     RunStatus = "running"
	RunCompleted   RunStatus = "completed"
	RunFailed      RunStatus = "failed"
	RunInterrupted RunStatus = "interrupted"
)

// Run is one scraper invocation stored in sc_scraper_logs
type Run struct {
	ID             uuid.UUID  `json:"id"`
	Target         string     `json:"target"`
	IdentityHandle string     `json:"identity_handle"`
	Status         RunStatus  `json:"status"`
	Considered     int        `json:"considered"`
	Inserted       int        `json:"inserted"`
	Duplicates     int        `json:"duplicates"`
	Errors         int        `json:"errors"`
	Message        string     `json:"message,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

type Stats struct {
	Identities       int
	ActiveIdentities int
	Items            int
	PendingItems     int
}

// Cookie is one HTTP cookie of an authenticated session
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain,omitempty"`
	Path     string    `json:"path,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HttpOnly bool      `json:"http_only,omitempty"`
}
