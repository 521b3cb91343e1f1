package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist or is not
// visible to the caller. Ownership misses map to the same error so a
// response never reveals that another user's record exists.
var ErrNotFound = errors.New("not found")

// Document indexing statuses. Transitions are write-once per stage and
// driven only by the index worker: pending -> processing -> success|failed.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusSuccess    = "success"
	StatusFailed     = "failed"
)

type User struct {
	ID        string
	Email     string
	CreatedAt time.Time
}

// Document is one uploaded file owned by a single user.
type Document struct {
	ID         string
	UserID     string
	Name       string
	StorageKey string
	URL        string
	Status     string
	CreatedAt  time.Time
}

// Message is one conversational turn. Immutable after creation; an
// in-progress assistant answer exists only as transient client state until
// the stream completes and exactly one Message is persisted.
type Message struct {
	ID            string
	DocumentID    string
	UserID        string
	IsUserMessage bool
	Text          string
	CreatedAt     time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
