// Package chat keeps a client-side view of one document conversation in
// sync with the server: cached pages of persisted messages, an optimistic
// entry for a just-submitted question, and a single in-progress entry that
// accumulates the streamed answer.
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrBusy is returned when a submission is attempted while another one is
// still in flight.
var ErrBusy = errors.New("chat: a message is already in flight")

// EntryKind tags the provenance of a conversation entry.
type EntryKind int

const (
	// EntryPersisted came from the server's message log.
	EntryPersisted EntryKind = iota
	// EntryOptimistic is a locally inserted question awaiting confirmation.
	EntryOptimistic
	// EntryInProgress is the assistant answer still being streamed.
	EntryInProgress
)

// Entry is one row of the conversation view, newest first.
type Entry struct {
	Kind          EntryKind
	ID            string
	Text          string
	IsUserMessage bool
	CreatedAt     time.Time
}

// Message is a persisted conversation message as the server reports it.
type Message struct {
	ID            string
	Text          string
	IsUserMessage bool
	CreatedAt     time.Time
}

// Page is one page of persisted messages, newest first.
type Page struct {
	Messages   []Message
	NextCursor string
}

// Backend is the server the session talks to.
type Backend interface {
	MessagePage(ctx context.Context, documentID, cursor string, limit int) (Page, error)
	SendMessage(ctx context.Context, documentID, message string, onDelta func(string) error) error
}

// State is the submission state of a session.
type State int

const (
	StateIdle State = iota
	StateSubmitting
	StateStreaming
)

// Session reconciles the local conversation view for one document. All
// methods are safe for concurrent use; OnChange fires after every visible
// mutation so a UI can re-render.
type Session struct {
	backend    Backend
	documentID string
	pageLimit  int

	// OnChange, when set, is called (without the session lock held) after
	// each change to the visible entries or state.
	OnChange func()

	mu         sync.Mutex
	state      State
	entries    []Entry
	nextCursor string
	draft      string

	refetchCancel context.CancelFunc
}

// NewSession creates a session over the given document. pageLimit <= 0
// uses the server default.
func NewSession(backend Backend, documentID string, pageLimit int) *Session {
	return &Session{
		backend:    backend,
		documentID: documentID,
		pageLimit:  pageLimit,
	}
}

// State returns the current submission state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Entries returns a snapshot of the conversation view, newest first.
func (s *Session) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Draft returns the unsent input text. A failed submission restores the
// submitted text here so the user can retry.
func (s *Session) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// SetDraft records the unsent input text.
func (s *Session) SetDraft(text string) {
	s.mu.Lock()
	s.draft = text
	s.mu.Unlock()
}

// HasMore reports whether older messages remain beyond the cached pages.
func (s *Session) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextCursor != ""
}

// Refresh replaces the cached view with the first page from the server.
// A refresh that loses to a concurrent Submit is abandoned silently.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if s.refetchCancel != nil {
		s.refetchCancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	s.refetchCancel = cancel
	s.mu.Unlock()
	defer cancel()

	page, err := s.backend.MessagePage(ctx, s.documentID, "", s.pageLimit)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	s.mu.Lock()
	if ctx.Err() != nil || s.state != StateIdle {
		// A submission started while the page was in flight; the stale
		// page must not clobber the optimistic view.
		s.mu.Unlock()
		return nil
	}
	s.entries = entriesFromPage(page)
	s.nextCursor = page.NextCursor
	s.mu.Unlock()
	s.notify()
	return nil
}

// LoadMore appends the next page of older messages to the view.
func (s *Session) LoadMore(ctx context.Context) error {
	s.mu.Lock()
	cursor := s.nextCursor
	s.mu.Unlock()
	if cursor == "" {
		return nil
	}

	page, err := s.backend.MessagePage(ctx, s.documentID, cursor, s.pageLimit)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.entries = append(s.entries, entriesFromPage(page)...)
	s.nextCursor = page.NextCursor
	s.mu.Unlock()
	s.notify()
	return nil
}

// Submit sends the current draft through the full optimistic flow: the
// question appears immediately as an optimistic entry, the streamed answer
// accumulates in one in-progress entry, and on completion the view is
// reconciled against the server. On failure the view rolls back to its
// pre-submission snapshot and the draft is restored. Only one submission
// may be in flight.
func (s *Session) Submit(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrBusy
	}
	question := strings.TrimSpace(s.draft)
	if question == "" {
		s.mu.Unlock()
		return errors.New("chat: empty message")
	}

	// A refetch started before submission must not clobber the optimistic
	// view when it lands.
	if s.refetchCancel != nil {
		s.refetchCancel()
		s.refetchCancel = nil
	}

	snapshot := make([]Entry, len(s.entries))
	copy(snapshot, s.entries)

	s.draft = ""
	s.state = StateSubmitting
	s.entries = append([]Entry{{
		Kind:          EntryOptimistic,
		ID:            uuid.New().String(),
		Text:          question,
		IsUserMessage: true,
		CreatedAt:     time.Now(),
	}}, s.entries...)
	s.mu.Unlock()
	s.notify()

	var answer strings.Builder
	err := s.backend.SendMessage(ctx, s.documentID, question, func(delta string) error {
		answer.WriteString(delta)
		full := answer.String()

		s.mu.Lock()
		if s.state == StateSubmitting {
			s.state = StateStreaming
			s.entries = append([]Entry{{
				Kind:      EntryInProgress,
				ID:        uuid.New().String(),
				Text:      full,
				CreatedAt: time.Now(),
			}}, s.entries...)
		} else {
			// The accumulated decode always lands in the single
			// in-progress entry at the head.
			s.entries[0].Text = full
		}
		s.mu.Unlock()
		s.notify()
		return nil
	})

	if err != nil {
		s.mu.Lock()
		s.entries = snapshot
		s.draft = question
		s.state = StateIdle
		s.mu.Unlock()
		s.notify()
		return err
	}

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
	s.notify()

	// Settle: the optimistic and in-progress entries are replaced by the
	// server's persisted log.
	return s.Refresh(ctx)
}

func (s *Session) notify() {
	if s.OnChange != nil {
		s.OnChange()
	}
}

func entriesFromPage(page Page) []Entry {
	entries := make([]Entry, len(page.Messages))
	for i, m := range page.Messages {
		entries[i] = Entry{
			Kind:          EntryPersisted,
			ID:            m.ID,
			Text:          m.Text,
			IsUserMessage: m.IsUserMessage,
			CreatedAt:     m.CreatedAt,
		}
	}
	return entries
}
