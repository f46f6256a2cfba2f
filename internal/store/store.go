// Package store keeps the per-conversation message lists consistent under
// out-of-order push events. Events for contexts the user is not currently
// viewing still arrive over the same connection; every apply operation is a
// no-op for unknown ids rather than an error.
package store

import (
	"sync"

	"parley/internal/models"

	"github.com/c-pro/geche"
)

type Store struct {
	// buckets is mutated only from the connection dispatch path; the
	// RWMutex exists for readers on other goroutines.
	buckets map[models.Context][]*models.MessageRecord

	// Lookup tables for mention and custom-emoji substitution, fed by
	// init/data_synced snapshots.
	users geche.Geche[string, models.User]
	emoji geche.Geche[string, models.Emoji]

	mu sync.RWMutex
}

func New() *Store {
	return &Store{
		buckets: make(map[models.Context][]*models.MessageRecord),
		users:   geche.NewMapCache[string, models.User](),
		emoji:   geche.NewMapCache[string, models.Emoji](),
	}
}

// ReplaceHistory swaps a context's bucket wholesale with a fetched page.
// Replaying the same page is idempotent. The server's order is kept as-is.
func (s *Store) ReplaceHistory(ctx models.Context, records []models.MessageRecord) {
	bucket := make([]*models.MessageRecord, len(records))
	for i := range records {
		rec := records[i]
		rec.Context = ctx
		bucket[i] = &rec
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets[ctx] = bucket
}

// Append adds a pushed message to its context bucket in arrival order.
// A record whose non-zero id already exists in the bucket is dropped
// (duplicate delivery guard). If the bucket holds a pending local record
// with the same username and content, the push acknowledges it in place
// instead of appending a twin.
func (s *Store) Append(rec models.MessageRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := s.buckets[rec.Context]
	if rec.ID != 0 {
		for _, existing := range bucket {
			if existing.ID == rec.ID {
				return
			}
		}
		for _, existing := range bucket {
			if existing.ID == 0 && existing.Username == rec.Username && existing.Content == rec.Content {
				existing.ID = rec.ID
				existing.Timestamp = rec.Timestamp
				return
			}
		}
	}

	s.buckets[rec.Context] = append(bucket, &rec)
}

// ApplyEdit updates content and edit timestamp in place. Ids are unique
// process-wide, so the search spans all buckets. Missing id is a no-op.
func (s *Store) ApplyEdit(id int64, content string, editedAt int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec := s.find(id); rec != nil {
		rec.Content = content
		rec.EditedAt = editedAt
	}
}

// ApplyDelete removes the record with id from whichever bucket holds it.
func (s *Store) ApplyDelete(id int64) {
	if id == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for ctx, bucket := range s.buckets {
		for i, rec := range bucket {
			if rec.ID == id {
				s.buckets[ctx] = append(bucket[:i:i], bucket[i+1:]...)
				return
			}
		}
	}
}

// ApplyReactions replaces the reaction list wholesale; the server is
// authoritative on the full set, not deltas.
func (s *Store) ApplyReactions(id int64, reactions []models.Reaction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec := s.find(id); rec != nil {
		rec.Reactions = reactions
	}
}

// UpdateAttachments is called by the upload flow once files finish
// uploading after the message id was assigned.
func (s *Store) UpdateAttachments(id int64, attachments []models.Attachment) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec := s.find(id); rec != nil {
		rec.Attachments = attachments
	}
}

// Messages returns a copy of a context's bucket in arrival order.
func (s *Store) Messages(ctx models.Context) []models.MessageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bucket := s.buckets[ctx]
	out := make([]models.MessageRecord, len(bucket))
	for i, rec := range bucket {
		out[i] = *rec
	}
	return out
}

// Len reports the number of messages held for a context.
func (s *Store) Len(ctx models.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buckets[ctx])
}

// find returns the record with the given non-zero id, or nil. Caller holds
// the lock.
func (s *Store) find(id int64) *models.MessageRecord {
	if id == 0 {
		return nil
	}
	for _, bucket := range s.buckets {
		for _, rec := range bucket {
			if rec.ID == id {
				return rec
			}
		}
	}
	return nil
}

// SetUsers merges a snapshot frame into the known-user table.
func (s *Store) SetUsers(users []models.User) {
	for _, u := range users {
		s.users.Set(u.Username, u)
	}
}

// User looks up a member by username.
func (s *Store) User(username string) (models.User, bool) {
	u, err := s.users.Get(username)
	return u, err == nil
}

// SetEmoji merges a snapshot frame into the custom-emoji table.
func (s *Store) SetEmoji(emoji []models.Emoji) {
	for _, e := range emoji {
		s.emoji.Set(e.Name, e)
	}
}

// EmojiURL resolves a :name: custom emoji to its image URL.
func (s *Store) EmojiURL(name string) (string, bool) {
	e, err := s.emoji.Get(name)
	if err != nil {
		return "", false
	}
	return e.URL, true
}
