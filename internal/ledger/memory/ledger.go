// Package memory is a per-process archive ledger.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/JakeFAU/fanbox-archiver/internal/archive"
)

// Ledger remembers archived posts in a map.
type Ledger struct {
	mu      sync.RWMutex
	records map[string]archive.Record
}

// New returns an empty Ledger.
func New() *Ledger {
	return &Ledger{records: make(map[string]archive.Record)}
}

// Has reports whether postID was recorded.
func (l *Ledger) Has(_ context.Context, postID string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.records[postID]
	return ok, nil
}

// Record stores rec, replacing an earlier record for the same post.
func (l *Ledger) Record(_ context.Context, rec archive.Record) error {
	if rec.PostID == "" {
		return errors.New("record post id is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[rec.PostID] = rec
	return nil
}

// Get returns the record for postID.
func (l *Ledger) Get(postID string) (archive.Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[postID]
	return rec, ok
}

// Len returns the number of recorded posts.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}
