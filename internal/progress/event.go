// Package progress defines the events an archive run emits.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Run and post milestones.
const (
	StageRunStart  Stage = "RUN_START"
	StagePageDone  Stage = "PAGE_DONE"
	StagePostDone  Stage = "POST_DONE"
	StagePostSkip  Stage = "POST_SKIP"
	StagePostError Stage = "POST_ERROR"
	StageRunDone   Stage = "RUN_DONE"
	StageRunError  Stage = "RUN_ERROR"
)

// Event captures one step of an archive run.
type Event struct {
	// RunID identifies the run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// PostID scopes post events.
	PostID string
	// URL is the feed page or post URL.
	URL string
	// Bytes is the media volume downloaded for a post.
	Bytes int64
	// Count is the number of items on a page or media files of a post.
	Count int
	Dur   time.Duration
	// Note carries short context such as a skip reason or error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError, StagePageDone:
	case StagePostDone, StagePostSkip, StagePostError:
		if e.PostID == "" {
			return fmt.Errorf("%s requires post id", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Bytes < 0 || e.Count < 0 {
		return errors.New("counters must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ParseRunID converts a textual run id into the Event form.
func ParseRunID(s string) ([16]byte, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return [16]byte{}, fmt.Errorf("parse run id: %w", err)
	}
	return UUIDToBytes(id), nil
}
