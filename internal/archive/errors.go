package archive

import (
	"errors"
	"fmt"
)

// Error taxonomy. Page-level ErrTransport and ErrMalformedResponse abort the
// run; the remaining sentinels abort only the current post.
var (
	ErrTransport             = errors.New("transport error")
	ErrMalformedResponse     = errors.New("malformed response")
	ErrMissingMediaReference = errors.New("missing media reference")
	ErrRenderFailure         = errors.New("render failure")
	ErrFilesystem            = errors.New("filesystem error")
)

// Stage names the per-post step that failed.
type Stage string

// Per-post pipeline stages.
const (
	StageNormalize Stage = "normalize"
	StageDirectory Stage = "directory"
	StageMedia     Stage = "media"
	StageDocument  Stage = "document"
	StageRender    Stage = "render"
)

// PostError reports a failure confined to a single post.
type PostError struct {
	PostID string
	Stage  Stage
	Err    error
}

func (e *PostError) Error() string {
	return fmt.Sprintf("post %s: %s: %v", e.PostID, e.Stage, e.Err)
}

func (e *PostError) Unwrap() error {
	return e.Err
}

// IsPostLevel reports whether err should fail only the current post.
func IsPostLevel(err error) bool {
	var pe *PostError
	if errors.As(err, &pe) {
		return true
	}
	return errors.Is(err, ErrMissingMediaReference) ||
		errors.Is(err, ErrRenderFailure) ||
		errors.Is(err, ErrFilesystem)
}
