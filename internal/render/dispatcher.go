// Package render hands assembled documents to the rendering engine and
// persists what it produces next to the document.
package render

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/JakeFAU/fanbox-archiver/internal/archive"
)

// Artifact extensions.
const (
	PDFExt   = ".pdf"
	ImageExt = ".jpg"
)

// Dispatcher implements archive.Dispatcher on top of an archive.RenderEngine.
type Dispatcher struct {
	engine archive.RenderEngine
	hasher archive.Hasher
	logger *zap.Logger
}

// NewDispatcher wires a rendering engine. hasher may be nil.
func NewDispatcher(engine archive.RenderEngine, hasher archive.Hasher, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{engine: engine, hasher: hasher, logger: logger}
}

// Dispatch renders req and writes "{OutputBase}.pdf" and, when a screenshot
// is requested, "{OutputBase}.jpg".
func (d *Dispatcher) Dispatch(ctx context.Context, req archive.RenderRequest) (archive.Artifacts, error) {
	if d.engine == nil {
		return archive.Artifacts{}, fmt.Errorf("%w: no rendering engine configured", archive.ErrRenderFailure)
	}
	res, err := d.engine.Render(ctx, req)
	if err != nil {
		if !errors.Is(err, archive.ErrRenderFailure) {
			err = fmt.Errorf("%w: %w", archive.ErrRenderFailure, err)
		}
		return archive.Artifacts{}, err
	}
	if len(res.PDF) == 0 {
		return archive.Artifacts{}, fmt.Errorf("%w: engine returned an empty pdf", archive.ErrRenderFailure)
	}

	var out archive.Artifacts
	out.PDF = req.OutputBase + PDFExt
	if err := writeArtifact(out.PDF, res.PDF); err != nil {
		return archive.Artifacts{}, err
	}
	if d.hasher != nil {
		sum, err := d.hasher.Hash(res.PDF)
		if err != nil {
			d.logger.Warn("hash pdf failed", zap.String("post_id", req.PostID), zap.Error(err))
		} else {
			out.PDFHash = sum
		}
	}

	if req.Screenshot {
		if len(res.Image) == 0 {
			return out, fmt.Errorf("%w: engine returned an empty screenshot", archive.ErrRenderFailure)
		}
		out.Image = req.OutputBase + ImageExt
		if err := writeArtifact(out.Image, res.Image); err != nil {
			return out, err
		}
	}
	return out, nil
}

func writeArtifact(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w: %v", path, archive.ErrFilesystem, err)
	}
	return nil
}
