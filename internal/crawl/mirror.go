package crawl

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/fanbox-archiver/internal/archive"
)

// mirror uploads the post's artifacts and downloaded media. It returns the
// URIs keyed by file name; failures are logged and leave the file out.
func (e *Engine) mirror(
	ctx context.Context,
	postID string,
	artifacts archive.Artifacts,
	results []archive.MediaResult,
) map[string]string {
	if e.deps.Mirror == nil {
		return nil
	}
	files := make([]string, 0, 3+len(results))
	for _, p := range []string{artifacts.Document, artifacts.PDF, artifacts.Image} {
		if p != "" {
			files = append(files, p)
		}
	}
	for _, r := range results {
		if r.Err == nil && r.Path != "" {
			files = append(files, r.Path)
		}
	}

	uris := make(map[string]string, len(files))
	for _, file := range files {
		name := filepath.Base(file)
		uri, err := e.upload(ctx, ObjectPath(e.cfg.MirrorPrefix, postID, name), file)
		if err != nil {
			e.logger.Warn("mirror upload failed",
				zap.String("post_id", postID),
				zap.String("file", name),
				zap.Error(err),
			)
			continue
		}
		uris[name] = uri
	}
	return uris
}

func (e *Engine) upload(ctx context.Context, objectPath, file string) (string, error) {
	f, err := os.Open(file) // #nosec G304 -- file is an artifact this run just wrote.
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	uri, err := e.deps.Mirror.PutObject(ctx, objectPath, ContentType(file), f)
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", objectPath, err)
	}
	return uri, nil
}

// ObjectPath builds "{prefix}/{postID}/{name}", dropping an empty prefix.
func ObjectPath(prefix, postID, name string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return path.Join(postID, name)
	}
	return path.Join(prefix, postID, name)
}

// ContentType guesses a MIME type from the file extension.
func ContentType(file string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(file))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
