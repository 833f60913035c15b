// Package document assembles the self-contained HTML document archived for
// each post. Text is embedded verbatim: the feed already delivers markup.
package document

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/fanbox-archiver/internal/archive"
)

// IndexName is the document name used when rendering the local file.
const IndexName = "index.html"

// Assemble renders the post header followed by one element per segment.
func Assemble(post archive.Post, segments []archive.Segment) string {
	var b strings.Builder
	b.WriteString(`<html><head><meta http-equiv="Content-Type" content="text/html; charset=UTF-8">`)
	b.WriteString("<title>")
	b.WriteString(post.Title)
	b.WriteString("</title></head><body>\n")
	fmt.Fprintf(&b, "<p>\nid: %s<br />\ntitle: %s<br />\npublished: %s<br />\nupdated: %s<br />\n</p>\n",
		post.ID, post.Title, post.PublishedAt, post.UpdatedAt)
	b.WriteString(Body(segments))
	b.WriteString("\n</body></html>\n")
	return b.String()
}

// Body renders only the segment markup.
func Body(segments []archive.Segment) string {
	var b strings.Builder
	for _, seg := range segments {
		switch seg.Kind {
		case archive.SegmentText:
			if seg.Raw {
				b.WriteString(seg.Text)
				continue
			}
			b.WriteString("<p>")
			b.WriteString(seg.Text)
			b.WriteString("</p>")
		case archive.SegmentImage:
			b.WriteString(`<p><img src="`)
			b.WriteString(seg.LocalPath())
			b.WriteString(`" /></p>`)
		}
	}
	return b.String()
}

// FileName picks the document name for a post: index.html when the local
// file is rendered, "{id}-{title}.html" when the live post URL is rendered.
func FileName(post archive.Post, live bool) string {
	if live {
		return post.BaseName() + ".html"
	}
	return IndexName
}

// Write stores the document in dir and returns its path.
func Write(dir, name, html string) (string, error) {
	target := filepath.Join(dir, name)
	if err := os.WriteFile(target, []byte(html), 0o600); err != nil {
		return "", fmt.Errorf("write document %s: %w: %v", target, archive.ErrFilesystem, err)
	}
	return target, nil
}
