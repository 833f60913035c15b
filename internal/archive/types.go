package archive

import (
	"strings"
	"time"
)

// BodyKind tells which historical wire shape a post body was decoded from.
type BodyKind int

// Supported post body shapes.
const (
	// BodyText is the legacy single-string body.
	BodyText BodyKind = iota + 1
	// BodyBlocks is the ordered block-list body.
	BodyBlocks
)

// String implements fmt.Stringer.
func (k BodyKind) String() string {
	switch k {
	case BodyText:
		return "text"
	case BodyBlocks:
		return "blocks"
	default:
		return "unknown"
	}
}

// BlockKind classifies one block of a block-list body.
type BlockKind int

// Supported block kinds.
const (
	BlockParagraph BlockKind = iota + 1
	BlockImage
	// BlockOther covers block types the archiver does not model structurally
	// (headers, files, embeds). Their text, if any, is still archived.
	BlockOther
)

// FeedPage is one decoded page of the creator feed.
type FeedPage struct {
	Items []Post
	// NextCursor is the absolute URL of the next page, empty on the last page.
	NextCursor string
}

// Post is a single feed item. A nil Body marks restricted content.
type Post struct {
	ID            string
	Title         string
	PublishedAt   string
	UpdatedAt     string
	CoverImageURL string
	Body          *PostBody
}

// BaseName returns the "{id}-{title}" stem used for rendered artifacts.
// Path separators and NUL bytes in the title are replaced so the name always
// stays inside the post directory.
func (p Post) BaseName() string {
	return p.ID + "-" + titleReplacer.Replace(p.Title)
}

var titleReplacer = strings.NewReplacer("/", "_", "\\", "_", "\x00", "_")

// PostBody is the unified body of a post. Kind is decided once at decode time.
type PostBody struct {
	Kind   BodyKind
	Text   string
	Blocks []Block
	Images map[string]MediaAsset
	Files  map[string]FileAsset
	Embeds map[string]Embed
}

// Block is one structural unit of a block-list body.
type Block struct {
	Kind    BlockKind
	Type    string
	Text    string
	ImageID string
}

// MediaAsset describes a downloadable image referenced by a post.
type MediaAsset struct {
	ID           string
	Extension    string
	OriginalURL  string
	ThumbnailURL string
	Width        int
	Height       int
}

// FileAsset is an attached file. Kept as metadata only.
type FileAsset struct {
	ID        string
	Name      string
	Extension string
	URL       string
	Size      int64
}

// Embed references third-party content embedded in a post.
type Embed struct {
	ID              string
	ServiceProvider string
	ContentID       string
}

// SegmentKind distinguishes normalized content segments.
type SegmentKind int

// Segment kinds.
const (
	SegmentText SegmentKind = iota + 1
	SegmentImage
)

// Segment is one normalized unit of post content, in document order.
type Segment struct {
	Kind SegmentKind
	// Text holds the markup for text segments.
	Text string
	// Raw is set for flat-text bodies, whose markup is embedded without a
	// paragraph wrapper.
	Raw bool
	// MediaID and Extension identify the local file for image segments.
	MediaID   string
	Extension string
}

// TextSegment builds a paragraph text segment.
func TextSegment(text string) Segment {
	return Segment{Kind: SegmentText, Text: text}
}

// ImageSegment builds an image segment.
func ImageSegment(mediaID, extension string) Segment {
	return Segment{Kind: SegmentImage, MediaID: mediaID, Extension: extension}
}

// LocalPath returns the document-relative path of an image segment.
func (s Segment) LocalPath() string {
	return "./" + MediaFileName(s.MediaID, s.Extension)
}

// MediaFileName returns the on-disk name of a downloaded asset. Path
// separators are replaced so the name always stays inside the post directory.
func MediaFileName(mediaID, extension string) string {
	name := titleReplacer.Replace(mediaID + "." + extension)
	if strings.Trim(name, ".") == "" {
		return strings.Repeat("_", len(name))
	}
	return name
}

// MediaResult reports the outcome of one media download.
type MediaResult struct {
	MediaID string
	URL     string
	Path    string
	Bytes   int64
	Err     error
}

// RenderRequest asks the rendering engine for a PDF (and optionally a
// screenshot) of either a local document or a live URL.
type RenderRequest struct {
	PostID string
	// Source is an absolute file path, or a URL when IsURL is set.
	Source string
	IsURL  bool
	// OutputBase is the artifact path without extension.
	OutputBase string
	Screenshot bool
}

// RenderResult carries the raw engine output.
type RenderResult struct {
	PDF   []byte
	Image []byte
}

// Artifacts lists the files produced for one post.
type Artifacts struct {
	Document string
	PDF      string
	Image    string
	PDFHash  string
}

// Record is a ledger row for an archived post.
type Record struct {
	PostID      string
	Title       string
	CreatorID   string
	Dir         string
	PDFPath     string
	PDFSHA256   string
	MediaTotal  int
	MediaFailed int
	RunID       string
	ArchivedAt  time.Time
}

// PostArchived is the notification payload published after a post is archived.
type PostArchived struct {
	RunID      string            `json:"run_id"`
	CreatorID  string            `json:"creator_id"`
	PostID     string            `json:"post_id"`
	Title      string            `json:"title"`
	Document   string            `json:"document"`
	PDF        string            `json:"pdf"`
	Image      string            `json:"image,omitempty"`
	Mirrored   map[string]string `json:"mirrored,omitempty"`
	ArchivedAt time.Time         `json:"archived_at"`
}
