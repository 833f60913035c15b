// Package feed decodes the creator feed JSON into archive types. It accepts
// both historical post body shapes and picks the variant from field presence.
package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JakeFAU/fanbox-archiver/internal/archive"
)

// Block type names used by the block-list body.
const (
	blockTypeParagraph = "p"
	blockTypeImage     = "image"
)

type wireRoot struct {
	Body *wirePage `json:"body"`
}

type wirePage struct {
	Items   *[]wireItem `json:"items"`
	NextURL *string     `json:"nextUrl"`
}

type wireItem struct {
	ID                json.RawMessage `json:"id"`
	Title             string          `json:"title"`
	PublishedDatetime string          `json:"publishedDatetime"`
	UpdatedDatetime   string          `json:"updatedDatetime"`
	CoverImageURL     *string         `json:"coverImageUrl"`
	Body              *wireBody       `json:"body"`
}

type wireBody struct {
	Text     *string                    `json:"text"`
	Blocks   *[]wireBlock               `json:"blocks"`
	ImageMap map[string]wireImage       `json:"imageMap"`
	FileMap  map[string]json.RawMessage `json:"fileMap"`
	EmbedMap map[string]wireEmbed       `json:"embedMap"`
}

type wireBlock struct {
	Type    string  `json:"type"`
	Text    *string `json:"text"`
	ImageID *string `json:"imageId"`
}

type wireImage struct {
	ID           string `json:"id"`
	Extension    string `json:"extension"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	OriginalURL  string `json:"originalUrl"`
	ThumbnailURL string `json:"thumbnailUrl"`
}

type wireFile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Extension string `json:"extension"`
	Size      int64  `json:"size"`
	URL       string `json:"url"`
}

type wireEmbed struct {
	ID              string `json:"id"`
	ServiceProvider string `json:"serviceProvider"`
	ContentID       string `json:"contentId"`
}

// Decoder implements archive.PageDecoder.
type Decoder struct{}

// NewDecoder returns a feed page decoder.
func NewDecoder() Decoder {
	return Decoder{}
}

// Decode implements archive.PageDecoder.
func (Decoder) Decode(raw []byte) (archive.FeedPage, error) {
	return Decode(raw)
}

// Decode parses one feed page. Any structural mismatch is reported as
// archive.ErrMalformedResponse.
func Decode(raw []byte) (archive.FeedPage, error) {
	var root wireRoot
	if err := json.Unmarshal(raw, &root); err != nil {
		return archive.FeedPage{}, fmt.Errorf("%w: %v", archive.ErrMalformedResponse, err)
	}
	if root.Body == nil {
		return archive.FeedPage{}, fmt.Errorf("%w: missing body object", archive.ErrMalformedResponse)
	}
	if root.Body.Items == nil {
		return archive.FeedPage{}, fmt.Errorf("%w: missing body.items", archive.ErrMalformedResponse)
	}

	items := *root.Body.Items
	page := archive.FeedPage{Items: make([]archive.Post, 0, len(items))}
	if root.Body.NextURL != nil {
		page.NextCursor = strings.TrimSpace(*root.Body.NextURL)
	}
	for i, item := range items {
		post, err := decodeItem(item)
		if err != nil {
			return archive.FeedPage{}, fmt.Errorf("%w: item %d: %v", archive.ErrMalformedResponse, i, err)
		}
		page.Items = append(page.Items, post)
	}
	return page, nil
}

func decodeItem(item wireItem) (archive.Post, error) {
	id, err := decodeID(item.ID)
	if err != nil {
		return archive.Post{}, err
	}
	post := archive.Post{
		ID:          id,
		Title:       item.Title,
		PublishedAt: item.PublishedDatetime,
		UpdatedAt:   item.UpdatedDatetime,
	}
	if item.CoverImageURL != nil {
		post.CoverImageURL = *item.CoverImageURL
	}
	if item.Body != nil {
		body := decodeBody(*item.Body)
		post.Body = &body
	}
	return post, nil
}

// decodeID accepts the id as a JSON string or number and requires it to be a
// non-negative integer.
func decodeID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", fmt.Errorf("missing id")
	}
	var id string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &id); err != nil {
			return "", fmt.Errorf("id: %w", err)
		}
	} else {
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", fmt.Errorf("id: %w", err)
		}
		id = n.String()
	}
	if _, err := archive.ParseID(id); err != nil {
		return "", err
	}
	return id, nil
}

func decodeBody(wb wireBody) archive.PostBody {
	body := archive.PostBody{
		Images: decodeImages(wb.ImageMap),
		Files:  decodeFiles(wb.FileMap),
		Embeds: decodeEmbeds(wb.EmbedMap),
	}
	// A body with neither field (an image-only post) is an empty text body;
	// its imageMap is still downloaded.
	body.Kind = archive.BodyText
	switch {
	case wb.Blocks != nil:
		body.Kind = archive.BodyBlocks
		body.Blocks = decodeBlocks(*wb.Blocks)
	case wb.Text != nil:
		body.Text = *wb.Text
	}
	return body
}

func decodeBlocks(in []wireBlock) []archive.Block {
	out := make([]archive.Block, 0, len(in))
	for _, wb := range in {
		block := archive.Block{Type: wb.Type}
		if wb.Text != nil {
			block.Text = *wb.Text
		}
		if wb.ImageID != nil {
			block.ImageID = *wb.ImageID
		}
		switch wb.Type {
		case blockTypeParagraph:
			block.Kind = archive.BlockParagraph
		case blockTypeImage:
			block.Kind = archive.BlockImage
		default:
			block.Kind = archive.BlockOther
		}
		out = append(out, block)
	}
	return out
}

func decodeImages(in map[string]wireImage) map[string]archive.MediaAsset {
	out := make(map[string]archive.MediaAsset, len(in))
	for key, img := range in {
		id := img.ID
		if id == "" {
			id = key
		}
		out[key] = archive.MediaAsset{
			ID:           id,
			Extension:    img.Extension,
			OriginalURL:  img.OriginalURL,
			ThumbnailURL: img.ThumbnailURL,
			Width:        img.Width,
			Height:       img.Height,
		}
	}
	return out
}

// decodeFiles tolerates entries that are not objects; those keep only their key.
func decodeFiles(in map[string]json.RawMessage) map[string]archive.FileAsset {
	out := make(map[string]archive.FileAsset, len(in))
	for key, raw := range in {
		var wf wireFile
		if err := json.Unmarshal(raw, &wf); err != nil || wf.ID == "" {
			wf.ID = key
		}
		out[key] = archive.FileAsset{
			ID:        wf.ID,
			Name:      wf.Name,
			Extension: wf.Extension,
			URL:       wf.URL,
			Size:      wf.Size,
		}
	}
	return out
}

func decodeEmbeds(in map[string]wireEmbed) map[string]archive.Embed {
	out := make(map[string]archive.Embed, len(in))
	for key, we := range in {
		id := we.ID
		if id == "" {
			id = key
		}
		out[key] = archive.Embed{ID: id, ServiceProvider: we.ServiceProvider, ContentID: we.ContentID}
	}
	return out
}
