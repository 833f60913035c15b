// Package content turns a decoded post body into the ordered segment list the
// document assembler renders.
package content

import (
	"fmt"

	"github.com/JakeFAU/fanbox-archiver/internal/archive"
)

// Normalize converts body into ordered segments. Flat-text bodies become a
// single raw segment; block bodies keep their order, and every referenced image
// must exist in the body's image map.
func Normalize(body archive.PostBody) ([]archive.Segment, error) {
	switch body.Kind {
	case archive.BodyText:
		return []archive.Segment{{Kind: archive.SegmentText, Text: body.Text, Raw: true}}, nil
	case archive.BodyBlocks:
		return normalizeBlocks(body.Blocks, body.Images)
	default:
		return nil, fmt.Errorf("unknown body kind %d", body.Kind)
	}
}

func normalizeBlocks(blocks []archive.Block, images map[string]archive.MediaAsset) ([]archive.Segment, error) {
	segments := make([]archive.Segment, 0, len(blocks))
	for i, block := range blocks {
		if block.Text != "" {
			segments = append(segments, archive.TextSegment(block.Text))
		}
		if block.ImageID == "" {
			continue
		}
		asset, ok := images[block.ImageID]
		if !ok {
			return nil, fmt.Errorf("block %d image %q: %w", i, block.ImageID, archive.ErrMissingMediaReference)
		}
		segments = append(segments, archive.ImageSegment(block.ImageID, asset.Extension))
	}
	return segments, nil
}
