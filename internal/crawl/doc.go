// Package crawl walks a creator's feed page by page and archives each post:
// normalize, download media, assemble the document, render, then mirror,
// record and notify. The walk is strictly sequential; only the media
// downloads of a single post run concurrently.
package crawl
