// Package archive defines the data model, collaborator interfaces, and error
// taxonomy shared by the fanbox archiver: feed pages and posts, normalized
// content segments, render requests, ledger records, and the crawl boundary.
package archive
