// Package crawler holds the domain model shared by the fetchers, extractor,
// frontier, scheduler, indexer and retrieval engine, together with the
// collaborator interfaces they are wired through.
package crawler
