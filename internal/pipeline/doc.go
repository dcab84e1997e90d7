// Package pipeline defines the core types, interfaces, and error taxonomy of
// the crawl-to-embedding ingestion pipeline: crawl jobs, pages, chunks,
// embeddings, and the contracts every subsystem (lock manager, fetcher,
// extractor, chunker, embedder, stores, publisher) implements. Concrete
// implementations live in their own packages; this package must not import
// database drivers, HTTP clients, or other concrete dependencies.
package pipeline
