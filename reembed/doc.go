// Package reembed rebuilds the embedding segments of stored conversations
// from their conversation records, typically after the embedding model or
// the chunking parameters changed.
//
// Conversations are read in batches, embedded concurrently on a worker pool,
// and written back as fresh segments that supersede consolidated rows until
// the next compaction.
package reembed
