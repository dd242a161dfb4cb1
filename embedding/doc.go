// Package embedding turns conversation text into stored embedding records.
//
// A Chunker splits message content into overlapping, boundary-aware chunks.
// The Adapter sends chunk text to an ai.Embedder in batches, with retry,
// truncation, and normalization. The aggregation functions roll chunk vectors
// up into message vectors and message vectors into a conversation vector,
// each level as a mean followed by one L2 normalization.
//
// Builder composes the three for a whole conversation. It is used by the
// ingestion pipeline and by the re-embedder so both produce identical records.
package embedding
