// Package ingestion provides the pull pipeline that turns provider
// conversations into persisted, searchable records.
//
// A Pipeline runs three stages connected by bounded channels:
//   - Fetch lists each account's conversations and fetches them
//   - Media downloads the attachments they reference
//   - Embed chunks and embeds the conversation, then persists it
//
// Each stage is a fixed-size worker pool. A full channel blocks only the
// sending worker, so a slow embedder throttles fetching instead of growing
// memory. Per-conversation failures are recorded in the Result and do not
// stop sibling conversations; a storage failure halts the whole run.
package ingestion
