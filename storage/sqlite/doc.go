// Package sqlite implements the full-text index on SQLite FTS5 using the
// pure Go modernc.org/sqlite driver.
//
// Each message of a conversation is one FTS row carrying the conversation
// title, so a title match ranks every message of that conversation. A
// companion conversations table backs listing and statistics.
package sqlite
