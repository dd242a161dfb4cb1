// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package storage defines the storage contracts for convoy and the record
// file encoding shared by its file-backed stores.
//
// Four stores hold an archive:
//
//   - Catalog: accounts, sync state, attachments, pull history (storage/badger)
//   - ConversationStore: one record file per conversation (storage/files)
//   - EmbeddingStore: per-conversation segments and per-provider
//     consolidated files (storage/files)
//   - TextIndex: the full-text index (storage/sqlite)
//
// A conversation is persisted in that order: record file, embedding segment,
// index rows, catalog attachments, and finally its SyncState. A SyncState
// therefore implies the other stores hold the conversation.
//
// # File Format
//
// Record files start with a four byte magic and a version byte, followed by
// a mus-go encoded payload. Embedding files hold a record count and then the
// records.
//
// # Thread Safety
//
// All implementations must be thread-safe and support concurrent access
// from multiple goroutines.
package storage
